package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"blogshop/internal/config"
	"blogshop/internal/model"
	"blogshop/internal/repository"

	"gorm.io/gorm"
)

var ErrChannelDisabled = errors.New("支付渠道未启用")

// ResolvedChannel 解析后的渠道配置
type ResolvedChannel struct {
	Method     string
	MerchantID string
	Secret     string
	GatewayURL string
}

// ChannelService 支付渠道配置管理
//
// 解析顺序：数据库渠道记录 → 配置文件兜底 → 环境变量覆盖密钥。
// 环境变量形如 BLOGSHOP_WECHAT_SECRET，便于不把密钥写进配置文件
type ChannelService struct {
	cfg         *config.Config
	channelRepo *repository.ChannelRepository
}

func NewChannelService(db *gorm.DB, cfg *config.Config) *ChannelService {
	return &ChannelService{
		cfg:         cfg,
		channelRepo: repository.NewChannelRepository(db),
	}
}

// Resolve 解析某个渠道的完整配置，渠道不存在或未启用时报错
func (s *ChannelService) Resolve(ctx context.Context, method string) (*ResolvedChannel, error) {
	resolved := &ResolvedChannel{Method: method}

	ch, err := s.channelRepo.GetByMethod(ctx, method)
	if err != nil {
		return nil, fmt.Errorf("查询渠道配置失败: %w", err)
	}

	if ch != nil {
		if !ch.Enabled {
			return nil, ErrChannelDisabled
		}
		resolved.MerchantID = ch.MerchantID
		resolved.Secret = ch.Secret
		if ch.ConfigJSON != "" {
			var extra struct {
				GatewayURL string `json:"gateway_url"`
			}
			if err := json.Unmarshal([]byte(ch.ConfigJSON), &extra); err != nil {
				return nil, fmt.Errorf("解析渠道配置失败: %w", err)
			}
			resolved.GatewayURL = extra.GatewayURL
		}
	} else {
		def, ok := s.cfg.Payment.Channels[method]
		if !ok || !def.Enabled {
			return nil, ErrChannelDisabled
		}
		resolved.MerchantID = def.MerchantID
		resolved.Secret = def.Secret
		resolved.GatewayURL = def.GatewayURL
	}

	if resolved.GatewayURL == "" {
		if def, ok := s.cfg.Payment.Channels[method]; ok {
			resolved.GatewayURL = def.GatewayURL
		}
	}

	// 环境变量优先级最高
	if env := os.Getenv("BLOGSHOP_" + strings.ToUpper(method) + "_SECRET"); env != "" {
		resolved.Secret = env
	}

	if resolved.Secret == "" {
		return nil, fmt.Errorf("渠道 %s 未配置密钥", method)
	}
	return resolved, nil
}

// Secret 返回某渠道的验签密钥
func (s *ChannelService) Secret(ctx context.Context, method string) (string, error) {
	resolved, err := s.Resolve(ctx, method)
	if err != nil {
		return "", err
	}
	return resolved.Secret, nil
}

// Upsert 管理端创建或更新渠道配置
func (s *ChannelService) Upsert(ctx context.Context, ch *model.PaymentChannel) error {
	return s.channelRepo.Upsert(ctx, ch)
}

// List 管理端查询全部渠道配置
func (s *ChannelService) List(ctx context.Context) ([]*model.PaymentChannel, error) {
	return s.channelRepo.List(ctx)
}
