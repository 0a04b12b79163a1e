package repository

import (
	"context"
	"errors"

	"blogshop/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrChannelNotFound = errors.New("支付渠道未配置")

type ChannelRepository struct {
	db *gorm.DB
}

func NewChannelRepository(db *gorm.DB) *ChannelRepository {
	return &ChannelRepository{db: db}
}

func (r *ChannelRepository) GetByMethod(ctx context.Context, method string) (*model.PaymentChannel, error) {
	var ch model.PaymentChannel
	err := r.db.WithContext(ctx).Where("method = ?", method).First(&ch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ch, nil
}

// Upsert 按渠道标识覆盖写入配置
func (r *ChannelRepository) Upsert(ctx context.Context, ch *model.PaymentChannel) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "method"}},
			DoUpdates: clause.AssignmentColumns([]string{"merchant_id", "secret", "enabled", "config_json"}),
		}).
		Create(ch).Error
}

func (r *ChannelRepository) List(ctx context.Context) ([]*model.PaymentChannel, error) {
	var channels []*model.PaymentChannel
	err := r.db.WithContext(ctx).Order("method").Find(&channels).Error
	return channels, err
}

// NotifyLogRepository 回调审计流水，只追加
type NotifyLogRepository struct {
	db *gorm.DB
}

func NewNotifyLogRepository(db *gorm.DB) *NotifyLogRepository {
	return &NotifyLogRepository{db: db}
}

func (r *NotifyLogRepository) Create(ctx context.Context, lg *model.NotifyLog) error {
	return r.db.WithContext(ctx).Create(lg).Error
}

func (r *NotifyLogRepository) ListByOrderNo(ctx context.Context, orderNo string) ([]*model.NotifyLog, error) {
	var logs []*model.NotifyLog
	err := r.db.WithContext(ctx).
		Where("order_no = ?", orderNo).
		Order("created_at").
		Find(&logs).Error
	return logs, err
}
