package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"blogshop/internal/config"
	"blogshop/internal/infrastructure/lock"
	"blogshop/internal/model"
	"blogshop/internal/payment"
	"blogshop/internal/repository"
	"blogshop/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrProductDisabled = errors.New("商品已下架")
	ErrOutOfStock      = errors.New("商品已售罄")
)

// 下单流程的依赖，收窄成接口便于替换
type orderStore interface {
	Create(ctx context.Context, tx *gorm.DB, order *model.Order) error
	GetByOrderNo(ctx context.Context, orderNo string) (*model.Order, error)
	GetPendingByUserProduct(ctx context.Context, userID, productID int64) (*model.Order, error)
	UpdateStatus(ctx context.Context, tx *gorm.DB, orderNo string, fromStatus, toStatus string) error
	GetExpiredOrders(ctx context.Context, limit int) ([]*model.Order, error)
	ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.Order, int64, error)
	List(ctx context.Context, status string, page, pageSize int) ([]*model.Order, int64, error)
}

type productReader interface {
	GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Product, error)
}

type channelResolver interface {
	Resolve(ctx context.Context, method string) (*ResolvedChannel, error)
}

// userLocker 按用户维度串行化下单，返回释放函数
type userLocker interface {
	LockUser(ctx context.Context, userID int64) (func(), error)
}

type redisUserLocker struct {
	client *redis.Client
}

func (l *redisUserLocker) LockUser(ctx context.Context, userID int64) (func(), error) {
	orderLock := lock.NewOrderLock(l.client, userID, uuid.NewString())
	if err := orderLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, err
	}
	return func() { orderLock.Unlock(ctx) }, nil
}

// OrderService 下单与订单查询
type OrderService struct {
	cfg         *config.Config
	gateway     payment.Gateway
	channels    channelResolver
	locker      userLocker
	orderRepo   orderStore
	productRepo productReader
}

func NewOrderService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, gateway payment.Gateway, channelSvc *ChannelService) *OrderService {
	return &OrderService{
		cfg:         cfg,
		gateway:     gateway,
		channels:    channelSvc,
		locker:      &redisUserLocker{client: redisClient},
		orderRepo:   repository.NewOrderRepository(db),
		productRepo: repository.NewProductRepository(db),
	}
}

type CreateOrderRequest struct {
	UserID    int64  `json:"user_id" binding:"required"`
	ProductID int64  `json:"product_id" binding:"required"`
	PayMethod string `json:"pay_method" binding:"required,oneof=wechat epay xunhupay"`
	ClientIP  string `json:"-"`
}

type CreateOrderResponse struct {
	OrderNo   string `json:"order_no"`
	Amount    int64  `json:"amount"`
	PayURL    string `json:"pay_url,omitempty"`
	QRCode    string `json:"qr_code,omitempty"`
	ExpiredAt string `json:"expired_at"`
}

// CreateOrder 创建订单并向支付渠道下单
//
// 同一用户的下单请求用分布式锁串行化。锁前先查一次待支付订单快速返回，
// 拿到锁后必须再查一次：两个重复提交可能都越过第一次检查，
// 后进锁的那个要在锁内发现先进者刚创建的订单并复用它
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	product, err := s.productRepo.GetByID(ctx, nil, req.ProductID)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return nil, errors.New("商品不存在")
		}
		return nil, fmt.Errorf("查询商品失败: %w", err)
	}
	if !product.Enabled {
		return nil, ErrProductDisabled
	}
	if product.Type == model.ProductTypeSerialKey && product.Stock == 0 {
		return nil, ErrOutOfStock
	}

	channel, err := s.channels.Resolve(ctx, req.PayMethod)
	if err != nil {
		return nil, err
	}

	// 锁外快速路径：已有未过期的待支付订单直接续用
	existing, err := s.orderRepo.GetPendingByUserProduct(ctx, req.UserID, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("查询订单失败: %w", err)
	}
	if existing != nil {
		return s.resumeOrder(ctx, existing, product, channel, req.ClientIP)
	}

	unlock, err := s.locker.LockUser(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer unlock()

	// 锁内复查，重复提交在这里被拦下
	existing, err = s.orderRepo.GetPendingByUserProduct(ctx, req.UserID, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("查询订单失败: %w", err)
	}
	if existing != nil {
		log.Printf("重复下单复用订单: orderNo=%s, userID=%d, productID=%d",
			existing.OrderNo, req.UserID, req.ProductID)
		return s.resumeOrder(ctx, existing, product, channel, req.ClientIP)
	}

	orderNo := idgen.GenerateOrderNo()
	expiredAt := time.Now().Add(time.Duration(s.cfg.Business.OrderTimeoutMinutes) * time.Minute)

	order := &model.Order{
		OrderNo:   orderNo,
		UserID:    req.UserID,
		ProductID: product.ID,
		Amount:    product.Price,
		Status:    model.OrderStatusPending,
		PayMethod: req.PayMethod,
		ExpiredAt: expiredAt,
	}
	if err := s.orderRepo.Create(ctx, nil, order); err != nil {
		return nil, fmt.Errorf("创建订单失败: %w", err)
	}

	resp, err := s.requestPayment(ctx, order, product, channel, req.ClientIP)
	if err != nil {
		return nil, err
	}

	log.Printf("创建订单: orderNo=%s, userID=%d, productID=%d, amount=%d, 渠道=%s",
		orderNo, req.UserID, product.ID, product.Price, req.PayMethod)
	return resp, nil
}

// resumeOrder 复用已存在的待支付订单，按其原渠道重新发起支付
func (s *OrderService) resumeOrder(ctx context.Context, order *model.Order, product *model.Product, channel *ResolvedChannel, clientIP string) (*CreateOrderResponse, error) {
	if order.PayMethod != channel.Method {
		resolved, err := s.channels.Resolve(ctx, order.PayMethod)
		if err != nil {
			return nil, err
		}
		channel = resolved
	}
	return s.requestPayment(ctx, order, product, channel, clientIP)
}

// requestPayment 向支付渠道下单并组装应答
func (s *OrderService) requestPayment(ctx context.Context, order *model.Order, product *model.Product, channel *ResolvedChannel, clientIP string) (*CreateOrderResponse, error) {
	payResult, err := s.gateway.CreatePayment(ctx, &payment.CreateRequest{
		Method:     order.PayMethod,
		OrderNo:    order.OrderNo,
		Subject:    product.Name,
		Amount:     order.Amount,
		ClientIP:   clientIP,
		NotifyURL:  fmt.Sprintf("%s/notify/%s", s.cfg.Payment.NotifyBaseURL, order.PayMethod),
		ReturnURL:  s.cfg.Payment.NotifyBaseURL,
		MerchantID: channel.MerchantID,
		Secret:     channel.Secret,
		GatewayURL: channel.GatewayURL,
	})
	if err != nil {
		// 渠道下单失败不回滚本地订单，留给超时任务关单
		log.Printf("渠道下单失败: orderNo=%s, 渠道=%s, err=%v", order.OrderNo, order.PayMethod, err)
		return nil, fmt.Errorf("支付渠道下单失败: %w", err)
	}

	return &CreateOrderResponse{
		OrderNo:   order.OrderNo,
		Amount:    order.Amount,
		PayURL:    payResult.PayURL,
		QRCode:    payResult.QRCode,
		ExpiredAt: order.ExpiredAt.Format(time.RFC3339),
	}, nil
}

// GetOrder 查询单笔订单
func (s *OrderService) GetOrder(ctx context.Context, orderNo string) (*model.Order, error) {
	return s.orderRepo.GetByOrderNo(ctx, orderNo)
}

// ListUserOrders 查询用户订单（分页）
func (s *OrderService) ListUserOrders(ctx context.Context, userID int64, page, pageSize int) ([]*model.Order, int64, error) {
	return s.orderRepo.ListByUserID(ctx, userID, page, pageSize)
}

// ListOrders 管理端订单列表
func (s *OrderService) ListOrders(ctx context.Context, status string, page, pageSize int) ([]*model.Order, int64, error) {
	return s.orderRepo.List(ctx, status, page, pageSize)
}

// CancelOrder 取消未支付订单
func (s *OrderService) CancelOrder(ctx context.Context, orderNo string) error {
	return s.orderRepo.UpdateStatus(ctx, nil, orderNo, model.OrderStatusPending, model.OrderStatusCancelled)
}

// CompleteOrder 管理端将已支付订单标记为已完成（发货确认）
func (s *OrderService) CompleteOrder(ctx context.Context, orderNo string) error {
	return s.orderRepo.UpdateStatus(ctx, nil, orderNo, model.OrderStatusPaid, model.OrderStatusCompleted)
}

// CloseExpiredOrders 关闭超时未支付的订单，返回关闭数量
func (s *OrderService) CloseExpiredOrders(ctx context.Context, limit int) (int, error) {
	orders, err := s.orderRepo.GetExpiredOrders(ctx, limit)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, order := range orders {
		err := s.orderRepo.UpdateStatus(ctx, nil, order.OrderNo, model.OrderStatusPending, model.OrderStatusCancelled)
		if err != nil {
			// 并发结算赢了状态竞争属正常情况，跳过即可
			if errors.Is(err, repository.ErrOrderStatusInvalid) {
				continue
			}
			log.Printf("关闭超时订单失败: orderNo=%s, err=%v", order.OrderNo, err)
			continue
		}
		closed++
	}
	return closed, nil
}
