package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"blogshop/internal/config"
	"blogshop/internal/model"
	"blogshop/internal/payment"
	"blogshop/internal/repository"

	"gorm.io/gorm"
)

// SettleCode 结算结果分类，决定回调应答给渠道什么
type SettleCode int

const (
	SettleOK             SettleCode = iota // 本次结算生效
	SettleAlready                          // 订单已结算，重放通知，幂等空操作
	SettleOrderNotFound                    // 本地查不到该订单号
	SettleOrderClosed                      // 订单已取消/关闭，迟到的支付需人工退款
	SettleAmountMismatch                   // 实付金额与订单金额不一致
)

// SettleResult 一次结算的结论
type SettleResult struct {
	Code        SettleCode
	OrderNo     string
	KeyAssigned string // 本次分配的卡密，未发卡为空
	KeyMissing  bool   // 卡密商品结算成功但卡池已空，需人工补发
}

// Accepted 渠道侧是否应确认收到（停止重试）
//
// 已结算的重放同样确认，否则渠道会无限重试
func (r *SettleResult) Accepted() bool {
	return r.Code == SettleOK || r.Code == SettleAlready
}

// 结算引擎的存储依赖，按用到的方法收窄成接口，便于替换
type settlementOrderStore interface {
	GetByOrderNoForUpdate(ctx context.Context, tx *gorm.DB, orderNo string) (*model.Order, error)
	MarkPaid(ctx context.Context, tx *gorm.DB, orderNo string, upd *repository.PaidUpdate) error
}

type settlementProductStore interface {
	GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Product, error)
	ClaimKey(ctx context.Context, tx *gorm.DB, productID int64, orderNo string, userID int64) (*model.ProductKey, error)
	DecrementStock(ctx context.Context, tx *gorm.DB, productID int64) error
}

type settlementMembershipStore interface {
	GetByUserIDForUpdate(ctx context.Context, tx *gorm.DB, userID int64) (*model.Membership, error)
	Create(ctx context.Context, tx *gorm.DB, m *model.Membership) error
	Extend(ctx context.Context, tx *gorm.DB, userID int64, memberType string, endAt time.Time) error
}

type settlementOutboxStore interface {
	Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error
}

// SettlementService 订单结算引擎
//
// 负责支付事件触发的订单状态流转，是 PENDING→PAID 的唯一写入方。
// 所有步骤在一个数据库事务内完成：行锁定单、幂等检查、金额校验、
// 发卡/延长会员、标记已支付、写结算事件发件箱
type SettlementService struct {
	cfg            *config.Config
	transact       func(ctx context.Context, fn func(tx *gorm.DB) error) error
	orderRepo      settlementOrderStore
	productRepo    settlementProductStore
	membershipRepo settlementMembershipStore
	outboxRepo     settlementOutboxStore
}

func NewSettlementService(db *gorm.DB, cfg *config.Config) *SettlementService {
	return &SettlementService{
		cfg: cfg,
		transact: func(ctx context.Context, fn func(tx *gorm.DB) error) error {
			return db.WithContext(ctx).Transaction(fn)
		},
		orderRepo:      repository.NewOrderRepository(db),
		productRepo:    repository.NewProductRepository(db),
		membershipRepo: repository.NewMembershipRepository(db),
		outboxRepo:     repository.NewOutboxRepository(db),
	}
}

// Settle 根据已验签的支付通知结算订单
//
// 返回 error 表示结算过程出错（数据库故障、锁超时等），应答渠道失败让其重试；
// 返回 SettleResult 表示得出了确定结论，按 Code 分类应答
func (s *SettlementService) Settle(ctx context.Context, n *payment.Notification) (*SettleResult, error) {
	result := &SettleResult{OrderNo: n.OrderNo}

	err := s.transact(ctx, func(tx *gorm.DB) error {
		// 行锁读取订单，并发到达的同一订单通知在这里排队
		order, err := s.orderRepo.GetByOrderNoForUpdate(ctx, tx, n.OrderNo)
		if err != nil {
			if errors.Is(err, repository.ErrOrderNotFound) {
				result.Code = SettleOrderNotFound
				return nil
			}
			return fmt.Errorf("查询订单失败: %w", err)
		}

		// 幂等门：已结算订单的重放通知不做任何写入
		if order.IsSettled() {
			result.Code = SettleAlready
			return nil
		}

		// 超时任务先一步关了单，钱却已经收到：明确拒绝并留痕，走人工退款
		if order.Status == model.OrderStatusCancelled {
			result.Code = SettleOrderClosed
			log.Printf("已关闭订单收到支付: orderNo=%s, 渠道=%s, tradeNo=%s, 需人工处理退款",
				n.OrderNo, n.Method, n.TradeNo)
			return nil
		}

		// 金额校验：实付金额必须与订单金额一致，多付少付都拒绝
		if n.Amount != order.Amount {
			result.Code = SettleAmountMismatch
			log.Printf("结算金额不一致: orderNo=%s, 订单金额=%d, 实付金额=%d, 渠道=%s",
				n.OrderNo, order.Amount, n.Amount, n.Method)
			return nil
		}

		product, err := s.productRepo.GetByID(ctx, tx, order.ProductID)
		if err != nil {
			return fmt.Errorf("查询商品失败: %w", err)
		}

		now := time.Now()
		upd := &repository.PaidUpdate{
			PayMethod: n.Method,
			Remark:    fmt.Sprintf("渠道交易号: %s", n.TradeNo),
			PaidAt:    now,
		}

		// 卡密商品：原子认领一张可用卡密并扣减库存
		if product.Type == model.ProductTypeSerialKey && product.Stock != model.StockUnlimited {
			key, err := s.productRepo.ClaimKey(ctx, tx, product.ID, order.OrderNo, order.UserID)
			if err != nil {
				if errors.Is(err, repository.ErrNoKeyAvailable) {
					// 卡池已空不阻断结算：钱已收到，订单照常置为已支付，
					// 缺卡由后台任务上报人工补发
					result.KeyMissing = true
					log.Printf("结算缺卡: orderNo=%s, productID=%d", order.OrderNo, product.ID)
				} else {
					return fmt.Errorf("分配卡密失败: %w", err)
				}
			} else {
				upd.ProductKey = key.Key
				result.KeyAssigned = key.Key
				if err := s.productRepo.DecrementStock(ctx, tx, product.ID); err != nil {
					return fmt.Errorf("扣减库存失败: %w", err)
				}
			}
		}

		// 会员商品：延长或创建会员有效期
		if product.Type == model.ProductTypeMembership && product.MembershipDays > 0 {
			if err := s.grantMembership(ctx, tx, order.UserID, product.MembershipDays, now); err != nil {
				return fmt.Errorf("延长会员失败: %w", err)
			}
		}

		if err := s.orderRepo.MarkPaid(ctx, tx, order.OrderNo, upd); err != nil {
			return fmt.Errorf("更新订单状态失败: %w", err)
		}

		msgPayload := map[string]interface{}{
			"order_no":   order.OrderNo,
			"user_id":    order.UserID,
			"product_id": order.ProductID,
			"amount":     order.Amount,
			"pay_method": n.Method,
			"trade_no":   n.TradeNo,
			"paid_at":    now.Format(time.RFC3339),
		}
		payloadBytes, _ := json.Marshal(msgPayload)

		outboxMsg := &model.OutboxMessage{
			MessageKey: order.OrderNo,
			Topic:      s.cfg.Kafka.Topic.SettleResult,
			Payload:    string(payloadBytes),
			Status:     model.OutboxStatusPending,
		}
		if err := s.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
			return fmt.Errorf("写入结算事件失败: %w", err)
		}

		result.Code = SettleOK
		return nil
	})

	if err != nil {
		return nil, err
	}

	if result.Code == SettleOK {
		log.Printf("结算成功: orderNo=%s, 渠道=%s, tradeNo=%s", n.OrderNo, n.Method, n.TradeNo)
	}
	return result, nil
}

// grantMembership 在事务内创建或顺延会员
func (s *SettlementService) grantMembership(ctx context.Context, tx *gorm.DB, userID int64, days int, now time.Time) error {
	existing, err := s.membershipRepo.GetByUserIDForUpdate(ctx, tx, userID)
	if err != nil {
		return err
	}

	if existing == nil {
		m := &model.Membership{
			UserID:  userID,
			Type:    model.MembershipTypeForDays(days),
			StartAt: now,
			EndAt:   now.AddDate(0, 0, days),
			Active:  true,
		}
		return s.membershipRepo.Create(ctx, tx, m)
	}

	// 叠加续费：从现有到期日顺延，过期了也一样，同时重新激活
	newEnd := ExtendMembershipEnd(existing.EndAt, days)
	return s.membershipRepo.Extend(ctx, tx, userID, model.MembershipTypeForDays(days), newEnd)
}

// ExtendMembershipEnd 计算续费后的到期日：在现有到期日上顺延指定天数
func ExtendMembershipEnd(currentEnd time.Time, days int) time.Time {
	return currentEnd.AddDate(0, 0, days)
}
