package model

import (
	"time"
)

const (
	OrderStatusPending   = "PENDING"
	OrderStatusPaid      = "PAID"
	OrderStatusCompleted = "COMPLETED"
	OrderStatusCancelled = "CANCELLED"
)

var ValidStatusTransitions = map[string][]string{
	OrderStatusPending: {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:    {OrderStatusCompleted},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Order 商城订单表
// 金额创建后不可变；状态只能沿 PENDING→PAID→COMPLETED 或 PENDING→CANCELLED 前进。
// 已结算订单（PAID/COMPLETED）再次收到支付通知必须是幂等空操作
type Order struct {
	ID         int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo    string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"` // 商户订单号，下单时生成
	UserID     int64      `gorm:"index;not null" json:"user_id"`
	ProductID  int64      `gorm:"index;not null" json:"product_id"`
	Amount     int64      `gorm:"not null" json:"amount"` // 应付金额（分）
	Status     string     `gorm:"type:varchar(20);index;not null" json:"status"`
	PayMethod  string     `gorm:"type:varchar(32)" json:"pay_method"`   // 支付渠道标识
	ProductKey string     `gorm:"type:varchar(128)" json:"product_key"` // 结算时分配的卡密，未分配为空
	Remark     string     `gorm:"type:varchar(256)" json:"remark"`
	ExpiredAt  time.Time  `gorm:"not null" json:"expired_at"`
	PaidAt     *time.Time `json:"paid_at"`
	CreatedAt  time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string {
	return "shop_order"
}

// IsSettled 订单是否已结算（幂等门的判定依据）
func (o *Order) IsSettled() bool {
	return o.Status == OrderStatusPaid || o.Status == OrderStatusCompleted
}
