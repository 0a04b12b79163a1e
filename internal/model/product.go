package model

import (
	"time"
)

const (
	ProductTypeSerialKey  = "SERIAL_KEY"  // 卡密商品，结算时从卡密池发货
	ProductTypeMembership = "MEMBERSHIP"  // 会员商品，结算时延长会员有效期
	ProductTypeVirtual    = "VIRTUAL"     // 其他虚拟商品，无需发货动作
)

// StockUnlimited 库存哨兵值：不限量 / 不走卡密发货
const StockUnlimited = -1

// Product 商品表
type Product struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name           string    `gorm:"type:varchar(128);not null" json:"name"`
	Price          int64     `gorm:"not null" json:"price"` // 单价（分）
	Type           string    `gorm:"type:varchar(20);not null" json:"type"`
	Stock          int       `gorm:"not null;default:-1" json:"stock"`
	MembershipDays int       `gorm:"not null;default:0" json:"membership_days"` // 会员商品的时长（天）
	Enabled        bool      `gorm:"not null;default:true" json:"enabled"`
	Remark         string    `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string {
	return "product"
}

const (
	KeyStatusAvailable = "AVAILABLE"
	KeyStatusSold      = "SOLD"
	KeyStatusUsed      = "USED"
)

// ProductKey 卡密表
// AVAILABLE→SOLD 只允许发生一次，且必须同时绑定订单和用户，
// 靠条件更新 + RowsAffected 判定保证并发下不会一密两卖
type ProductKey struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID int64      `gorm:"index;not null" json:"product_id"`
	Key       string     `gorm:"type:varchar(128);uniqueIndex;not null" json:"key"`
	Status    string     `gorm:"type:varchar(20);index;not null;default:AVAILABLE" json:"status"`
	OrderNo   string     `gorm:"type:varchar(64);index" json:"order_no"` // 售出后绑定的订单号
	UserID    int64      `gorm:"index" json:"user_id"`                   // 售出后绑定的用户
	ExpireAt  *time.Time `json:"expire_at"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ProductKey) TableName() string {
	return "product_key"
}
