package model

import (
	"time"
)

const (
	MembershipTypeMonthly = "MONTHLY"
	MembershipTypeYearly  = "YEARLY"
	MembershipTypeCustom  = "CUSTOM"
)

// MembershipTypeForDays 按商品时长归类会员类型
func MembershipTypeForDays(days int) string {
	switch {
	case days >= 365:
		return MembershipTypeYearly
	case days >= 28 && days <= 31:
		return MembershipTypeMonthly
	default:
		return MembershipTypeCustom
	}
}

// Membership 会员表，每个用户至多一条记录
//
// 续费规则：在现有 EndAt 基础上顺延（叠加），而不是从当前时间重算，
// 即使会员已过期也一样顺延并重新激活
type Membership struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	Type      string    `gorm:"type:varchar(20);not null" json:"type"`
	StartAt   time.Time `gorm:"not null" json:"start_at"`
	EndAt     time.Time `gorm:"not null" json:"end_at"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Membership) TableName() string {
	return "membership"
}
