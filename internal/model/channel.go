package model

import (
	"time"
)

// PaymentChannel 支付渠道配置表
// 由后台管理维护；结算链路只读取验签所需的密钥
type PaymentChannel struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Method     string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"method"` // wechat / epay / xunhupay
	MerchantID string    `gorm:"type:varchar(64)" json:"merchant_id"`
	Secret     string    `gorm:"type:varchar(128)" json:"-"` // 验签密钥，不下发
	Enabled    bool      `gorm:"not null;default:true" json:"enabled"`
	ConfigJSON string    `gorm:"type:text" json:"config_json"` // 渠道专有配置（网关地址等）
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymentChannel) TableName() string {
	return "payment_channel"
}

const (
	NotifyVerdictSettled    = "SETTLED"
	NotifyVerdictReplayed   = "REPLAYED"
	NotifyVerdictRejected   = "REJECTED"
	NotifyVerdictBadSign    = "BAD_SIGN"
	NotifyVerdictBadPayload = "BAD_PAYLOAD"
	NotifyVerdictError      = "ERROR"
)

// NotifyLog 支付回调审计表
// 每个入站通知原文落库一条，便于对账与安全排查；只追加，不修改
type NotifyLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Method    string    `gorm:"type:varchar(32);index;not null" json:"method"`
	OrderNo   string    `gorm:"type:varchar(64);index" json:"order_no"`
	Payload   string    `gorm:"type:text;not null" json:"payload"`
	Verdict   string    `gorm:"type:varchar(20);not null" json:"verdict"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (NotifyLog) TableName() string {
	return "notify_log"
}
