package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// VoucherStatus 兑换码生命周期状态
type VoucherStatus string

const (
	VoucherStatusIssued    VoucherStatus = "issued"    // 已显示给用户
	VoucherStatusConfirmed VoucherStatus = "confirmed" // 用户按键确认已扫码
	VoucherStatusTimeout   VoucherStatus = "timeout"   // 等待确认超时
	VoucherStatusFailed    VoucherStatus = "failed"    // 生成失败，未显示
)

// CoinEvent 投币流水
type CoinEvent struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`

	SessionID    string `gorm:"type:varchar(36);index" json:"session_id"` // 所属取款会话
	Pulses       uint   `gorm:"not null" json:"pulses"`
	ValueCents   uint64 `gorm:"not null;default:0" json:"value_cents"`
	BalanceCents uint64 `gorm:"not null;default:0" json:"balance_cents"` // 入账后的余额
	Accepted     bool   `gorm:"index;not null" json:"accepted"`          // 脉冲数在有效范围内
}

// TableName 指定表名
func (CoinEvent) TableName() string {
	return "coin_events"
}

// VoucherEvent 兑换码流水，不保存PIN、nonce和兑换码文本
type VoucherEvent struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UUID        string        `gorm:"type:varchar(36);uniqueIndex;not null" json:"uuid"`
	SessionID   string        `gorm:"type:varchar(36);index" json:"session_id"`
	AmountCents uint64        `gorm:"not null" json:"amount_cents"`
	Status      VoucherStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	Mode        string        `gorm:"type:varchar(16)" json:"mode"`
	ErrorMsg    string        `gorm:"type:text" json:"error_msg,omitempty"`
	ClosedAt    *time.Time    `json:"closed_at,omitempty"`
}

// TableName 指定表名
func (VoucherEvent) TableName() string {
	return "voucher_events"
}

// BeforeCreate 创建前的钩子
func (v *VoucherEvent) BeforeCreate(tx *gorm.DB) error {
	if v.UUID == "" {
		v.UUID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	return nil
}

// JournalSummary 流水汇总
type JournalSummary struct {
	CoinsAccepted    int64  `json:"coins_accepted"`
	CoinsIgnored     int64  `json:"coins_ignored"`
	DepositedCents   uint64 `json:"deposited_cents"`
	VouchersIssued   int64  `json:"vouchers_issued"`
	VouchersFailed   int64  `json:"vouchers_failed"`
	WithdrawnCents   uint64 `json:"withdrawn_cents"`
	VouchersTimedOut int64  `json:"vouchers_timed_out"`
}

// AllModels 需要迁移的模型
func AllModels() []interface{} {
	return []interface{}{
		&CoinEvent{},
		&VoucherEvent{},
	}
}
