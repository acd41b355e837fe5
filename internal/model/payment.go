package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentStatusPending    = "pending"
	PaymentStatusSuccessful = "successful"
	PaymentStatusFailed     = "failed"
	PaymentStatusCancelled  = "cancelled"
	PaymentStatusError      = "error"
)

// IsTerminalStatus 终态之后不允许再变更
func IsTerminalStatus(status string) bool {
	switch status {
	case PaymentStatusSuccessful, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusError:
		return true
	}
	return false
}

// PaymentAttempt 一次支付尝试，Reference 是幂等键
type PaymentAttempt struct {
	ID          int64             `gorm:"primaryKey" json:"id"`
	Reference   string            `gorm:"size:100;uniqueIndex;not null" json:"reference"`
	UserID      int64             `gorm:"not null;index" json:"user_id"`
	UserEmail   string            `gorm:"size:100" json:"user_email"`
	UserName    string            `gorm:"size:100" json:"user_name"`
	PlanID      string            `gorm:"size:50;not null" json:"plan_id"`
	Amount      decimal.Decimal   `gorm:"type:decimal(12,2)" json:"amount"`
	AmountMinor int64             `json:"amount_minor"`
	Currency    string            `gorm:"size:3" json:"currency"`
	Status      string            `gorm:"size:20;default:pending;index" json:"status"` // pending, successful, failed, cancelled, error
	Message     string            `gorm:"type:text" json:"message,omitempty"`
	Metadata    map[string]string `gorm:"serializer:json;type:text" json:"metadata,omitempty"`
	CreatedAt   time.Time         `gorm:"index" json:"created_at"`
	VerifiedAt  *time.Time        `json:"verified_at,omitempty"`
	AppliedAt   *time.Time        `json:"applied_at,omitempty"` // 权益已生效的时间，防止重复延长
	SyncedAt    *time.Time        `gorm:"index" json:"synced_at,omitempty"`
	CheckedAt   *time.Time        `json:"checked_at,omitempty"` // 对账最近一次查询失败的时间
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (PaymentAttempt) TableName() string {
	return "payment_attempts"
}

func (a *PaymentAttempt) IsTerminal() bool {
	return IsTerminalStatus(a.Status)
}

// Identity 远程同步使用的用户标识
func (a *PaymentAttempt) Identity() string {
	return UserIdentity(a.UserID, a.UserEmail)
}

// UserIdentity 邮箱优先，否则退回到 user-<id>
func UserIdentity(userID int64, email string) string {
	if email != "" {
		return email
	}
	return fmt.Sprintf("user-%d", userID)
}
