package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/qs3c/paygate_server/internal/model"
)

// TestUser 创建测试用户
func TestUser(t *testing.T, db *gorm.DB, opts ...func(*model.User)) *model.User {
	t.Helper()

	email := fmt.Sprintf("test_%d@example.com", time.Now().UnixNano())
	passwordHash := "$2a$10$abcdefghijklmnopqrstuvwxyz123456" // bcrypt hash placeholder
	user := &model.User{
		Username:     fmt.Sprintf("testuser_%d", time.Now().UnixNano()%1000000),
		Email:        &email,
		PasswordHash: &passwordHash,
		DisplayName:  "Test User",
	}

	for _, opt := range opts {
		opt(user)
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return user
}

// WithUsername 设置用户名
func WithUsername(username string) func(*model.User) {
	return func(u *model.User) {
		u.Username = username
	}
}

// WithEmail 设置邮箱，空字符串表示无邮箱
func WithEmail(email string) func(*model.User) {
	return func(u *model.User) {
		if email == "" {
			u.Email = nil
			return
		}
		u.Email = &email
	}
}

// WithPasswordHash 设置密码哈希
func WithPasswordHash(hash string) func(*model.User) {
	return func(u *model.User) {
		u.PasswordHash = &hash
	}
}

// TestEntitlement 写入用户的订阅状态
func TestEntitlement(t *testing.T, db *gorm.DB, userID int64, tier model.Tier, expiresAt time.Time) *model.UserEntitlement {
	t.Helper()

	purchasedAt := expiresAt.AddDate(0, -1, 0)
	ent := &model.UserEntitlement{
		UserID:      userID,
		Tier:        string(tier),
		ExpiresAt:   &expiresAt,
		PurchasedAt: &purchasedAt,
	}

	if err := db.Save(ent).Error; err != nil {
		t.Fatalf("Failed to create test entitlement: %v", err)
	}

	return ent
}

// TestPayment 创建测试支付流水
func TestPayment(t *testing.T, db *gorm.DB, userID int64, opts ...func(*model.PaymentAttempt)) *model.PaymentAttempt {
	t.Helper()

	attempt := &model.PaymentAttempt{
		Reference:   fmt.Sprintf("test_%d", time.Now().UnixNano()),
		UserID:      userID,
		PlanID:      "quarterly",
		Amount:      decimal.RequireFromString("1.00"),
		AmountMinor: 100,
		Currency:    "NGN",
		Status:      model.PaymentStatusPending,
		Metadata:    map[string]string{"plan_id": "quarterly"},
	}

	for _, opt := range opts {
		opt(attempt)
	}

	if err := db.Create(attempt).Error; err != nil {
		t.Fatalf("Failed to create test payment: %v", err)
	}

	return attempt
}

// WithReference 设置流水号
func WithReference(reference string) func(*model.PaymentAttempt) {
	return func(a *model.PaymentAttempt) {
		a.Reference = reference
	}
}

// WithPaymentStatus 设置状态
func WithPaymentStatus(status string) func(*model.PaymentAttempt) {
	return func(a *model.PaymentAttempt) {
		a.Status = status
	}
}

// WithPlan 设置套餐
func WithPlan(planID string, price string) func(*model.PaymentAttempt) {
	return func(a *model.PaymentAttempt) {
		a.PlanID = planID
		a.Amount = decimal.RequireFromString(price)
		a.AmountMinor = a.Amount.Shift(2).IntPart()
		a.Metadata = map[string]string{"plan_id": planID}
	}
}

// WithCreatedAt 设置创建时间
func WithCreatedAt(at time.Time) func(*model.PaymentAttempt) {
	return func(a *model.PaymentAttempt) {
		a.CreatedAt = at
	}
}

// WithSyncedAt 设置同步时间
func WithSyncedAt(at time.Time) func(*model.PaymentAttempt) {
	return func(a *model.PaymentAttempt) {
		a.SyncedAt = &at
	}
}

// WithUserEmail 设置流水上的用户邮箱
func WithUserEmail(email string) func(*model.PaymentAttempt) {
	return func(a *model.PaymentAttempt) {
		a.UserEmail = email
	}
}
