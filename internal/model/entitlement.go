package model

import (
	"fmt"
	"strings"
	"time"
)

// Tier 订阅等级，按时长/价格递增
type Tier string

const (
	TierFree Tier = "free"
	TierT1   Tier = "t1"
	TierT2   Tier = "t2"
	TierT3   Tier = "t3"
)

var tierRank = map[Tier]int{
	TierFree: 0,
	TierT1:   1,
	TierT2:   2,
	TierT3:   3,
}

// Rank 返回等级序号，未知等级视为 free
func (t Tier) Rank() int {
	return tierRank[t]
}

func (t Tier) IsFree() bool {
	return t == "" || t == TierFree
}

func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tierRank[t]; !ok {
		return TierFree, fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// EntitlementState 用户当前的订阅状态快照
// 不变量：Tier != free 时 ExpiresAt 必须存在
type EntitlementState struct {
	Tier        Tier       `json:"tier"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	PurchasedAt *time.Time `json:"purchased_at,omitempty"`
}

// FreeState 免费用户的初始状态
func FreeState() EntitlementState {
	return EntitlementState{Tier: TierFree}
}

// UserEntitlement 持久化的订阅状态，每个用户一行
type UserEntitlement struct {
	UserID        int64      `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	Tier          string     `gorm:"size:20;not null;default:free" json:"tier"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	PurchasedAt   *time.Time `json:"purchased_at,omitempty"`
	LastReference string     `gorm:"size:100" json:"last_reference,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (UserEntitlement) TableName() string {
	return "user_entitlements"
}

// State 转换为引擎使用的状态；非 free 但缺失到期时间的脏数据按 free 处理
func (e *UserEntitlement) State() EntitlementState {
	if e == nil {
		return FreeState()
	}
	tier := Tier(e.Tier)
	if _, ok := tierRank[tier]; !ok || (tier != TierFree && e.ExpiresAt == nil) {
		return FreeState()
	}
	return EntitlementState{
		Tier:        tier,
		ExpiresAt:   e.ExpiresAt,
		PurchasedAt: e.PurchasedAt,
	}
}
