package entitlement

import (
	"strings"
	"time"

	"github.com/qs3c/paygate_server/config"
	"github.com/qs3c/paygate_server/internal/model"
)

const (
	// FeatureGatedContent 受限内容
	FeatureGatedContent = "content"
	// FeatureVariantPrefix 变体功能 ID 前缀，如 variant:kjv
	FeatureVariantPrefix = "variant:"

	defaultDaysCap      = 999
	defaultDaysPerMonth = 30
)

// Engine 纯计算的权益判断，不做任何 I/O
type Engine struct {
	daysCap      int
	daysPerMonth int
	freeAccess   FreeAccessRule
	freeVariants map[string]struct{}
}

func NewEngine(p Policy) *Engine {
	e := &Engine{
		daysCap:      p.DaysCap,
		daysPerMonth: p.DaysPerMonth,
		freeAccess:   p.FreeAccess,
		freeVariants: make(map[string]struct{}, len(p.FreeVariants)),
	}
	if e.daysCap <= 0 {
		e.daysCap = defaultDaysCap
	}
	if e.daysPerMonth <= 0 {
		e.daysPerMonth = defaultDaysPerMonth
	}
	if e.freeAccess == nil {
		e.freeAccess = Never
	}
	for _, v := range p.FreeVariants {
		e.freeVariants[v] = struct{}{}
	}
	return e
}

// NewEngineFromConfig 根据配置构建引擎
func NewEngineFromConfig(cfg config.EntitlementConfig) (*Engine, error) {
	var rule FreeAccessRule = Never
	if len(cfg.FreeAccessDays) > 0 {
		r, err := NewWeekdayRule(cfg.FreeAccessDays, cfg.Timezone)
		if err != nil {
			return nil, err
		}
		rule = r
	}

	return NewEngine(Policy{
		DaysCap:      cfg.DaysCap,
		DaysPerMonth: cfg.DaysPerMonth,
		FreeAccess:   rule,
		FreeVariants: cfg.FreeVariants,
	}), nil
}

// IsPremium tier != free 且未到期
func (e *Engine) IsPremium(s model.EntitlementState, now time.Time) bool {
	if s.Tier.IsFree() || s.ExpiresAt == nil {
		return false
	}
	return now.Before(*s.ExpiresAt)
}

// CurrentTier 到期后即使存储的 tier 没更新也返回 free
func (e *Engine) CurrentTier(s model.EntitlementState, now time.Time) model.Tier {
	if !e.IsPremium(s, now) {
		return model.TierFree
	}
	return s.Tier
}

// DaysRemaining 向上取整的剩余天数，限制在 [0, cap]
func (e *Engine) DaysRemaining(s model.EntitlementState, now time.Time) int {
	if s.ExpiresAt == nil {
		return 0
	}
	left := s.ExpiresAt.Sub(now)
	if left <= 0 {
		return 0
	}
	const day = 24 * time.Hour
	days := int((left + day - 1) / day)
	if days > e.daysCap {
		return e.daysCap
	}
	return days
}

func (e *Engine) CanAccessGatedContent(s model.EntitlementState, now time.Time) bool {
	if e.IsPremium(s, now) {
		return true
	}
	return e.freeAccess.Allows(now)
}

func (e *Engine) CanAccessVariant(s model.EntitlementState, now time.Time, variantID string) bool {
	if _, ok := e.freeVariants[variantID]; ok {
		return true
	}
	return e.IsPremium(s, now)
}

// CanAccess 按功能 ID 分发，未知功能要求订阅
func (e *Engine) CanAccess(s model.EntitlementState, now time.Time, featureID string) bool {
	switch {
	case featureID == FeatureGatedContent:
		return e.CanAccessGatedContent(s, now)
	case strings.HasPrefix(featureID, FeatureVariantPrefix):
		return e.CanAccessVariant(s, now, strings.TrimPrefix(featureID, FeatureVariantPrefix))
	default:
		return e.IsPremium(s, now)
	}
}

// Grant 计算购买套餐后的新状态
// 一个月固定按 daysPerMonth 天计算，不按日历月
func (e *Engine) Grant(plan model.Plan, now time.Time) model.EntitlementState {
	if plan.Tier.IsFree() {
		return model.FreeState()
	}
	purchasedAt := now
	expiresAt := now.Add(time.Duration(plan.DurationMonths*e.daysPerMonth) * 24 * time.Hour)
	return model.EntitlementState{
		Tier:        plan.Tier,
		ExpiresAt:   &expiresAt,
		PurchasedAt: &purchasedAt,
	}
}

// Snapshot 供展示层使用的权益汇总
type Snapshot struct {
	Tier          model.Tier `json:"tier"`
	StoredTier    model.Tier `json:"stored_tier"`
	Premium       bool       `json:"premium"`
	DaysRemaining int        `json:"days_remaining"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	PurchasedAt   *time.Time `json:"purchased_at,omitempty"`
	FreeAccessNow bool       `json:"free_access_now"`
}

func (e *Engine) Evaluate(s model.EntitlementState, now time.Time) Snapshot {
	return Snapshot{
		Tier:          e.CurrentTier(s, now),
		StoredTier:    s.Tier,
		Premium:       e.IsPremium(s, now),
		DaysRemaining: e.DaysRemaining(s, now),
		ExpiresAt:     s.ExpiresAt,
		PurchasedAt:   s.PurchasedAt,
		FreeAccessNow: e.freeAccess.Allows(now),
	}
}
