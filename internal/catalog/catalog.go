package catalog

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/qs3c/paygate_server/config"
	"github.com/qs3c/paygate_server/internal/model"
)

var ErrPlanNotFound = errors.New("套餐不存在")

// Catalog 启动时加载的只读套餐目录
type Catalog struct {
	plans []model.Plan
	byID  map[string]int
}

// DefaultPlans 未配置 plans 时使用的目录
func DefaultPlans() []config.PlanConfig {
	return []config.PlanConfig{
		{ID: "free", Tier: "free", Name: "Free", Price: "0", DurationMonths: 0,
			Features: []string{"default variant", "weekly free access day"}, Limitations: []string{"gated content on free day only"}},
		{ID: "quarterly", Tier: "t1", Name: "Quarterly", Price: "1.00", DurationMonths: 3,
			Features: []string{"all variants", "all gated content"}},
		{ID: "half_yearly", Tier: "t2", Name: "Half Yearly", Price: "2.00", DurationMonths: 6,
			Features: []string{"all variants", "all gated content"}},
		{ID: "yearly", Tier: "t3", Name: "Yearly", Price: "3.50", DurationMonths: 12,
			Features: []string{"all variants", "all gated content"}},
	}
}

// New 校验并构建目录
func New(entries []config.PlanConfig) (*Catalog, error) {
	if len(entries) == 0 {
		entries = DefaultPlans()
	}

	c := &Catalog{
		plans: make([]model.Plan, 0, len(entries)),
		byID:  make(map[string]int, len(entries)),
	}

	for _, e := range entries {
		if e.ID == "" {
			return nil, errors.New("plan id is required")
		}
		if _, dup := c.byID[e.ID]; dup {
			return nil, fmt.Errorf("duplicate plan id %q", e.ID)
		}

		tier, err := model.ParseTier(e.Tier)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", e.ID, err)
		}

		price := decimal.Zero
		if e.Price != "" {
			price, err = decimal.NewFromString(e.Price)
			if err != nil {
				return nil, fmt.Errorf("plan %s: invalid price: %w", e.ID, err)
			}
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("plan %s: price must not be negative", e.ID)
		}

		switch {
		case tier.IsFree() && e.DurationMonths != 0:
			return nil, fmt.Errorf("plan %s: free tier must have zero duration", e.ID)
		case !tier.IsFree() && e.DurationMonths <= 0:
			return nil, fmt.Errorf("plan %s: paid tier needs a positive duration", e.ID)
		}

		c.byID[e.ID] = len(c.plans)
		c.plans = append(c.plans, model.Plan{
			ID:             e.ID,
			Tier:           tier,
			Name:           e.Name,
			Price:          price,
			DurationMonths: e.DurationMonths,
			Features:       append([]string(nil), e.Features...),
			Limitations:    append([]string(nil), e.Limitations...),
		})
	}

	return c, nil
}

// Get 按 ID 查找套餐，返回副本
func (c *Catalog) Get(id string) (model.Plan, error) {
	i, ok := c.byID[id]
	if !ok {
		return model.Plan{}, ErrPlanNotFound
	}
	return clonePlan(c.plans[i]), nil
}

// List 按配置顺序返回全部套餐
func (c *Catalog) List() []model.Plan {
	out := make([]model.Plan, len(c.plans))
	for i, p := range c.plans {
		out[i] = clonePlan(p)
	}
	return out
}

// Purchasable 返回可购买的付费套餐
func (c *Catalog) Purchasable() []model.Plan {
	var out []model.Plan
	for _, p := range c.plans {
		if !p.Tier.IsFree() {
			out = append(out, clonePlan(p))
		}
	}
	return out
}

func clonePlan(p model.Plan) model.Plan {
	p.Features = append([]string(nil), p.Features...)
	p.Limitations = append([]string(nil), p.Limitations...)
	return p
}
