package model

import (
	"github.com/shopspring/decimal"
)

// Plan 套餐目录中的一项，加载后不可修改
type Plan struct {
	ID             string          `json:"id"`
	Tier           Tier            `json:"tier"`
	Name           string          `json:"name"`
	Price          decimal.Decimal `json:"price"`
	DurationMonths int             `json:"duration_months"`
	Features       []string        `json:"features"`
	Limitations    []string        `json:"limitations"`
}

// AmountMinor 以最小货币单位（分、kobo）表示的价格
func (p *Plan) AmountMinor() int64 {
	return p.Price.Shift(2).Round(0).IntPart()
}
