package entitlement

import (
	"fmt"
	"strings"
	"time"
)

// FreeAccessRule 决定免费用户在某一时刻是否可以访问受限内容
type FreeAccessRule interface {
	Allows(now time.Time) bool
}

// RuleFunc 函数形式的规则
type RuleFunc func(now time.Time) bool

func (f RuleFunc) Allows(now time.Time) bool { return f(now) }

// Never 免费用户永远不能访问受限内容
var Never FreeAccessRule = RuleFunc(func(time.Time) bool { return false })

// WeekdayRule 每周固定的免费访问日，按指定时区计算
type WeekdayRule struct {
	days     map[time.Weekday]struct{}
	location *time.Location
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// NewWeekdayRule 从配置的星期名构建规则，tz 为空时使用 UTC
func NewWeekdayRule(days []string, tz string) (*WeekdayRule, error) {
	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
		loc = l
	}

	r := &WeekdayRule{
		days:     make(map[time.Weekday]struct{}, len(days)),
		location: loc,
	}
	for _, d := range days {
		wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(d))]
		if !ok {
			return nil, fmt.Errorf("invalid weekday %q", d)
		}
		r.days[wd] = struct{}{}
	}
	return r, nil
}

func (r *WeekdayRule) Allows(now time.Time) bool {
	_, ok := r.days[now.In(r.location).Weekday()]
	return ok
}

// Policy 产品策略：天数上限、免费访问规则、免费变体白名单
type Policy struct {
	DaysCap      int
	DaysPerMonth int
	FreeAccess   FreeAccessRule
	FreeVariants []string
}
