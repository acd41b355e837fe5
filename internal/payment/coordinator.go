package payment

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/qs3c/paygate_server/config"
	"github.com/qs3c/paygate_server/internal/model"
)

// Options 协调器参数
type Options struct {
	PublicKey       string
	Currency        string
	ReferencePrefix string
	PollInterval    time.Duration
	MaxPolls        int
	VerifyTimeout   time.Duration
	// DismissGrace 用户关闭界面后继续等待轮询确认的时间；0 表示立即判定为取消
	DismissGrace time.Duration
	// TrustCallback 为 false 时，客户端上报的 success 需要再查询一次确认
	TrustCallback bool
}

func OptionsFromConfig(cfg config.PaymentConfig) Options {
	return Options{
		PublicKey:       cfg.PublicKey,
		Currency:        cfg.Currency,
		ReferencePrefix: cfg.ReferencePrefix,
		PollInterval:    cfg.PollInterval,
		MaxPolls:        cfg.MaxPolls,
		VerifyTimeout:   cfg.VerifyTimeout,
		DismissGrace:    cfg.DismissGrace,
		TrustCallback:   cfg.TrustCallback,
	}
}

// Coordinator 驱动单次支付尝试直到终态
type Coordinator struct {
	provider Provider
	opts     Options
}

func NewCoordinator(provider Provider, opts Options) *Coordinator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = 60
	}
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = 10 * time.Second
	}
	if opts.Currency == "" {
		opts.Currency = "NGN"
	}
	return &Coordinator{provider: provider, opts: opts}
}

// Request 发起支付所需的信息
type Request struct {
	Reference string // 为空时自动生成
	Plan      model.Plan
	UserID    int64
	Email     string
	Name      string
	Metadata  map[string]string
}

// Begin 生成流水号、启动轮询并拉起支付界面。
// 拉起失败不会返回 error，而是让尝试直接进入 error 终态。
func (c *Coordinator) Begin(ctx context.Context, req *Request) (*Attempt, error) {
	if req == nil || req.Plan.ID == "" {
		return nil, fmt.Errorf("%w: plan is required", ErrInvalidRequest)
	}
	if req.Plan.Tier.IsFree() {
		return nil, fmt.Errorf("%w: plan %s is not purchasable", ErrInvalidRequest, req.Plan.ID)
	}
	amountMinor := req.Plan.AmountMinor()
	if amountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	reference := req.Reference
	if reference == "" {
		reference = NewReference(c.opts.ReferencePrefix)
	}

	metadata := map[string]string{
		"plan_id":   req.Plan.ID,
		"plan_name": req.Plan.Name,
	}
	for k, v := range req.Metadata {
		if _, reserved := metadata[k]; !reserved {
			metadata[k] = v
		}
	}

	a := newAttempt(ctx, c, reference, req.Plan.Price, InvokeRequest{
		PublicKey:   c.opts.PublicKey,
		AmountMinor: amountMinor,
		Reference:   reference,
		Currency:    c.opts.Currency,
		Email:       req.Email,
		Metadata:    metadata,
	})

	a.setState(StateAwaitingUser)
	go a.poll()
	a.invoke()

	return a, nil
}

// Run 发起支付并阻塞到终态
func (c *Coordinator) Run(ctx context.Context, req *Request) (*Outcome, error) {
	a, err := c.Begin(ctx, req)
	if err != nil {
		return nil, err
	}
	return a.Wait(context.Background())
}

// Attempt 一次支付尝试。两个完成渠道（回调、轮询）竞争同一个只写一次的结果槽
type Attempt struct {
	coord     *Coordinator
	reference string
	amount    decimal.Decimal
	checkout  InvokeRequest

	ctx    context.Context
	cancel context.CancelFunc

	latch   sync.Once
	done    chan struct{}
	mu      sync.Mutex
	state   State
	outcome *Outcome

	dismissed atomic.Bool
	polls     atomic.Int32
}

func newAttempt(parent context.Context, c *Coordinator, reference string, amount decimal.Decimal, checkout InvokeRequest) *Attempt {
	ctx, cancel := context.WithCancel(parent)
	a := &Attempt{
		coord:     c,
		reference: reference,
		amount:    amount,
		checkout:  checkout,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateCreated,
	}

	// 父 context 取消（服务关闭）时占用结果槽，之后的信号全部作废
	go func() {
		<-ctx.Done()
		if a.complete(nil) {
			log.Printf("Payment %s: interrupted before reaching a terminal state", a.reference)
		}
	}()

	return a
}

func (a *Attempt) Reference() string { return a.reference }

// Checkout 返回给客户端用于拉起支付界面的参数
func (a *Attempt) Checkout() InvokeRequest {
	out := a.checkout
	out.Metadata = make(map[string]string, len(a.checkout.Metadata))
	for k, v := range a.checkout.Metadata {
		out.Metadata[k] = v
	}
	return out
}

func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// PollCount 已完成的查询次数
func (a *Attempt) PollCount() int {
	return int(a.polls.Load())
}

func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// Outcome 尚未结束时返回 false
func (a *Attempt) Outcome() (*Outcome, bool) {
	select {
	case <-a.done:
	default:
		return nil, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outcome, a.outcome != nil
}

// Wait 等待终态。尝试被中断时返回 ErrInterrupted
func (a *Attempt) Wait(ctx context.Context) (*Outcome, error) {
	select {
	case <-a.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.outcome == nil {
		return nil, ErrInterrupted
	}
	out := *a.outcome
	return &out, nil
}

// Abort 放弃尝试，不产生结果，流水保持 pending 等待对账
func (a *Attempt) Abort() {
	a.cancel()
}

// setState 终态之后的迁移一律忽略
func (a *Attempt) setState(s State) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.IsTerminal() {
		return false
	}
	a.state = s
	return true
}

// complete 是唯一写结果的地方，先到者生效；o 为 nil 表示中断
func (a *Attempt) complete(o *Outcome) bool {
	won := false
	a.latch.Do(func() {
		won = true
		a.mu.Lock()
		if o == nil {
			a.state = StateInterrupted
		} else {
			o.Reference = a.reference
			o.Amount = a.amount
			o.CompletedAt = time.Now()
			a.outcome = o
			a.state = State(o.Status)
		}
		a.mu.Unlock()
		close(a.done)
		// 停止轮询及回调注册
		a.cancel()
	})
	return won
}

func (a *Attempt) invoke() {
	defer func() {
		if r := recover(); r != nil {
			a.fail(fmt.Errorf("%w: panic: %v", ErrProviderInvocation, r))
		}
	}()

	req := a.Checkout()
	err := a.coord.provider.Invoke(a.ctx, &req, Callbacks{
		OnSuccess:  a.onCallbackSuccess,
		OnDismiss:  a.onDismiss,
		OnVerified: func() { a.confirm(SourceWebhook, nil) },
	})
	if err != nil {
		a.fail(fmt.Errorf("%w: %v", ErrProviderInvocation, err))
	}
}

func (a *Attempt) fail(err error) {
	if a.complete(&Outcome{
		Status:  model.PaymentStatusError,
		Message: err.Error(),
		Source:  SourceInvoke,
	}) {
		log.Printf("Payment %s: %v", a.reference, err)
	}
}

func (a *Attempt) onCallbackSuccess() {
	if a.coord.opts.TrustCallback {
		a.confirm(SourceCallback, nil)
		return
	}
	// 客户端上报的成功不可信，立即查一次
	go func() {
		v, err := a.verify()
		if err != nil {
			log.Printf("Payment %s: callback verify failed: %v", a.reference, err)
			return
		}
		if a.confirmed(v) {
			a.confirm(SourceCallback, v)
			return
		}
		log.Printf("Payment %s: callback reported success but provider says %q", a.reference, v.Status)
	}()
}

func (a *Attempt) onDismiss() {
	if !a.setState(StateProviderCancelled) {
		return
	}
	a.dismissed.Store(true)

	grace := a.coord.opts.DismissGrace
	if grace <= 0 {
		a.complete(&Outcome{
			Status:  model.PaymentStatusCancelled,
			Message: "payment window closed before confirmation",
			Source:  SourceCallback,
		})
		return
	}

	// 关闭窗口后给轮询一段时间确认，期间仍可能成功
	go func() {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-a.ctx.Done():
		case <-timer.C:
			a.complete(&Outcome{
				Status:  model.PaymentStatusCancelled,
				Message: "payment window closed and no confirmation within grace period",
				Source:  SourceCallback,
			})
		}
	}()
}

func (a *Attempt) confirm(source string, v *Verification) {
	if !a.setState(StateProviderConfirmed) {
		log.Printf("Payment %s: late %s confirmation ignored", a.reference, source)
		return
	}
	a.setState(StateReconciling)

	o := &Outcome{
		Status:  model.PaymentStatusSuccessful,
		Message: "payment confirmed",
		Source:  source,
	}
	now := time.Now()
	o.VerifiedAt = &now
	if v != nil && v.PaidAt != nil {
		o.VerifiedAt = v.PaidAt
	}

	if !a.complete(o) {
		log.Printf("Payment %s: late %s confirmation ignored", a.reference, source)
	}
}

func (a *Attempt) poll() {
	opts := a.coord.opts
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for i := 1; i <= opts.MaxPolls; i++ {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
		}

		v, err := a.verify()
		a.polls.Add(1)
		if err != nil {
			log.Printf("Payment %s: verify %d/%d failed: %v", a.reference, i, opts.MaxPolls, err)
			continue
		}
		if a.confirmed(v) {
			a.confirm(SourcePoll, v)
			return
		}
	}

	if a.ctx.Err() != nil {
		return
	}

	if a.dismissed.Load() {
		a.complete(&Outcome{
			Status:  model.PaymentStatusCancelled,
			Message: "payment window closed and verification budget exhausted",
			Source:  SourceTimeout,
		})
		return
	}
	if a.complete(&Outcome{
		Status:  model.PaymentStatusFailed,
		Message: fmt.Sprintf("payment not confirmed after %d checks", opts.MaxPolls),
		Source:  SourceTimeout,
	}) {
		log.Printf("Payment %s: verification budget exhausted", a.reference)
	}
}

func (a *Attempt) verify() (v *Verification, err error) {
	ctx, cancel := context.WithTimeout(a.ctx, a.coord.opts.VerifyTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrVerificationTransport, r)
		}
	}()

	v, err = a.coord.provider.Verify(ctx, a.reference)
	if err == nil && v == nil {
		err = fmt.Errorf("%w: empty verification", ErrVerificationTransport)
	}
	return v, err
}

// confirmed 只有 success 视为确认；金额或币种不一致按未确定处理
func (a *Attempt) confirmed(v *Verification) bool {
	if v.Status != VerificationSuccess {
		return false
	}
	if v.Amount > 0 && v.Amount != a.checkout.AmountMinor {
		log.Printf("Payment %s: amount mismatch, expected %d got %d", a.reference, a.checkout.AmountMinor, v.Amount)
		return false
	}
	if v.Currency != "" && !strings.EqualFold(v.Currency, a.checkout.Currency) {
		log.Printf("Payment %s: currency mismatch, expected %s got %s", a.reference, a.checkout.Currency, v.Currency)
		return false
	}
	return true
}
