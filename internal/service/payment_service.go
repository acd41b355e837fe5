package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/paygate_server/internal/catalog"
	"github.com/qs3c/paygate_server/internal/entitlement"
	"github.com/qs3c/paygate_server/internal/model"
	"github.com/qs3c/paygate_server/internal/payment"
	"github.com/qs3c/paygate_server/internal/pkg/email"
	"github.com/qs3c/paygate_server/internal/pkg/paystack"
	"github.com/qs3c/paygate_server/internal/pkg/pubsub"
	"github.com/qs3c/paygate_server/internal/remotesync"
	"github.com/qs3c/paygate_server/internal/repository"
)

var (
	ErrPlanNotPurchasable = errors.New("该套餐无需购买")
	ErrPaymentNotFound    = errors.New("支付记录不存在")
	ErrPaymentNotInFlight = errors.New("支付已结束")
	ErrWebhookSignature   = errors.New("webhook 签名无效")
)

// ReceiptSender 支付成功后发送收据
type ReceiptSender interface {
	SendReceipt(r *email.Receipt) error
}

// PaymentOption 可选组件
type PaymentOption func(*PaymentService)

// WithSyncer 远端同步
func WithSyncer(syncer *remotesync.Syncer) PaymentOption {
	return func(s *PaymentService) { s.syncer = syncer }
}

// WithPublisher 支付结果通知
func WithPublisher(publisher *pubsub.Publisher) PaymentOption {
	return func(s *PaymentService) { s.publisher = publisher }
}

// WithReceipts 收据邮件
func WithReceipts(sender ReceiptSender) PaymentOption {
	return func(s *PaymentService) { s.receipts = sender }
}

// WithWebhook webhook 签名密钥与事件去重
func WithWebhook(secret string, events *paystack.EventStore) PaymentOption {
	return func(s *PaymentService) {
		s.webhookSecret = secret
		s.events = events
	}
}

// WithClock 替换时钟，测试用
func WithClock(now func() time.Time) PaymentOption {
	return func(s *PaymentService) { s.now = now }
}

type inflight struct {
	attempt *payment.Attempt
	row     *model.PaymentAttempt
}

// PaymentService 把协调器的结果写入流水并应用到订阅状态
type PaymentService struct {
	db           *gorm.DB
	ledger       *repository.LedgerRepository
	entitlements *repository.EntitlementRepository
	users        *repository.UserRepository
	catalog      *catalog.Catalog
	engine       *entitlement.Engine
	relay        *payment.Relay
	coord        *payment.Coordinator
	opts         payment.Options

	syncer        *remotesync.Syncer
	publisher     *pubsub.Publisher
	receipts      ReceiptSender
	webhookSecret string
	events        *paystack.EventStore
	now           func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	attempts map[string]*inflight
	closed   bool
}

func NewPaymentService(
	db *gorm.DB,
	cat *catalog.Catalog,
	engine *entitlement.Engine,
	relay *payment.Relay,
	opts payment.Options,
	options ...PaymentOption,
) *PaymentService {
	ctx, cancel := context.WithCancel(context.Background())
	s := &PaymentService{
		db:           db,
		ledger:       repository.NewLedgerRepository(db),
		entitlements: repository.NewEntitlementRepository(db),
		users:        repository.NewUserRepository(db),
		catalog:      cat,
		engine:       engine,
		relay:        relay,
		coord:        payment.NewCoordinator(relay, opts),
		opts:         opts,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
		attempts:     make(map[string]*inflight),
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Checkout 异步发起后返回给客户端的参数
type Checkout struct {
	Reference string
	Request   payment.InvokeRequest
}

// StartPayment 发起支付并阻塞到结果落库。ctx 取消时流水保持 pending，返回 ErrInterrupted
func (s *PaymentService) StartPayment(ctx context.Context, userID int64, planID string) (*payment.Outcome, error) {
	a, row, err := s.begin(ctx, userID, planID)
	if err != nil {
		return nil, err
	}
	out, _, err := s.settle(a, row)
	return out, err
}

// BeginPayment 发起支付后立即返回拉起参数，结果由后台落库并通过 pubsub 通知。
// 尝试的生命周期绑定服务而不是请求
func (s *PaymentService) BeginPayment(userID int64, planID string) (*Checkout, error) {
	a, row, err := s.begin(s.ctx, userID, planID)
	if err != nil {
		return nil, err
	}

	s.goTracked(func() {
		if _, _, err := s.settle(a, row); err != nil {
			log.Printf("Payment %s: settle failed: %v", row.Reference, err)
		}
	})

	return &Checkout{Reference: a.Reference(), Request: a.Checkout()}, nil
}

func (s *PaymentService) begin(ctx context.Context, userID int64, planID string) (*payment.Attempt, *model.PaymentAttempt, error) {
	plan, err := s.catalog.Get(planID)
	if err != nil {
		return nil, nil, err
	}
	if plan.Tier.IsFree() {
		return nil, nil, ErrPlanNotPurchasable
	}

	user, err := s.users.GetByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrUserNotFound
		}
		return nil, nil, err
	}

	userEmail := ""
	if user.Email != nil {
		userEmail = *user.Email
	}
	name := user.DisplayName
	if name == "" {
		name = user.Username
	}

	reference := payment.NewReference(s.opts.ReferencePrefix)
	currency := s.opts.Currency
	if currency == "" {
		currency = "NGN"
	}

	// 先写 pending，中断的尝试之后可以对账
	row, err := s.ledger.Record(&model.PaymentAttempt{
		Reference:   reference,
		UserID:      user.ID,
		UserEmail:   userEmail,
		UserName:    name,
		PlanID:      plan.ID,
		Amount:      plan.Price,
		AmountMinor: plan.AmountMinor(),
		Currency:    currency,
		Status:      model.PaymentStatusPending,
		Metadata: map[string]string{
			"plan_id":   plan.ID,
			"plan_name": plan.Name,
		},
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to record pending payment: %w", err)
	}

	a, err := s.coord.Begin(ctx, &payment.Request{
		Reference: reference,
		Plan:      plan,
		UserID:    user.ID,
		Email:     userEmail,
		Name:      name,
	})
	if err != nil {
		if _, _, rerr := s.Settle(row.Reference, model.PaymentStatusError, err.Error(), nil); rerr != nil {
			log.Printf("Payment %s: failed to record begin error: %v", reference, rerr)
		}
		return nil, nil, err
	}

	s.mu.Lock()
	s.attempts[reference] = &inflight{attempt: a, row: row}
	s.mu.Unlock()

	return a, row, nil
}

// settle 等待尝试结束并落库
func (s *PaymentService) settle(a *payment.Attempt, row *model.PaymentAttempt) (*payment.Outcome, *model.PaymentAttempt, error) {
	defer func() {
		s.mu.Lock()
		delete(s.attempts, row.Reference)
		s.mu.Unlock()
	}()

	out, err := a.Wait(context.Background())
	if err != nil {
		log.Printf("Payment %s: %v, left pending for reconciliation", row.Reference, err)
		return nil, row, err
	}

	saved, _, err := s.Settle(row.Reference, out.Status, out.Message, out.VerifiedAt)
	return out, saved, err
}

// Settle 在一个事务里写入终态，成功时应用订阅。
// 同一 reference 重复成功只生效一次；返回的 state 为 nil 表示本次没有改变订阅
func (s *PaymentService) Settle(reference, status, message string, verifiedAt *time.Time) (*model.PaymentAttempt, *model.EntitlementState, error) {
	var (
		saved   *model.PaymentAttempt
		granted *model.EntitlementState
	)

	err := s.db.Transaction(func(tx *gorm.DB) error {
		ledger := s.ledger.WithTx(tx)

		// 只推进已存在的流水，终态必须落在发起时写入的那一行上
		if _, err := ledger.GetByReference(reference); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}

		var err error
		saved, err = ledger.Record(&model.PaymentAttempt{
			Reference:  reference,
			Status:     status,
			Message:    message,
			VerifiedAt: verifiedAt,
		})
		if err != nil {
			return err
		}
		if status != model.PaymentStatusSuccessful {
			return nil
		}

		now := s.now()
		applied, err := ledger.MarkApplied(reference, now)
		if err != nil {
			return err
		}
		if !applied {
			return nil
		}

		plan, err := s.catalog.Get(saved.PlanID)
		if err != nil {
			return fmt.Errorf("plan %s: %w", saved.PlanID, err)
		}
		state := s.engine.Grant(plan, now)
		if err := s.entitlements.WithTx(tx).Save(saved.UserID, state, reference); err != nil {
			return fmt.Errorf("failed to apply entitlement: %w", err)
		}

		saved.AppliedAt = &now
		granted = &state
		return nil
	})
	if err != nil {
		return saved, nil, err
	}

	s.afterSettle(saved, granted)
	return saved, granted, nil
}

// afterSettle 通知、同步、收据都是尽力而为，失败只记日志
func (s *PaymentService) afterSettle(row *model.PaymentAttempt, granted *model.EntitlementState) {
	if s.publisher != nil {
		msg := &pubsub.StatusMessage{
			UserID:    row.UserID,
			Reference: row.Reference,
			PlanID:    row.PlanID,
			Status:    row.Status,
		}
		if granted != nil {
			msg.Tier = string(granted.Tier)
			msg.ExpiresAt = granted.ExpiresAt
		}
		if err := s.publisher.PublishStatus(context.Background(), msg); err != nil {
			log.Printf("Payment %s: failed to publish status: %v", row.Reference, err)
		}
	}

	if s.syncer != nil {
		s.syncer.Enqueue(context.Background(), row)
	}

	if s.receipts != nil && granted != nil && row.UserEmail != "" {
		plan, _ := s.catalog.Get(row.PlanID)
		receipt := &email.Receipt{
			To:        row.UserEmail,
			Name:      row.UserName,
			PlanName:  plan.Name,
			Amount:    row.Amount.StringFixed(2),
			Currency:  row.Currency,
			Reference: row.Reference,
			ExpiresAt: granted.ExpiresAt,
		}
		s.goTracked(func() {
			if err := s.receipts.SendReceipt(receipt); err != nil {
				log.Printf("Payment %s: failed to send receipt: %v", receipt.Reference, err)
			}
		})
	}
}

// GetPayment 查询用户自己的支付记录，附带进行中的状态
func (s *PaymentService) GetPayment(userID int64, reference string) (*model.PaymentAttempt, payment.State, error) {
	row, err := s.ledger.GetByReference(reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrPaymentNotFound
		}
		return nil, "", err
	}
	if row.UserID != userID {
		return nil, "", ErrPaymentNotFound
	}

	s.mu.Lock()
	f, ok := s.attempts[reference]
	s.mu.Unlock()
	if ok {
		return row, f.attempt.State(), nil
	}
	return row, "", nil
}

// History 本地流水，新的在前
func (s *PaymentService) History(userID int64, limit int) ([]*model.PaymentAttempt, error) {
	return s.ledger.HistoryForUser(userID, limit)
}

// RemoteHistory 远端镜像的历史，只用于展示
func (s *PaymentService) RemoteHistory(ctx context.Context, userID int64) ([]*remotesync.Entry, error) {
	if s.syncer == nil {
		return []*remotesync.Entry{}, nil
	}
	user, err := s.users.GetByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return s.syncer.History(ctx, user.Identity())
}

// CancelSubscription 用户主动取消：回到 free，流水不变
func (s *PaymentService) CancelSubscription(userID int64) error {
	return s.entitlements.Clear(userID)
}

// HandleCallback 客户端上报支付界面事件（success / dismiss）
func (s *PaymentService) HandleCallback(userID int64, reference, event string) error {
	s.mu.Lock()
	f, ok := s.attempts[reference]
	s.mu.Unlock()
	if !ok || f.row.UserID != userID {
		return ErrPaymentNotInFlight
	}

	if err := s.relay.Dispatch(reference, event); err != nil {
		if errors.Is(err, payment.ErrUnknownReference) {
			return ErrPaymentNotInFlight
		}
		return err
	}
	return nil
}

// HandleWebhook 处理网关 webhook。签名校验后按事件 ID 去重；
// 金额币种与流水不符的确认一律忽略。尝试仍在进行时作为可信确认投递给协调器，否则直接落库
func (s *PaymentService) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if err := paystack.VerifySignature(s.webhookSecret, body, signature); err != nil {
		return ErrWebhookSignature
	}

	ev, err := paystack.ParseEvent(body)
	if err != nil {
		return err
	}
	if !ev.Confirms() {
		log.Printf("Webhook %s for %s ignored", ev.Name, ev.Reference)
		return nil
	}

	if s.events != nil {
		first, err := s.events.Claim(ctx, ev.ID)
		if err != nil {
			return err
		}
		if !first {
			log.Printf("Webhook %s already processed", ev.ID)
			return nil
		}
	}

	if err := s.confirm(ev.Reference, &ev.Verification); err != nil {
		if s.events != nil {
			if rerr := s.events.Release(ctx, ev.ID); rerr != nil {
				log.Printf("Webhook %s: failed to release event: %v", ev.ID, rerr)
			}
		}
		return err
	}
	return nil
}

func (s *PaymentService) confirm(reference string, v *payment.Verification) error {
	row, err := s.ledger.GetByReference(reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPaymentNotFound
		}
		return err
	}
	if !matches(row, v) {
		log.Printf("Payment %s: confirmation %d %s does not match ledger amount %d %s",
			reference, v.Amount, v.Currency, row.AmountMinor, row.Currency)
		return nil
	}

	err = s.relay.Dispatch(reference, payment.EventVerified)
	if err == nil {
		return nil
	}
	if !errors.Is(err, payment.ErrUnknownReference) {
		return err
	}

	_, _, err = s.Settle(reference, model.PaymentStatusSuccessful, "payment confirmed", verifiedAt(v, s.now()))
	return err
}

// ReconcileOrphans 对超过 olderThan 仍为 pending 且不在进行中的流水查询一次：
// 成功则落库并应用，网关明确未成功或查无此单则记为 failed，查询失败的排到队尾留到下一轮
func (s *PaymentService) ReconcileOrphans(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	orphans, err := s.ledger.ListOrphans(s.now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, row := range orphans {
		if ctx.Err() != nil {
			break
		}

		s.mu.Lock()
		_, busy := s.attempts[row.Reference]
		s.mu.Unlock()
		if busy {
			continue
		}

		vctx, cancel := context.WithTimeout(ctx, s.verifyTimeout())
		v, err := s.relay.Verify(vctx, row.Reference)
		cancel()
		status := model.PaymentStatusFailed
		var message string
		switch {
		case errors.Is(err, payment.ErrReferenceNotFound):
			message = "not found at provider"
		case err != nil:
			// 留到下一轮，先让位给其他流水
			log.Printf("Reconcile %s: verify failed: %v", row.Reference, err)
			if err := s.ledger.MarkChecked(row.Reference, s.now()); err != nil {
				log.Printf("Reconcile %s: %v", row.Reference, err)
			}
			continue
		default:
			message = fmt.Sprintf("not confirmed by provider: %s", v.Status)
		}
		if err == nil && v.Status == payment.VerificationSuccess && matches(row, v) {
			status = model.PaymentStatusSuccessful
			message = "payment confirmed by reconciliation"
		}

		if _, _, err := s.Settle(row.Reference, status, message, verifiedAt(v, s.now())); err != nil {
			log.Printf("Reconcile %s: %v", row.Reference, err)
			continue
		}
		settled++
	}
	return settled, nil
}

// InFlight 进行中的尝试数
func (s *PaymentService) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

// Shutdown 中断所有后台尝试（流水保持 pending）并等待收尾
func (s *PaymentService) Shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// goTracked 在后台执行 fn 并计入 Shutdown 的等待；Shutdown 之后改为同步执行
func (s *PaymentService) goTracked(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *PaymentService) verifyTimeout() time.Duration {
	if s.opts.VerifyTimeout > 0 {
		return s.opts.VerifyTimeout
	}
	return 10 * time.Second
}

// matches 网关返回的金额、币种与流水一致；未返回的字段不比较
func matches(row *model.PaymentAttempt, v *payment.Verification) bool {
	if v.Amount > 0 && v.Amount != row.AmountMinor {
		return false
	}
	if v.Currency != "" && row.Currency != "" && !strings.EqualFold(v.Currency, row.Currency) {
		return false
	}
	return true
}

func verifiedAt(v *payment.Verification, now time.Time) *time.Time {
	if v != nil && v.PaidAt != nil {
		return v.PaidAt
	}
	return &now
}
