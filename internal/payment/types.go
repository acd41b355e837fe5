package payment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/qs3c/paygate_server/internal/model"
)

var (
	// ErrProviderInvocation 拉起支付界面失败，终态 error，不自动重试
	ErrProviderInvocation = errors.New("provider invocation failed")
	// ErrVerificationTransport 单次查询失败，视为未确定，继续轮询
	ErrVerificationTransport = errors.New("verification transport error")
	// ErrReferenceNotFound 网关明确表示没有这笔交易（从未拉起支付）
	ErrReferenceNotFound = errors.New("reference not found at provider")
	// ErrInterrupted 尝试在到达终态前被取消（如服务关闭），流水保持 pending
	ErrInterrupted = errors.New("payment attempt interrupted")

	ErrInvalidRequest   = errors.New("invalid payment request")
	ErrUnknownReference = errors.New("unknown payment reference")
)

// State 单次支付尝试的状态机
type State string

const (
	StateCreated           State = "created"
	StateAwaitingUser      State = "awaiting_user"
	StateProviderConfirmed State = "provider_confirmed"
	StateProviderCancelled State = "provider_cancelled"
	StateReconciling       State = "reconciling"
	StateSuccessful        State = "successful"
	StateFailed            State = "failed"
	StateCancelled         State = "cancelled"
	StateError             State = "error"
	StateInterrupted       State = "interrupted"
)

func (s State) IsTerminal() bool {
	switch s {
	case StateSuccessful, StateFailed, StateCancelled, StateError, StateInterrupted:
		return true
	}
	return false
}

// 完成信号的来源
const (
	SourceCallback = "callback"
	SourcePoll     = "poll"
	SourceWebhook  = "webhook"
	SourceInvoke   = "invoke"
	SourceTimeout  = "timeout"
)

// Outcome 一次支付尝试的唯一结果
type Outcome struct {
	Status      string          `json:"status"` // successful, failed, cancelled, error
	Reference   string          `json:"reference"`
	Amount      decimal.Decimal `json:"amount"`
	Message     string          `json:"message,omitempty"`
	Source      string          `json:"source"`
	CompletedAt time.Time       `json:"completed_at"`
	VerifiedAt  *time.Time      `json:"verified_at,omitempty"`
}

func (o *Outcome) Successful() bool {
	return o != nil && o.Status == model.PaymentStatusSuccessful
}

// InvokeRequest 拉起支付界面需要的参数，金额为最小货币单位
type InvokeRequest struct {
	PublicKey   string            `json:"public_key"`
	AmountMinor int64             `json:"amount"`
	Reference   string            `json:"reference"`
	Currency    string            `json:"currency"`
	Email       string            `json:"email"`
	Metadata    map[string]string `json:"metadata"`
}

// Callbacks 支付方回调
// OnDismiss 只表示界面已关闭，不代表支付失败
// OnVerified 由服务端可信渠道（签名校验过的 webhook）触发
type Callbacks struct {
	OnSuccess  func()
	OnDismiss  func()
	OnVerified func()
}

// Verification 按 reference 查询交易的结果
type Verification struct {
	Status          string     `json:"status"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	GatewayResponse string     `json:"gateway_response,omitempty"`
}

// VerificationSuccess 只有这个状态视为确认
const VerificationSuccess = "success"

type Verifier interface {
	Verify(ctx context.Context, reference string) (*Verification, error)
}

// Provider 支付方。Invoke 只负责拉起界面并立即返回，完成情况通过回调通知
type Provider interface {
	Verifier
	Invoke(ctx context.Context, req *InvokeRequest, cb Callbacks) error
}
