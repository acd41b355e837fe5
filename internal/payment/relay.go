package payment

import (
	"context"
	"fmt"
	"sync"
)

// 客户端/网关通过 HTTP 上报的事件
const (
	EventSuccess  = "success"
	EventDismiss  = "dismiss"
	EventVerified = "verified"
)

// Relay 面向浏览器内嵌支付的 Provider：
// Invoke 只登记回调，真正的界面由客户端用 Checkout 参数拉起，
// 客户端回调和 webhook 通过 Dispatch 投递到对应的尝试。
type Relay struct {
	verifier Verifier

	mu      sync.Mutex
	pending map[string]Callbacks
}

func NewRelay(verifier Verifier) *Relay {
	return &Relay{
		verifier: verifier,
		pending:  make(map[string]Callbacks),
	}
}

func (r *Relay) Verify(ctx context.Context, reference string) (*Verification, error) {
	return r.verifier.Verify(ctx, reference)
}

func (r *Relay) Invoke(ctx context.Context, req *InvokeRequest, cb Callbacks) error {
	if req.Reference == "" {
		return fmt.Errorf("%w: empty reference", ErrInvalidRequest)
	}

	r.mu.Lock()
	if _, exists := r.pending[req.Reference]; exists {
		r.mu.Unlock()
		return fmt.Errorf("reference %s already in flight", req.Reference)
	}
	r.pending[req.Reference] = cb
	r.mu.Unlock()

	// 尝试结束（context 取消）后注销，迟到的回调会得到 ErrUnknownReference
	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.pending, req.Reference)
		r.mu.Unlock()
	}()

	return nil
}

// Dispatch 把事件投递给仍在进行中的尝试
func (r *Relay) Dispatch(reference, event string) error {
	r.mu.Lock()
	cb, ok := r.pending[reference]
	r.mu.Unlock()
	if !ok {
		return ErrUnknownReference
	}

	var fn func()
	switch event {
	case EventSuccess:
		fn = cb.OnSuccess
	case EventDismiss:
		fn = cb.OnDismiss
	case EventVerified:
		fn = cb.OnVerified
	default:
		return fmt.Errorf("%w: unknown event %q", ErrInvalidRequest, event)
	}

	if fn != nil {
		fn()
	}
	return nil
}

// InFlight 当前登记中的尝试数
func (r *Relay) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
