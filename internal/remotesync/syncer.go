package remotesync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/qs3c/paygate_server/internal/model"
	"github.com/qs3c/paygate_server/internal/pkg/queue"
	"github.com/qs3c/paygate_server/internal/repository"
)

// Syncer 把本地流水镜像到远端。失败只记日志，不影响支付结果
type Syncer struct {
	store  Store
	ledger *repository.LedgerRepository
	queue  *queue.Queue // nil 时同步执行
}

func NewSyncer(store Store, ledger *repository.LedgerRepository, q *queue.Queue) *Syncer {
	return &Syncer{store: store, ledger: ledger, queue: q}
}

// Enqueue 提交同步，不返回错误
func (s *Syncer) Enqueue(ctx context.Context, attempt *model.PaymentAttempt) {
	if s.queue == nil {
		go func() {
			if err := s.Mirror(context.Background(), attempt.Reference); err != nil {
				log.Printf("Remote sync %s failed: %v", attempt.Reference, err)
			}
		}()
		return
	}

	err := s.queue.Push(ctx, &queue.SyncMessage{
		Reference: attempt.Reference,
		UserID:    attempt.UserID,
		Owner:     attempt.Identity(),
	})
	if err != nil {
		log.Printf("Remote sync %s: failed to enqueue: %v", attempt.Reference, err)
	}
}

// Mirror 读取最新的本地流水写到远端，并标记已同步
func (s *Syncer) Mirror(ctx context.Context, reference string) error {
	attempt, err := s.ledger.GetByReference(reference)
	if err != nil {
		return fmt.Errorf("failed to load ledger entry: %w", err)
	}

	entry := EntryFromAttempt(attempt)
	entry.SyncedAt = time.Now()
	if err := s.store.Insert(ctx, entry.Owner, entry); err != nil {
		return fmt.Errorf("failed to insert remote entry: %w", err)
	}

	// pending 的流水之后还会变化，不标记
	if attempt.IsTerminal() {
		if err := s.ledger.MarkSynced(reference, entry.SyncedAt); err != nil {
			return fmt.Errorf("failed to mark synced: %w", err)
		}
	}
	return nil
}

// History 远端的历史记录，仅用于展示
func (s *Syncer) History(ctx context.Context, owner string) ([]*Entry, error) {
	return s.store.SelectByOwner(ctx, owner)
}

// RetryUnsynced 重新提交超过 age 仍未同步的终态流水
func (s *Syncer) RetryUnsynced(ctx context.Context, age time.Duration, limit int) (int, error) {
	attempts, err := s.ledger.ListUnsynced(time.Now().Add(-age), limit)
	if err != nil {
		return 0, err
	}
	for _, a := range attempts {
		s.Enqueue(ctx, a)
	}
	return len(attempts), nil
}
