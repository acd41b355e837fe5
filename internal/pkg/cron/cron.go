package cron

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/qs3c/paygate_server/config"
)

// Reconciler 对长时间停留在 pending 的流水做一次结算
type Reconciler interface {
	ReconcileOrphans(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type Service struct {
	reconciler  Reconciler
	interval    time.Duration
	orphanAfter time.Duration
	batchSize   int

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewService(reconciler Reconciler, cfg *config.ReconcileConfig) *Service {
	s := &Service{
		reconciler:  reconciler,
		interval:    cfg.Interval,
		orphanAfter: cfg.OrphanAfter,
		batchSize:   cfg.BatchSize,
		stopChan:    make(chan struct{}),
	}
	if s.interval <= 0 {
		s.interval = 5 * time.Minute
	}
	if s.orphanAfter <= 0 {
		s.orphanAfter = 10 * time.Minute
	}
	if s.batchSize <= 0 {
		s.batchSize = 100
	}
	return s
}

// Start 启动定时任务
func (s *Service) Start() {
	s.wg.Add(1)
	go s.runReconcile()
	log.Printf("Cron service started (orphan reconcile every %s)", s.interval)
}

// Stop 停止定时任务并等待正在执行的一轮结束
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	log.Println("Cron service stopped")
}

// runReconcile 按固定间隔对账
func (s *Service) runReconcile() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.reconcile()
		}
	}
}

func (s *Service) reconcile() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stop 时中断本轮
	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	n, err := s.reconciler.ReconcileOrphans(ctx, s.orphanAfter, s.batchSize)
	if err != nil {
		log.Printf("Failed to reconcile orphan payments: %v", err)
		return 0
	}
	if n > 0 {
		log.Printf("Reconciled %d orphan payments", n)
	}
	return n
}

// RunNow 立即执行一轮对账（用于测试或手动触发）
func (s *Service) RunNow() (int, error) {
	log.Println("Manual orphan reconcile triggered...")
	return s.reconciler.ReconcileOrphans(context.Background(), s.orphanAfter, s.batchSize)
}
