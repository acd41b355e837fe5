package worker

import (
	"context"
	"log"
	"time"

	"github.com/qs3c/paygate_server/config"
	"github.com/qs3c/paygate_server/internal/remotesync"
)

// Resyncer 后台定期重新提交同步失败的流水
type Resyncer struct {
	syncer   *remotesync.Syncer
	interval time.Duration
	age      time.Duration
	batch    int
}

// NewResyncer 创建重传器
func NewResyncer(syncer *remotesync.Syncer, cfg *config.ReconcileConfig) *Resyncer {
	return &Resyncer{
		syncer:   syncer,
		interval: cfg.Interval,
		age:      cfg.SyncRetryAge,
		batch:    cfg.BatchSize,
	}
}

// Start 启动后台重传循环
func (r *Resyncer) Start(ctx context.Context) {
	// 启动后先执行一次
	r.run(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Resyncer stopped")
			return
		case <-ticker.C:
			r.run(ctx)
		}
	}
}

func (r *Resyncer) run(ctx context.Context) int {
	n, err := r.syncer.RetryUnsynced(ctx, r.age, r.batch)
	if err != nil {
		log.Printf("Resyncer: failed to query unsynced entries: %v", err)
		return 0
	}
	if n > 0 {
		log.Printf("Resyncer: re-enqueued %d entries", n)
	}
	return n
}
