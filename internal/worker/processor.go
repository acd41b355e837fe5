package worker

import (
	"context"
	"fmt"
	"log"

	"github.com/qs3c/paygate_server/internal/pkg/queue"
	"github.com/qs3c/paygate_server/internal/remotesync"
)

// Processor 远端同步任务处理器
type Processor struct {
	syncer *remotesync.Syncer
}

// NewProcessor 创建任务处理器
func NewProcessor(syncer *remotesync.Syncer) *Processor {
	return &Processor{syncer: syncer}
}

// Process 把一条流水镜像到远端
func (p *Processor) Process(ctx context.Context, msg *queue.SyncMessage) error {
	if msg.Reference == "" {
		return fmt.Errorf("empty reference")
	}

	if err := p.syncer.Mirror(ctx, msg.Reference); err != nil {
		return err
	}

	log.Printf("Synced %s for %s", msg.Reference, msg.Owner)
	return nil
}
