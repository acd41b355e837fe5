package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/qs3c/paygate_server/internal/pkg/queue"
)

var popTimeout = 5 * time.Second

// Run 启动 n 个 worker 消费同步队列，阻塞到 ctx 取消且所有 worker 退出
func Run(ctx context.Context, q *queue.Queue, p *Processor, n int) {
	if n <= 0 {
		n = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					log.Printf("Worker %d shutting down", workerID)
					return
				default:
				}

				// 从队列获取消息
				msg, err := q.Pop(ctx, popTimeout)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Printf("Worker %d: failed to pop message: %v", workerID, err)
					continue
				}

				if msg == nil {
					continue // 超时，继续等待
				}

				if err := p.Process(ctx, msg); err != nil {
					// 未标记 synced 的流水会被 Resyncer 重新提交
					log.Printf("Worker %d: sync %s failed: %v", workerID, msg.Reference, err)
				}
			}
		}(i)
	}

	wg.Wait()
}
