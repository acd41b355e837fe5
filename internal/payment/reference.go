package payment

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var referenceSeq atomic.Uint64

// NewReference 生成交易流水号：前缀 + 毫秒时间戳 + 进程内序号（取模 100000 回绕，不保证有序）+ 随机段。
// 唯一性依赖随机段，序号只用于区分同一毫秒内的流水号
func NewReference(prefix string) string {
	if prefix == "" {
		prefix = "pg"
	}
	seq := referenceSeq.Add(1) % 100000
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%d_%05d_%s", prefix, time.Now().UnixMilli(), seq, random)
}
