package paystack

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	eventKeyPrefix = "paystack:event:"
	eventTTL       = 72 * time.Hour
)

// EventStore 记录已处理的 webhook 事件，Paystack 会重复投递同一事件
type EventStore struct {
	rdb *redis.Client
}

func NewEventStore(rdb *redis.Client) *EventStore {
	return &EventStore{rdb: rdb}
}

// Claim 首次见到该事件返回 true；重复投递返回 false
func (s *EventStore) Claim(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, fmt.Errorf("empty event id")
	}
	ok, err := s.rdb.SetNX(ctx, eventKeyPrefix+eventID, time.Now().Unix(), eventTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim event: %w", err)
	}
	return ok, nil
}

// Release 处理失败时释放，允许网关重投后再次处理
func (s *EventStore) Release(ctx context.Context, eventID string) error {
	return s.rdb.Del(ctx, eventKeyPrefix+eventID).Err()
}
