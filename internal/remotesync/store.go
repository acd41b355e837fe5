package remotesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/qs3c/paygate_server/internal/model"
)

// Entry 远端保存的流水副本，只用于跨设备展示历史
type Entry struct {
	Reference  string            `json:"reference"`
	Owner      string            `json:"owner"`
	UserID     int64             `json:"user_id"`
	UserName   string            `json:"user_name,omitempty"`
	PlanID     string            `json:"plan_id"`
	Amount     string            `json:"amount"`
	Currency   string            `json:"currency"`
	Status     string            `json:"status"`
	Message    string            `json:"message,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	VerifiedAt *time.Time        `json:"verified_at,omitempty"`
	SyncedAt   time.Time         `json:"synced_at"`
}

// EntryFromAttempt 本地流水转为远端记录
func EntryFromAttempt(a *model.PaymentAttempt) *Entry {
	return &Entry{
		Reference:  a.Reference,
		Owner:      a.Identity(),
		UserID:     a.UserID,
		UserName:   a.UserName,
		PlanID:     a.PlanID,
		Amount:     a.Amount.StringFixed(2),
		Currency:   a.Currency,
		Status:     a.Status,
		Message:    a.Message,
		Metadata:   a.Metadata,
		CreatedAt:  a.CreatedAt,
		VerifiedAt: a.VerifiedAt,
	}
}

// Store 远端存储。同一 owner 下按 reference 覆盖写入
type Store interface {
	Insert(ctx context.Context, owner string, entry *Entry) error
	SelectByOwner(ctx context.Context, owner string) ([]*Entry, error)
}

// sortNewestFirst 按创建时间倒序
func sortNewestFirst(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}

// MemoryStore 进程内实现，未配置 OSS 时使用
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]map[string]*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]map[string]*Entry)}
}

func (s *MemoryStore) Insert(ctx context.Context, owner string, entry *Entry) error {
	if owner == "" {
		return errors.New("empty owner")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byRef, ok := s.entries[owner]
	if !ok {
		byRef = make(map[string]*Entry)
		s.entries[owner] = byRef
	}
	cp := *entry
	byRef[entry.Reference] = &cp
	return nil
}

func (s *MemoryStore) SelectByOwner(ctx context.Context, owner string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Entry, 0, len(s.entries[owner]))
	for _, e := range s.entries[owner] {
		cp := *e
		out = append(out, &cp)
	}
	sortNewestFirst(out)
	return out, nil
}

// ObjectStore 对象存储的最小接口，由 internal/pkg/oss.Client 实现
type ObjectStore interface {
	Key(parts ...string) string
	PutObject(objectKey string, data []byte, contentType string) error
	GetObject(objectKey string) ([]byte, error)
	ListKeys(prefix string) ([]string, error)
}

// ObjectBackedStore 每条流水一个 JSON 对象：ledger/<owner>/<reference>.json
type ObjectBackedStore struct {
	objects ObjectStore
}

func NewObjectBackedStore(objects ObjectStore) *ObjectBackedStore {
	return &ObjectBackedStore{objects: objects}
}

func (s *ObjectBackedStore) ownerPrefix(owner string) string {
	return s.objects.Key("ledger", url.PathEscape(owner)) + "/"
}

func (s *ObjectBackedStore) Insert(ctx context.Context, owner string, entry *Entry) error {
	if owner == "" {
		return errors.New("empty owner")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	key := s.ownerPrefix(owner) + url.PathEscape(entry.Reference) + ".json"
	return s.objects.PutObject(key, data, "application/json")
}

func (s *ObjectBackedStore) SelectByOwner(ctx context.Context, owner string) ([]*Entry, error) {
	keys, err := s.objects.ListKeys(s.ownerPrefix(owner))
	if err != nil {
		return nil, err
	}

	out := make([]*Entry, 0, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		data, err := s.objects.GetObject(key)
		if err != nil {
			return nil, err
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue // 跳过损坏的对象
		}
		out = append(out, &e)
	}
	sortNewestFirst(out)
	return out, nil
}
