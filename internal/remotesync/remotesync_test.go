package remotesync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/paygate_server/internal/model"
	"github.com/qs3c/paygate_server/internal/pkg/queue"
	"github.com/qs3c/paygate_server/internal/repository"
	"github.com/qs3c/paygate_server/internal/testutil"
)

// fakeObjects 内存版对象存储
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (f *fakeObjects) Key(parts ...string) string {
	return "test/" + strings.Join(parts, "/")
}

func (f *fakeObjects) PutObject(key string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.objects[key] = data
	return nil
}

func (f *fakeObjects) GetObject(key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (f *fakeObjects) ListKeys(prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func entry(ref string, created time.Time) *Entry {
	return &Entry{Reference: ref, PlanID: "yearly", Amount: "3.50", Status: model.PaymentStatusSuccessful, CreatedAt: created}
}

func testStores() map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"object": NewObjectBackedStore(newFakeObjects()),
	}
}

func TestStore_InsertAndSelect(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for name, store := range testStores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Insert(ctx, "a@example.com", entry("old", base)))
			require.NoError(t, store.Insert(ctx, "a@example.com", entry("new", base.Add(time.Hour))))
			require.NoError(t, store.Insert(ctx, "b@example.com", entry("other", base)))

			entries, err := store.SelectByOwner(ctx, "a@example.com")
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, "new", entries[0].Reference)
			assert.Equal(t, "old", entries[1].Reference)

			// 同一 reference 覆盖
			updated := entry("old", base)
			updated.Status = model.PaymentStatusFailed
			require.NoError(t, store.Insert(ctx, "a@example.com", updated))
			entries, err = store.SelectByOwner(ctx, "a@example.com")
			require.NoError(t, err)
			require.Len(t, entries, 2)
			assert.Equal(t, model.PaymentStatusFailed, entries[1].Status)

			empty, err := store.SelectByOwner(ctx, "nobody@example.com")
			require.NoError(t, err)
			assert.Empty(t, empty)

			assert.Error(t, store.Insert(ctx, "", entry("x", base)))
		})
	}
}

func TestObjectBackedStore_Keys(t *testing.T) {
	objects := newFakeObjects()
	store := NewObjectBackedStore(objects)

	require.NoError(t, store.Insert(context.Background(), "a/b@example.com", entry("pg_1", time.Now())))

	_, err := objects.GetObject("test/ledger/a%2Fb@example.com/pg_1.json")
	assert.NoError(t, err)
}

func TestObjectBackedStore_SkipsCorruptObjects(t *testing.T) {
	objects := newFakeObjects()
	store := NewObjectBackedStore(objects)
	require.NoError(t, store.Insert(context.Background(), "user-1", entry("good", time.Now())))
	objects.objects["test/ledger/user-1/bad.json"] = []byte("{")
	objects.objects["test/ledger/user-1/readme.txt"] = []byte("x")

	entries, err := store.SelectByOwner(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "good", entries[0].Reference)
}

func TestEntryFromAttempt(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	a := testutil.TestPayment(t, db, 9, testutil.WithPlan("yearly", "3.5"))
	e := EntryFromAttempt(a)

	assert.Equal(t, "user-9", e.Owner)
	assert.Equal(t, "3.50", e.Amount)
	assert.Equal(t, "yearly", e.PlanID)
}

func TestSyncer_Mirror(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	ledger := repository.NewLedgerRepository(db)
	store := NewMemoryStore()
	s := NewSyncer(store, ledger, nil)
	ctx := context.Background()

	testutil.TestPayment(t, db, 1, testutil.WithReference("done"),
		testutil.WithUserEmail("m@example.com"), testutil.WithPaymentStatus(model.PaymentStatusSuccessful))
	testutil.TestPayment(t, db, 1, testutil.WithReference("open"), testutil.WithUserEmail("m@example.com"))

	require.NoError(t, s.Mirror(ctx, "done"))
	require.NoError(t, s.Mirror(ctx, "open"))

	history, err := s.History(ctx, "m@example.com")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	done, _ := ledger.GetByReference("done")
	open, _ := ledger.GetByReference("open")
	assert.NotNil(t, done.SyncedAt)
	assert.Nil(t, open.SyncedAt)

	assert.Error(t, s.Mirror(ctx, "missing"))
}

func TestSyncer_MirrorStoreFailure(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	objects := newFakeObjects()
	objects.putErr = errors.New("oss unavailable")
	ledger := repository.NewLedgerRepository(db)
	s := NewSyncer(NewObjectBackedStore(objects), ledger, nil)

	testutil.TestPayment(t, db, 1, testutil.WithReference("done"), testutil.WithPaymentStatus(model.PaymentStatusSuccessful))

	assert.Error(t, s.Mirror(context.Background(), "done"))
	stored, _ := ledger.GetByReference("done")
	assert.Nil(t, stored.SyncedAt)
}

func TestSyncer_EnqueueWithoutQueue(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	ledger := repository.NewLedgerRepository(db)
	store := NewMemoryStore()
	s := NewSyncer(store, ledger, nil)

	a := testutil.TestPayment(t, db, 3, testutil.WithPaymentStatus(model.PaymentStatusCancelled))
	s.Enqueue(context.Background(), a)

	require.Eventually(t, func() bool {
		entries, _ := store.SelectByOwner(context.Background(), "user-3")
		return len(entries) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSyncer_EnqueueAndRetry(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	q := queue.NewQueue(client, "ledger_sync")
	ledger := repository.NewLedgerRepository(db)
	s := NewSyncer(NewMemoryStore(), ledger, q)
	ctx := context.Background()

	a := testutil.TestPayment(t, db, 4, testutil.WithReference("pg_r"),
		testutil.WithUserEmail("r@example.com"), testutil.WithPaymentStatus(model.PaymentStatusSuccessful))
	s.Enqueue(ctx, a)

	msg, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "pg_r", msg.Reference)
	assert.Equal(t, "r@example.com", msg.Owner)

	n, err := s.RetryUnsynced(ctx, -time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	length, _ := q.Length(ctx)
	assert.Equal(t, int64(1), length)

	// 队列不可用时只记录日志
	mr.Close()
	s.Enqueue(ctx, a)
}
