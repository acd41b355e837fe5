package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/paygate_server/config"
	"github.com/qs3c/paygate_server/internal/model"
	"github.com/qs3c/paygate_server/internal/pkg/queue"
	"github.com/qs3c/paygate_server/internal/remotesync"
	"github.com/qs3c/paygate_server/internal/repository"
	"github.com/qs3c/paygate_server/internal/testutil"
)

func setupQueue(t *testing.T) (*queue.Queue, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	return queue.NewQueue(client, "ledger_sync"), func() {
		client.Close()
		mr.Close()
	}
}

func TestProcessor_Process(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	ledger := repository.NewLedgerRepository(db)
	store := remotesync.NewMemoryStore()
	p := NewProcessor(remotesync.NewSyncer(store, ledger, nil))

	user := testutil.TestUser(t, db, testutil.WithEmail("sync@example.com"))
	testutil.TestPayment(t, db, user.ID, testutil.WithReference("pg_1"),
		testutil.WithUserEmail("sync@example.com"), testutil.WithPaymentStatus(model.PaymentStatusSuccessful))

	err := p.Process(context.Background(), &queue.SyncMessage{Reference: "pg_1", Owner: "sync@example.com"})
	require.NoError(t, err)

	entries, err := store.SelectByOwner(context.Background(), "sync@example.com")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "pg_1", entries[0].Reference)

	stored, err := ledger.GetByReference("pg_1")
	require.NoError(t, err)
	assert.NotNil(t, stored.SyncedAt)
}

func TestProcessor_Process_Invalid(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)

	p := NewProcessor(remotesync.NewSyncer(remotesync.NewMemoryStore(), repository.NewLedgerRepository(db), nil))

	assert.Error(t, p.Process(context.Background(), &queue.SyncMessage{}))
	assert.Error(t, p.Process(context.Background(), &queue.SyncMessage{Reference: "missing"}))
}

func TestRun_ConsumesQueue(t *testing.T) {
	popTimeout = 100 * time.Millisecond
	defer func() { popTimeout = 5 * time.Second }()

	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	q, cleanup := setupQueue(t)
	defer cleanup()

	ledger := repository.NewLedgerRepository(db)
	store := remotesync.NewMemoryStore()
	syncer := remotesync.NewSyncer(store, ledger, q)

	user := testutil.TestUser(t, db, testutil.WithEmail(""))
	attempt := testutil.TestPayment(t, db, user.ID, testutil.WithReference("pg_q"),
		testutil.WithPaymentStatus(model.PaymentStatusCancelled))

	syncer.Enqueue(context.Background(), attempt)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Run(ctx, q, NewProcessor(syncer), 2)
		close(done)
	}()

	owner := model.UserIdentity(user.ID, "")
	require.Eventually(t, func() bool {
		entries, _ := store.SelectByOwner(context.Background(), owner)
		return len(entries) == 1
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestResyncer_Run(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	q, cleanup := setupQueue(t)
	defer cleanup()

	ledger := repository.NewLedgerRepository(db)
	syncer := remotesync.NewSyncer(remotesync.NewMemoryStore(), ledger, q)

	user := testutil.TestUser(t, db)
	testutil.TestPayment(t, db, user.ID, testutil.WithReference("a"), testutil.WithPaymentStatus(model.PaymentStatusSuccessful))
	testutil.TestPayment(t, db, user.ID, testutil.WithReference("b"), testutil.WithPaymentStatus(model.PaymentStatusFailed))
	testutil.TestPayment(t, db, user.ID, testutil.WithReference("c"))

	r := NewResyncer(syncer, &config.ReconcileConfig{Interval: time.Hour, SyncRetryAge: -time.Minute, BatchSize: 10})
	assert.Equal(t, 2, r.run(context.Background()))

	length, err := q.Length(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), length)
}
