package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/paygate_server/internal/entitlement"
	"github.com/qs3c/paygate_server/internal/model"
	"github.com/qs3c/paygate_server/internal/repository"
	"github.com/qs3c/paygate_server/internal/testutil"
)

// 2024-01-01 是周一
func setupAccessService(t *testing.T) (*AccessService, *repository.EntitlementRepository, func()) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	repo := repository.NewEntitlementRepository(db)

	rule, err := entitlement.NewWeekdayRule([]string{"sunday"}, "UTC")
	require.NoError(t, err)
	engine := entitlement.NewEngine(entitlement.Policy{
		FreeAccess:   rule,
		FreeVariants: []string{"kjv"},
	})

	svc := NewAccessService(repo, engine)
	svc.now = func() time.Time { return purchaseTime }

	return svc, repo, func() { testutil.CleanupTestDB(t, db) }
}

func TestAccessService_FreeUser(t *testing.T) {
	svc, _, cleanup := setupAccessService(t)
	defer cleanup()

	ok, err := svc.CheckAccess(1, entitlement.FeatureGatedContent)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.CheckAccess(1, "variant:kjv")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.CheckAccess(1, "variant:niv")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.CheckAccess(1, "offline_download")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAccessService_FreeAccessDay(t *testing.T) {
	svc, _, cleanup := setupAccessService(t)
	defer cleanup()

	svc.now = func() time.Time { return purchaseTime.Add(6 * 24 * time.Hour) } // 周日

	ok, err := svc.CheckAccess(1, entitlement.FeatureGatedContent)
	require.NoError(t, err)
	assert.True(t, ok)

	snap, err := svc.Entitlement(1)
	require.NoError(t, err)
	assert.True(t, snap.FreeAccessNow)
	assert.False(t, snap.Premium)
}

func TestAccessService_PremiumUser(t *testing.T) {
	svc, repo, cleanup := setupAccessService(t)
	defer cleanup()

	expires := purchaseTime.Add(90 * 24 * time.Hour)
	require.NoError(t, repo.Save(7, model.EntitlementState{Tier: model.TierT1, ExpiresAt: &expires, PurchasedAt: &purchaseTime}, "pg_1"))

	for _, feature := range []string{entitlement.FeatureGatedContent, "variant:niv", "offline_download"} {
		ok, err := svc.CheckAccess(7, feature)
		require.NoError(t, err)
		assert.True(t, ok, feature)
	}

	snap, err := svc.Entitlement(7)
	require.NoError(t, err)
	assert.Equal(t, model.TierT1, snap.Tier)
	assert.True(t, snap.Premium)
	assert.Equal(t, 90, snap.DaysRemaining)
}

func TestAccessService_ExpiredDegradesToFree(t *testing.T) {
	svc, repo, cleanup := setupAccessService(t)
	defer cleanup()

	expired := purchaseTime.Add(-time.Hour)
	require.NoError(t, repo.Save(8, model.EntitlementState{Tier: model.TierT3, ExpiresAt: &expired}, "pg_2"))

	ok, err := svc.CheckAccess(8, "variant:niv")
	require.NoError(t, err)
	assert.False(t, ok)

	snap, err := svc.Entitlement(8)
	require.NoError(t, err)
	assert.Equal(t, model.TierFree, snap.Tier)
	assert.Equal(t, model.TierT3, snap.StoredTier)
	assert.Equal(t, 0, snap.DaysRemaining)
}
