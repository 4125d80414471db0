package services

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/codehorse/codehorse/internal/models"
	"github.com/codehorse/codehorse/internal/repositories"
	"github.com/codehorse/codehorse/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type quotaFixture struct {
	db       *sql.DB
	userRepo *repositories.UserRepository
	repoRepo *repositories.RepositoryRepository
	quota    *QuotaService
}

func newQuotaFixture(t *testing.T) *quotaFixture {
	t.Helper()

	db := testutil.NewTestDB(t)
	userRepo := repositories.NewUserRepository(db)
	repoRepo := repositories.NewRepositoryRepository(db)
	usageRepo := repositories.NewUsageRepository(db)

	return &quotaFixture{
		db:       db,
		userRepo: userRepo,
		repoRepo: repoRepo,
		quota:    NewQuotaService(userRepo, usageRepo, repoRepo),
	}
}

func (f *quotaFixture) createUser(t *testing.T, tier models.SubscriptionTier) *models.User {
	t.Helper()

	user := models.NewUser("Test User", "testuser", "test@example.com")
	user.SubscriptionTier = tier
	require.NoError(t, f.userRepo.Create(user))
	return user
}

func (f *quotaFixture) createRepository(t *testing.T, userID, name string, githubID int64) *models.Repository {
	t.Helper()

	repo := models.NewRepository(userID, "acme", name, githubID)
	require.NoError(t, f.repoRepo.Create(repo))
	return repo
}

func TestGetTierDefaultsToFree(t *testing.T) {
	f := newQuotaFixture(t)

	// Unknown users are treated as free tier
	tier, err := f.quota.GetTier("nonexistent")
	require.NoError(t, err)
	assert.Equal(t, models.TierFree, tier)
}

func TestFreeTierRepositoryLimit(t *testing.T) {
	f := newQuotaFixture(t)
	user := f.createUser(t, models.TierFree)

	limit := *models.TierLimits[models.TierFree].Repositories
	for i := 0; i < limit; i++ {
		claimed, err := f.quota.AuthorizeRepositoryConnect(user.ID)
		require.NoError(t, err)
		assert.True(t, claimed, "slot %d should be granted", i+1)
	}

	// The slot after the limit is rejected
	claimed, err := f.quota.AuthorizeRepositoryConnect(user.ID)
	require.NoError(t, err)
	assert.False(t, claimed)

	allowed, err := f.quota.CanConnectRepository(user.ID)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestProTierIsUnlimited(t *testing.T) {
	f := newQuotaFixture(t)
	user := f.createUser(t, models.TierPro)

	for i := 0; i < 20; i++ {
		claimed, err := f.quota.AuthorizeRepositoryConnect(user.ID)
		require.NoError(t, err)
		require.True(t, claimed)
	}

	allowed, err := f.quota.CanConnectRepository(user.ID)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestUpgradeToProLiftsRepositoryLimit(t *testing.T) {
	f := newQuotaFixture(t)
	user := f.createUser(t, models.TierFree)

	limit := *models.TierLimits[models.TierFree].Repositories
	for i := 0; i < limit; i++ {
		claimed, err := f.quota.AuthorizeRepositoryConnect(user.ID)
		require.NoError(t, err)
		require.True(t, claimed)
	}

	allowed, err := f.quota.CanConnectRepository(user.ID)
	require.NoError(t, err)
	require.False(t, allowed)

	// Upgrading the plan lifts the cap without touching the counters
	require.NoError(t, f.userRepo.UpdateSubscriptionTier(user.ID, models.TierPro))

	allowed, err = f.quota.CanConnectRepository(user.ID)
	require.NoError(t, err)
	assert.True(t, allowed)

	claimed, err := f.quota.AuthorizeRepositoryConnect(user.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	limits, err := f.quota.GetRemainingLimits(user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TierPro, limits.Tier)
	assert.Equal(t, limit+1, limits.Repositories.Current)
	assert.Nil(t, limits.Repositories.Limit)
}

func TestReleaseRepositoryFreesSlot(t *testing.T) {
	f := newQuotaFixture(t)
	user := f.createUser(t, models.TierFree)

	limit := *models.TierLimits[models.TierFree].Repositories
	for i := 0; i < limit; i++ {
		claimed, err := f.quota.AuthorizeRepositoryConnect(user.ID)
		require.NoError(t, err)
		require.True(t, claimed)
	}

	require.NoError(t, f.quota.ReleaseRepository(user.ID))

	claimed, err := f.quota.AuthorizeRepositoryConnect(user.ID)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestReleaseRepositoryNeverGoesNegative(t *testing.T) {
	f := newQuotaFixture(t)
	user := f.createUser(t, models.TierFree)

	// Release without any prior claim must not underflow the counter
	require.NoError(t, f.quota.ReleaseRepository(user.ID))

	limits, err := f.quota.GetRemainingLimits(user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, limits.Repositories.Current)
}

func TestReviewLimitIsPerRepository(t *testing.T) {
	f := newQuotaFixture(t)
	user := f.createUser(t, models.TierFree)
	repoA := f.createRepository(t, user.ID, "alpha", 1)
	repoB := f.createRepository(t, user.ID, "beta", 2)

	limit := *models.TierLimits[models.TierFree].ReviewsPerRepository
	for i := 0; i < limit; i++ {
		claimed, err := f.quota.AuthorizeReview(user.ID, repoA.ID)
		require.NoError(t, err)
		require.True(t, claimed)
	}

	// Repository A is exhausted, repository B is untouched
	claimed, err := f.quota.AuthorizeReview(user.ID, repoA.ID)
	require.NoError(t, err)
	assert.False(t, claimed)

	claimed, err = f.quota.AuthorizeReview(user.ID, repoB.ID)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestGetRemainingLimitsSnapshot(t *testing.T) {
	f := newQuotaFixture(t)
	user := f.createUser(t, models.TierFree)

	repos := make([]*models.Repository, 3)
	for i := range repos {
		repos[i] = f.createRepository(t, user.ID, fmt.Sprintf("repo-%d", i), int64(i+1))
		claimed, err := f.quota.AuthorizeRepositoryConnect(user.ID)
		require.NoError(t, err)
		require.True(t, claimed)
	}

	claimed, err := f.quota.AuthorizeReview(user.ID, repos[0].ID)
	require.NoError(t, err)
	require.True(t, claimed)

	limits, err := f.quota.GetRemainingLimits(user.ID)
	require.NoError(t, err)

	assert.Equal(t, models.TierFree, limits.Tier)
	assert.Equal(t, 3, limits.Repositories.Current)
	assert.True(t, limits.Repositories.CanAdd)
	assert.Len(t, limits.Reviews, 3)
	assert.Equal(t, 1, limits.Reviews[repos[0].ID].Current)
	assert.Equal(t, 0, limits.Reviews[repos[1].ID].Current)
	assert.True(t, limits.Reviews[repos[0].ID].CanAdd)
}
