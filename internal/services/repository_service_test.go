package services

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/codehorse/codehorse/internal/models"
	"github.com/codehorse/codehorse/internal/repositories"
	"github.com/codehorse/codehorse/internal/testutil"
	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGitHub is an httptest-backed GitHub that tracks hooks per repository
type fakeGitHub struct {
	server *httptest.Server
	hooks  map[string]int64
	nextID atomic.Int64
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()

	f := &fakeGitHub{hooks: make(map[string]int64)}

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/", func(w http.ResponseWriter, r *http.Request) {
		key := hookKey(r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			if id, ok := f.hooks[key]; ok {
				fmt.Fprintf(w, `[{"id": %d, "config": {"url": %q}}]`, id, testCallbackURL)
				return
			}
			fmt.Fprint(w, `[]`)
		case http.MethodPost:
			id := f.nextID.Add(1)
			f.hooks[key] = id
			w.WriteHeader(http.StatusCreated)
			fmt.Fprintf(w, `{"id": %d}`, id)
		case http.MethodDelete:
			delete(f.hooks, key)
			w.WriteHeader(http.StatusNoContent)
		}
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

// hookKey reduces a hooks path like /repos/{owner}/{name}/hooks[/{id}]
// to its owner/name pair
func hookKey(path string) string {
	parts := strings.Split(strings.TrimPrefix(path, "/repos/"), "/")
	if len(parts) < 2 {
		return path
	}
	return parts[0] + "/" + parts[1]
}

func (f *fakeGitHub) service(t *testing.T) *GitHubService {
	t.Helper()

	factory := func(token string) *github.Client {
		client := github.NewClient(nil)
		base, err := url.Parse(f.server.URL + "/")
		require.NoError(t, err)
		client.BaseURL = base
		client.UploadURL = base
		return client
	}
	return NewGitHubServiceWithFactory(testCallbackURL, "", factory)
}

type repoServiceFixture struct {
	db        *sql.DB
	github    *fakeGitHub
	runRepo   *repositories.WorkflowRunRepository
	repoRepo  *repositories.RepositoryRepository
	usageRepo *repositories.UsageRepository
	service   *RepositoryService
	user      *models.User
}

func newRepoServiceFixture(t *testing.T) *repoServiceFixture {
	t.Helper()

	db := testutil.NewTestDB(t)
	userRepo := repositories.NewUserRepository(db)
	repoRepo := repositories.NewRepositoryRepository(db)
	usageRepo := repositories.NewUsageRepository(db)
	runRepo := repositories.NewWorkflowRunRepository(db)

	user := models.NewUser("Test User", "testuser", "test@example.com")
	user.GitHubAccessToken = "gh-token"
	require.NoError(t, userRepo.Create(user))

	gh := newFakeGitHub(t)
	quota := NewQuotaService(userRepo, usageRepo, repoRepo)
	workflows := NewWorkflowService(runRepo)
	service := NewRepositoryService(repoRepo, quota, gh.service(t), workflows)

	return &repoServiceFixture{
		db:        db,
		github:    gh,
		runRepo:   runRepo,
		repoRepo:  repoRepo,
		usageRepo: usageRepo,
		service:   service,
		user:      user,
	}
}

func TestConnectRegistersHookAndQueuesIndexing(t *testing.T) {
	f := newRepoServiceFixture(t)

	repo, err := f.service.Connect(context.Background(), f.user, "acme", "widgets", 42)
	require.NoError(t, err)
	assert.Equal(t, "acme/widgets", repo.FullName)

	// Hook registered upstream
	assert.Len(t, f.github.hooks, 1)

	// Quota slot claimed
	count, err := f.usageRepo.GetRepositoryCount(f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Indexing workflow queued
	run, err := f.runRepo.ClaimNext(models.RunTypeIndexRepository, "test-worker")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "acme/widgets", run.NaturalKey)
}

func TestConnectIsIdempotent(t *testing.T) {
	f := newRepoServiceFixture(t)

	first, err := f.service.Connect(context.Background(), f.user, "acme", "widgets", 42)
	require.NoError(t, err)

	second, err := f.service.Connect(context.Background(), f.user, "acme", "widgets", 42)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// No double-counted quota slot
	count, err := f.usageRepo.GetRepositoryCount(f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestConnectRejectedAtRepositoryLimit(t *testing.T) {
	f := newRepoServiceFixture(t)

	limit := *models.TierLimits[models.TierFree].Repositories
	for i := 0; i < limit; i++ {
		_, err := f.service.Connect(context.Background(), f.user, "acme", fmt.Sprintf("repo-%d", i), int64(i+1))
		require.NoError(t, err)
	}

	_, err := f.service.Connect(context.Background(), f.user, "acme", "one-too-many", 99)
	require.Error(t, err)

	var rateLimit *models.RateLimitError
	assert.ErrorAs(t, err, &rateLimit)
}

func TestConnectRollsBackWhenQuotaClaimErrors(t *testing.T) {
	f := newRepoServiceFixture(t)

	// Break only the counter increment: the pre-flight read still passes,
	// so the connect proceeds up to the authoritative claim and errors there
	_, err := f.db.Exec(`
		CREATE TRIGGER block_usage_updates BEFORE UPDATE ON user_usage
		BEGIN SELECT RAISE(ABORT, 'usage table unavailable'); END
	`)
	require.NoError(t, err)

	_, err = f.service.Connect(context.Background(), f.user, "acme", "widgets", 42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage table unavailable")

	// The webhook and the record were both rolled back
	assert.Empty(t, f.github.hooks)
	remaining, err := f.repoRepo.GetByUserID(f.user.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestConnectRequiresLinkedAccount(t *testing.T) {
	f := newRepoServiceFixture(t)
	f.user.GitHubAccessToken = ""

	_, err := f.service.Connect(context.Background(), f.user, "acme", "widgets", 42)

	var notLinked *models.NotLinkedError
	assert.ErrorAs(t, err, &notLinked)
}

func TestDisconnectRemovesHookAndFreesSlot(t *testing.T) {
	f := newRepoServiceFixture(t)

	repo, err := f.service.Connect(context.Background(), f.user, "acme", "widgets", 42)
	require.NoError(t, err)

	require.NoError(t, f.service.Disconnect(context.Background(), f.user, repo.ID))

	assert.Empty(t, f.github.hooks)

	count, err := f.usageRepo.GetRepositoryCount(f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	remaining, err := f.repoRepo.GetByUserID(f.user.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestDisconnectAllReportsPerItemResults(t *testing.T) {
	f := newRepoServiceFixture(t)

	_, err := f.service.Connect(context.Background(), f.user, "acme", "alpha", 1)
	require.NoError(t, err)
	_, err = f.service.Connect(context.Background(), f.user, "acme", "beta", 2)
	require.NoError(t, err)

	results, err := f.service.DisconnectAll(context.Background(), f.user)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, result := range results {
		assert.True(t, result.Success, "disconnect of %s should succeed", result.FullName)
	}

	remaining, err := f.repoRepo.GetByUserID(f.user.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
