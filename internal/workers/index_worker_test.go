package workers

import (
	"context"
	"fmt"
	"testing"

	"github.com/codehorse/codehorse/internal/models"
	"github.com/codehorse/codehorse/internal/repositories"
	"github.com/codehorse/codehorse/internal/services"
	"github.com/codehorse/codehorse/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type indexWorkerFixture struct {
	runRepo  *repositories.WorkflowRunRepository
	stepRepo *repositories.WorkflowStepRepository
	host     *fakeHost
	index    *memoryIndex
	runner   *StepRunner
	worker   *IndexWorker
	user     *models.User
}

func newIndexWorkerFixture(t *testing.T) *indexWorkerFixture {
	t.Helper()

	db := testutil.NewTestDB(t)
	userRepo := repositories.NewUserRepository(db)
	runRepo := repositories.NewWorkflowRunRepository(db)
	stepRepo := repositories.NewWorkflowStepRepository(db)

	user := models.NewUser("Test User", "testuser", "test@example.com")
	user.GitHubAccessToken = "gh-token"
	require.NoError(t, userRepo.Create(user))

	host := &fakeHost{
		files: []services.RepoFile{
			{Path: "main.go", Content: "package main"},
			{Path: "pkg/util.go", Content: "package pkg"},
		},
	}
	index := newMemoryIndex()
	indexer := services.NewIndexingService(&fakeEmbedder{}, index)

	runner := newTestRunner(db)
	worker := NewIndexWorker("index-test", runRepo, userRepo, runner, host, indexer)

	return &indexWorkerFixture{
		runRepo:  runRepo,
		stepRepo: stepRepo,
		host:     host,
		index:    index,
		runner:   runner,
		worker:   worker,
		user:     user,
	}
}

func (f *indexWorkerFixture) enqueueAndClaim(t *testing.T, userID string) *models.WorkflowRun {
	t.Helper()

	run, err := models.NewWorkflowRun(models.RunTypeIndexRepository, models.RunPayload{
		Owner:  "acme",
		Name:   "widgets",
		UserID: userID,
	})
	require.NoError(t, err)
	require.NoError(t, f.runRepo.Create(run))

	claimed, err := f.runRepo.ClaimNext(models.RunTypeIndexRepository, "index-test")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	return claimed
}

func TestIndexRunSucceedsEndToEnd(t *testing.T) {
	f := newIndexWorkerFixture(t)
	run := f.enqueueAndClaim(t, f.user.ID)

	f.worker.processRun(context.Background(), run)

	stored, err := f.runRepo.GetByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, stored.Status)

	// Both files landed in the index under the repository namespace
	assert.Len(t, f.index.vectors, 2)
	chunk, ok := f.index.vectors[services.ChunkID("acme/widgets", "main.go")]
	require.True(t, ok)
	assert.Equal(t, "acme/widgets", chunk.Metadata.Namespace)

	steps, err := f.stepRepo.CountForRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, steps)
}

func TestIndexRunFailsWithoutLinkedAccount(t *testing.T) {
	f := newIndexWorkerFixture(t)

	// A user without a GitHub token cannot index
	run := f.enqueueAndClaim(t, "missing-user")
	f.worker.processRun(context.Background(), run)

	stored, err := f.runRepo.GetByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "not linked")
	assert.Empty(t, f.index.vectors)
}

func TestIndexRunResumesAfterCrash(t *testing.T) {
	f := newIndexWorkerFixture(t)
	run := f.enqueueAndClaim(t, f.user.ID)

	// First attempt dies after fetching the tree
	f.host.treeErrs = nil
	files, err := runStep(context.Background(), f.runner, run, "fetch-repo-files", func(ctx context.Context) ([]services.RepoFile, error) {
		return f.host.FetchTree(ctx, "gh-token", "acme", "widgets", "")
	})
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, 1, f.host.treeCalls)

	// The resumed run replays the fetch and only executes indexing
	f.worker.processRun(context.Background(), run)

	stored, err := f.runRepo.GetByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, stored.Status)
	assert.Equal(t, 1, f.host.treeCalls, "tree fetch must not repeat")
	assert.Len(t, f.index.vectors, 2)
}

func TestIndexRunFailsWhenTreeFetchExhaustsRetries(t *testing.T) {
	f := newIndexWorkerFixture(t)
	f.host.treeErrs = []error{
		&models.ContentFetchError{Retryable: true, Err: fmt.Errorf("rate limited")},
		&models.ContentFetchError{Retryable: true, Err: fmt.Errorf("rate limited")},
		&models.ContentFetchError{Retryable: true, Err: fmt.Errorf("rate limited")},
	}

	run := f.enqueueAndClaim(t, f.user.ID)
	f.worker.processRun(context.Background(), run)

	stored, err := f.runRepo.GetByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	assert.Equal(t, 3, f.host.treeCalls)
}
