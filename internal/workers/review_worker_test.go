package workers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/codehorse/codehorse/internal/models"
	"github.com/codehorse/codehorse/internal/repositories"
	"github.com/codehorse/codehorse/internal/services"
	"github.com/codehorse/codehorse/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reviewWorkerFixture struct {
	db         *sql.DB
	runRepo    *repositories.WorkflowRunRepository
	stepRepo   *repositories.WorkflowStepRepository
	reviewRepo *repositories.ReviewRepository
	usageRepo  *repositories.UsageRepository
	host       *fakeHost
	chat       *fakeChat
	poster     *fakePoster
	worker     *ReviewWorker
	user       *models.User
	repo       *models.Repository
}

func newReviewWorkerFixture(t *testing.T) *reviewWorkerFixture {
	t.Helper()

	db := testutil.NewTestDB(t)
	userRepo := repositories.NewUserRepository(db)
	repoRepo := repositories.NewRepositoryRepository(db)
	reviewRepo := repositories.NewReviewRepository(db)
	usageRepo := repositories.NewUsageRepository(db)
	runRepo := repositories.NewWorkflowRunRepository(db)
	stepRepo := repositories.NewWorkflowStepRepository(db)

	user := models.NewUser("Test User", "testuser", "test@example.com")
	user.GitHubAccessToken = "gh-token"
	require.NoError(t, userRepo.Create(user))

	repo := models.NewRepository(user.ID, "acme", "widgets", 42)
	require.NoError(t, repoRepo.Create(repo))

	host := &fakeHost{
		diff: &services.PullRequestDiff{
			Title:       "Add feature",
			Description: "Adds the new feature",
			Diff:        "diff --git a/main.go b/main.go",
			URL:         "https://github.com/acme/widgets/pull/7",
		},
	}
	chat := &fakeChat{response: "The change looks solid."}
	poster := &fakePoster{}

	quota := services.NewQuotaService(userRepo, usageRepo, repoRepo)
	indexer := services.NewIndexingService(&fakeEmbedder{}, newMemoryIndex())
	reviews := services.NewReviewService(reviewRepo, poster)

	runner := newTestRunner(db)
	worker := NewReviewWorker("review-test", runRepo, repoRepo, userRepo, runner, host, quota, indexer, reviews, chat)

	return &reviewWorkerFixture{
		db:         db,
		runRepo:    runRepo,
		stepRepo:   stepRepo,
		reviewRepo: reviewRepo,
		usageRepo:  usageRepo,
		host:       host,
		chat:       chat,
		poster:     poster,
		worker:     worker,
		user:       user,
		repo:       repo,
	}
}

func (f *reviewWorkerFixture) enqueueAndClaim(t *testing.T, prNumber int) *models.WorkflowRun {
	t.Helper()

	run, err := models.NewWorkflowRun(models.RunTypeReviewPullRequest, models.RunPayload{
		Owner:    f.repo.Owner,
		Name:     f.repo.Name,
		PRNumber: prNumber,
		UserID:   f.user.ID,
	})
	require.NoError(t, err)

	queued, err := f.runRepo.Enqueue(run)
	require.NoError(t, err)
	require.True(t, queued)

	claimed, err := f.runRepo.ClaimNext(models.RunTypeReviewPullRequest, "review-test")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	return claimed
}

func TestReviewRunSucceedsEndToEnd(t *testing.T) {
	f := newReviewWorkerFixture(t)
	run := f.enqueueAndClaim(t, 7)

	f.worker.processRun(context.Background(), run)

	// Run reached terminal success
	stored, err := f.runRepo.GetByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, stored.Status)

	// Comment was posted with the generated text
	require.Len(t, f.poster.posted, 1)
	assert.Contains(t, f.poster.posted[0], "The change looks solid.")

	// Review row is completed
	reviews, err := f.reviewRepo.ListByUserID(f.user.ID, 10)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, models.ReviewStatusCompleted, reviews[0].Status)
	assert.Equal(t, "The change looks solid.", reviews[0].Body)

	// Usage counter was claimed exactly once
	count, err := f.usageRepo.GetReviewCount(f.user.ID, f.repo.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Every pipeline step left its memo
	steps, err := f.stepRepo.CountForRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, steps)
}

func TestReviewRunReplaysCompletedSteps(t *testing.T) {
	f := newReviewWorkerFixture(t)
	run := f.enqueueAndClaim(t, 7)

	// Simulate a previous attempt that finished generation and then died
	output, err := json.Marshal("Review from the first attempt")
	require.NoError(t, err)
	require.NoError(t, f.stepRepo.Save(models.NewWorkflowStep(run.ID, "generate-review", string(output))))

	f.worker.processRun(context.Background(), run)

	stored, err := f.runRepo.GetByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, stored.Status)

	// The model was never re-invoked, the recorded output was delivered
	assert.Equal(t, 0, f.chat.calls)
	require.Len(t, f.poster.posted, 1)
	assert.Contains(t, f.poster.posted[0], "Review from the first attempt")
}

func TestReviewRunRejectedWhenQuotaExhausted(t *testing.T) {
	f := newReviewWorkerFixture(t)

	// Burn the whole free-tier budget for this repository
	limit := *models.TierLimits[models.TierFree].ReviewsPerRepository
	for i := 0; i < limit; i++ {
		claimed, err := f.usageRepo.TryIncrementReviewCount(f.user.ID, f.repo.ID, &limit)
		require.NoError(t, err)
		require.True(t, claimed)
	}

	run := f.enqueueAndClaim(t, 7)
	f.worker.processRun(context.Background(), run)

	stored, err := f.runRepo.GetByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "review limit")

	// No comment went out and no model call was made
	assert.Empty(t, f.poster.posted)
	assert.Equal(t, 0, f.chat.calls)

	// The rejection is visible in review history
	reviews, err := f.reviewRepo.ListByUserID(f.user.ID, 10)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, models.ReviewStatusFailed, reviews[0].Status)
}

func TestReviewRunRetriesTransientDiffFailure(t *testing.T) {
	f := newReviewWorkerFixture(t)
	f.host.diffErrs = []error{
		&models.ContentFetchError{Retryable: true, Err: fmt.Errorf("rate limited")},
	}

	run := f.enqueueAndClaim(t, 7)
	f.worker.processRun(context.Background(), run)

	stored, err := f.runRepo.GetByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, stored.Status)
	assert.Equal(t, 2, f.host.diffCalls)
}

func TestReviewRunFailsForUnconnectedRepository(t *testing.T) {
	f := newReviewWorkerFixture(t)

	run, err := models.NewWorkflowRun(models.RunTypeReviewPullRequest, models.RunPayload{
		Owner:    "acme",
		Name:     "unknown",
		PRNumber: 3,
		UserID:   f.user.ID,
	})
	require.NoError(t, err)
	require.NoError(t, f.runRepo.Create(run))

	claimed, err := f.runRepo.ClaimNext(models.RunTypeReviewPullRequest, "review-test")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	f.worker.processRun(context.Background(), claimed)

	stored, err := f.runRepo.GetByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "not connected")
}

func TestReviewRunGenerationFailureIsRecorded(t *testing.T) {
	f := newReviewWorkerFixture(t)
	f.chat.err = fmt.Errorf("model unavailable")

	run := f.enqueueAndClaim(t, 7)
	f.worker.processRun(context.Background(), run)

	stored, err := f.runRepo.GetByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "model unavailable")

	// The failure lands in review history with a diagnostic body
	reviews, err := f.reviewRepo.ListByUserID(f.user.ID, 10)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, models.ReviewStatusFailed, reviews[0].Status)
	assert.Contains(t, reviews[0].Body, "model unavailable")

	// Nothing was posted and no quota slot was burned
	assert.Empty(t, f.poster.posted)
	count, err := f.usageRepo.GetReviewCount(f.user.ID, f.repo.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestReviewRunReclaimedAfterDeliveryOpensNoNewReview(t *testing.T) {
	f := newReviewWorkerFixture(t)
	run := f.enqueueAndClaim(t, 7)

	f.worker.processRun(context.Background(), run)
	require.Len(t, f.poster.posted, 1)

	// The janitor may hand the run to another worker after delivery but
	// before the success status landed; the replay must settle cleanly
	f.worker.processRun(context.Background(), run)

	// Still exactly one review, still completed, no dangling pending row
	reviews, err := f.reviewRepo.ListByUserID(f.user.ID, 10)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, models.ReviewStatusCompleted, reviews[0].Status)

	pending, err := f.reviewRepo.GetPendingByPR(f.repo.ID, 7)
	require.NoError(t, err)
	assert.Nil(t, pending)

	// The comment was not re-posted and the quota was not double-claimed
	assert.Len(t, f.poster.posted, 1)
	count, err := f.usageRepo.GetReviewCount(f.user.ID, f.repo.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReviewRunDeliveryFailureKeepsGeneratedText(t *testing.T) {
	f := newReviewWorkerFixture(t)
	f.poster.fail = true

	run := f.enqueueAndClaim(t, 7)
	f.worker.processRun(context.Background(), run)

	stored, err := f.runRepo.GetByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, stored.Status)

	// Exactly one failed review, carrying the model output
	reviews, err := f.reviewRepo.ListByUserID(f.user.ID, 10)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, models.ReviewStatusFailed, reviews[0].Status)
	assert.Contains(t, reviews[0].Body, "The change looks solid.")
}
