package workers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/codehorse/codehorse/internal/models"
	"github.com/codehorse/codehorse/internal/repositories"
	"github.com/codehorse/codehorse/internal/services"
	"github.com/codehorse/codehorse/pkg/logger"
	"github.com/sirupsen/logrus"
)

// ReviewWorker executes review_pull_request runs: it authorizes against the
// quota, fetches the PR diff, retrieves related code from the vector index,
// generates the review with the language model and delivers it as a comment.
type ReviewWorker struct {
	*BaseWorker
	runRepo  *repositories.WorkflowRunRepository
	repoRepo *repositories.RepositoryRepository
	userRepo *repositories.UserRepository
	runner   *StepRunner
	host     SourceHost
	quota    *services.QuotaService
	indexer  *services.IndexingService
	reviews  *services.ReviewService
	chat     services.ChatModel
}

// NewReviewWorker creates a new review worker
func NewReviewWorker(workerID string, runRepo *repositories.WorkflowRunRepository, repoRepo *repositories.RepositoryRepository, userRepo *repositories.UserRepository, runner *StepRunner, host SourceHost, quota *services.QuotaService, indexer *services.IndexingService, reviews *services.ReviewService, chat services.ChatModel) *ReviewWorker {
	return &ReviewWorker{
		BaseWorker: NewBaseWorker(workerID, models.RunTypeReviewPullRequest),
		runRepo:    runRepo,
		repoRepo:   repoRepo,
		userRepo:   userRepo,
		runner:     runner,
		host:       host,
		quota:      quota,
		indexer:    indexer,
		reviews:    reviews,
		chat:       chat,
	}
}

// Start begins the review worker's claim loop
func (w *ReviewWorker) Start(ctx context.Context) error {
	w.Running = true
	logger.Infof("Review worker %s started", w.WorkerID)

	for {
		select {
		case <-ctx.Done():
			logger.Infof("Review worker %s stopping due to context cancellation", w.WorkerID)
			return ctx.Err()
		case <-w.StopChan:
			logger.Infof("Review worker %s stopping", w.WorkerID)
			return nil
		default:
			run, err := w.runRepo.ClaimNext(models.RunTypeReviewPullRequest, w.WorkerID)
			if err != nil {
				logger.WithError(err).Errorf("Review worker %s error claiming run", w.WorkerID)
				time.Sleep(5 * time.Second)
				continue
			}

			if run == nil {
				time.Sleep(2 * time.Second)
				continue
			}

			w.processRun(ctx, run)
		}
	}
}

func (w *ReviewWorker) processRun(ctx context.Context, run *models.WorkflowRun) {
	log := logger.WithFields(logrus.Fields{
		"worker_id": w.WorkerID,
		"run_id":    run.ID,
		"key":       run.NaturalKey,
	})
	log.Infof("Processing review run")

	if err := w.execute(ctx, run); err != nil {
		run.MarkFailed(err.Error())
		if updateErr := w.runRepo.Update(run); updateErr != nil {
			log.WithError(updateErr).Errorf("Failed to persist run failure")
		}
		w.recordFailure(run, err)
		log.WithError(err).Errorf("Review run failed")
		return
	}

	run.MarkSucceeded()
	if err := w.runRepo.Update(run); err != nil {
		log.WithError(err).Errorf("Failed to persist run success")
		return
	}
	log.Infof("Review run succeeded")
}

func (w *ReviewWorker) execute(ctx context.Context, run *models.WorkflowRun) error {
	payload, err := run.DecodePayload()
	if err != nil {
		return err
	}

	repo, err := w.repoRepo.GetByFullName(payload.RepoFullName())
	if err == sql.ErrNoRows {
		return fmt.Errorf("repository %s is not connected", payload.RepoFullName())
	}
	if err != nil {
		return err
	}

	user, err := w.userRepo.GetByID(repo.UserID)
	if err == sql.ErrNoRows {
		return &models.NotLinkedError{UserID: repo.UserID}
	}
	if err != nil {
		return err
	}
	if user.GitHubAccessToken == "" {
		return &models.NotLinkedError{UserID: user.ID}
	}

	// Cheap pre-flight so over-quota PRs fail before any model spend. The
	// authoritative claim happens in increment-usage, after generation.
	if _, err := runStep(ctx, w.runner, run, "authorize", func(ctx context.Context) (bool, error) {
		allowed, err := w.quota.CanCreateReview(user.ID, repo.ID)
		if err != nil {
			return false, err
		}
		if !allowed {
			return false, &models.RateLimitError{Message: "review limit reached for this repository"}
		}
		return true, nil
	}); err != nil {
		return err
	}

	diff, err := runStep(ctx, w.runner, run, "fetch-diff", func(ctx context.Context) (*services.PullRequestDiff, error) {
		return w.host.FetchPullRequestDiff(ctx, user.GitHubAccessToken, payload.Owner, payload.Name, payload.PRNumber)
	})
	if err != nil {
		return err
	}

	// A run reclaimed after delivery already closed its review; opening a
	// fresh pending one here would leave it dangling forever. The recorded
	// deliver step is the marker that the review is settled.
	delivered, err := w.runner.steps.Get(run.ID, "deliver")
	if err != nil {
		return err
	}

	var review *models.Review
	if delivered == nil {
		review, err = w.reviews.EnsurePending(repo, payload.PRNumber, diff.Title, diff.URL)
		if err != nil {
			return err
		}
	}

	contextChunks, err := runStep(ctx, w.runner, run, "retrieve-context", func(ctx context.Context) ([]string, error) {
		query := diff.Title
		if diff.Description != "" {
			query += "\n\n" + diff.Description
		}
		return w.indexer.RetrieveContext(ctx, query, repo.Namespace(), services.DefaultTopK)
	})
	if err != nil {
		return err
	}

	reviewText, err := runStep(ctx, w.runner, run, "generate-review", func(ctx context.Context) (string, error) {
		prompt := services.BuildReviewPrompt(diff.Title, diff.Description, diff.Diff, contextChunks)
		return w.chat.Generate(ctx, prompt)
	})
	if err != nil {
		return err
	}

	if _, err := runStep(ctx, w.runner, run, "increment-usage", func(ctx context.Context) (bool, error) {
		claimed, err := w.quota.AuthorizeReview(user.ID, repo.ID)
		if err != nil {
			return false, err
		}
		if !claimed {
			return false, &models.RateLimitError{Message: "review limit reached for this repository"}
		}
		return true, nil
	}); err != nil {
		return err
	}

	_, err = runStep(ctx, w.runner, run, "deliver", func(ctx context.Context) (bool, error) {
		if err := w.reviews.DeliverReview(ctx, user.GitHubAccessToken, repo, review, reviewText); err != nil {
			return false, err
		}
		return true, nil
	})
	return err
}

// recordFailure surfaces the failed run in review history so the user can see
// why no comment arrived
func (w *ReviewWorker) recordFailure(run *models.WorkflowRun, cause error) {
	// Delivery failures already persisted a failed review carrying the
	// generated text; recording again would duplicate it
	var deliveryErr *models.DeliveryError
	if errors.As(cause, &deliveryErr) {
		return
	}

	payload, err := run.DecodePayload()
	if err != nil {
		logger.WithError(err).Errorf("Failed to decode payload of failed run %s", run.ID)
		return
	}

	repo, err := w.repoRepo.GetByFullName(payload.RepoFullName())
	if err != nil {
		// Repository was never connected or got disconnected; nothing to record against
		return
	}

	if _, err := w.reviews.RecordFailure(repo, payload.PRNumber, "", cause.Error()); err != nil {
		logger.WithError(err).Errorf("Failed to record review failure for run %s", run.ID)
	}
}
