package workers

import (
	"context"
	"database/sql"
	"time"

	"github.com/codehorse/codehorse/internal/models"
	"github.com/codehorse/codehorse/internal/repositories"
	"github.com/codehorse/codehorse/internal/services"
	"github.com/codehorse/codehorse/pkg/logger"
	"github.com/sirupsen/logrus"
)

// IndexWorker executes index_repository runs: it fetches the repository's file
// tree from GitHub and loads every readable file into the vector index.
type IndexWorker struct {
	*BaseWorker
	runRepo  *repositories.WorkflowRunRepository
	userRepo *repositories.UserRepository
	runner   *StepRunner
	host     SourceHost
	indexer  *services.IndexingService
}

// NewIndexWorker creates a new index worker
func NewIndexWorker(workerID string, runRepo *repositories.WorkflowRunRepository, userRepo *repositories.UserRepository, runner *StepRunner, host SourceHost, indexer *services.IndexingService) *IndexWorker {
	return &IndexWorker{
		BaseWorker: NewBaseWorker(workerID, models.RunTypeIndexRepository),
		runRepo:    runRepo,
		userRepo:   userRepo,
		runner:     runner,
		host:       host,
		indexer:    indexer,
	}
}

// Start begins the index worker's claim loop
func (w *IndexWorker) Start(ctx context.Context) error {
	w.Running = true
	logger.Infof("Index worker %s started", w.WorkerID)

	for {
		select {
		case <-ctx.Done():
			logger.Infof("Index worker %s stopping due to context cancellation", w.WorkerID)
			return ctx.Err()
		case <-w.StopChan:
			logger.Infof("Index worker %s stopping", w.WorkerID)
			return nil
		default:
			run, err := w.runRepo.ClaimNext(models.RunTypeIndexRepository, w.WorkerID)
			if err != nil {
				logger.WithError(err).Errorf("Index worker %s error claiming run", w.WorkerID)
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

func (w *IndexWorker) processRun(ctx context.Context, run *models.WorkflowRun) {
	log := logger.WithFields(logrus.Fields{
		"worker_id": w.WorkerID,
		"run_id":    run.ID,
		"key":       run.NaturalKey,
	})
	log.Infof("Processing index run")

	if err := w.execute(ctx, run); err != nil {
		run.MarkFailed(err.Error())
		if updateErr := w.runRepo.Update(run); updateErr != nil {
			log.WithError(updateErr).Errorf("Failed to persist run failure")
		}
		log.WithError(err).Errorf("Index run failed")
		return
	}

	run.MarkSucceeded()
	if err := w.runRepo.Update(run); err != nil {
		log.WithError(err).Errorf("Failed to persist run success")
		return
	}
	log.Infof("Index run succeeded")
}

func (w *IndexWorker) execute(ctx context.Context, run *models.WorkflowRun) error {
	payload, err := run.DecodePayload()
	if err != nil {
		return err
	}

	user, err := w.userRepo.GetByID(payload.UserID)
	if err == sql.ErrNoRows {
		return &models.NotLinkedError{UserID: payload.UserID}
	}
	if err != nil {
		return err
	}
	if user.GitHubAccessToken == "" {
		return &models.NotLinkedError{UserID: user.ID}
	}

	files, err := runStep(ctx, w.runner, run, "fetch-repo-files", func(ctx context.Context) ([]services.RepoFile, error) {
		return w.host.FetchTree(ctx, user.GitHubAccessToken, payload.Owner, payload.Name, "")
	})
	if err != nil {
		return err
	}

	_, err = runStep(ctx, w.runner, run, "index-codebase", func(ctx context.Context) (int, error) {
		return w.indexer.IndexRepository(ctx, payload.RepoFullName(), files)
	})
	return err
}
