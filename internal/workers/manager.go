package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codehorse/codehorse/internal/repositories"
	"github.com/codehorse/codehorse/internal/services"
	"github.com/codehorse/codehorse/pkg/config"
	"github.com/codehorse/codehorse/pkg/logger"
)

const (
	janitorInterval = time.Minute
	staleDeadline   = 5 * time.Minute
)

// Deps carries everything the workers need to execute workflow runs
type Deps struct {
	RunRepo  *repositories.WorkflowRunRepository
	StepRepo *repositories.WorkflowStepRepository
	UserRepo *repositories.UserRepository
	RepoRepo *repositories.RepositoryRepository
	Host     SourceHost
	Quota    *services.QuotaService
	Indexer  *services.IndexingService
	Reviews  *services.ReviewService
	Chat     services.ChatModel
}

// WorkerManager manages the worker pool and the stale-run janitor
type WorkerManager struct {
	workers []Worker
	deps    Deps
	cfg     config.WorkerConfig
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewWorkerManager creates a new worker manager
func NewWorkerManager(cfg config.WorkerConfig, deps Deps) *WorkerManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerManager{
		workers: make([]Worker, 0),
		deps:    deps,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// StartAll starts the configured workers and the janitor
func (wm *WorkerManager) StartAll() error {
	logger.Infof("Starting workers - Index: %d, Review: %d", wm.cfg.IndexWorkers, wm.cfg.ReviewWorkers)

	runner := NewStepRunner(wm.deps.StepRepo, wm.deps.RunRepo)

	for i := 0; i < wm.cfg.IndexWorkers; i++ {
		worker := NewIndexWorker(fmt.Sprintf("index-%d", i+1), wm.deps.RunRepo, wm.deps.UserRepo, runner, wm.deps.Host, wm.deps.Indexer)
		wm.workers = append(wm.workers, worker)
		wm.startWorker(worker)
	}

	for i := 0; i < wm.cfg.ReviewWorkers; i++ {
		worker := NewReviewWorker(fmt.Sprintf("review-%d", i+1), wm.deps.RunRepo, wm.deps.RepoRepo, wm.deps.UserRepo, runner, wm.deps.Host, wm.deps.Quota, wm.deps.Indexer, wm.deps.Reviews, wm.deps.Chat)
		wm.workers = append(wm.workers, worker)
		wm.startWorker(worker)
	}

	wm.wg.Add(1)
	go wm.runJanitor()

	logger.Infof("Started %d total workers", len(wm.workers))
	return nil
}

// StopAll gracefully stops all workers
func (wm *WorkerManager) StopAll() error {
	logger.Infof("Stopping all workers...")

	wm.cancel()

	for _, worker := range wm.workers {
		if err := worker.Stop(); err != nil {
			logger.WithError(err).Errorf("Error stopping worker %s", worker.GetWorkerID())
		}
	}

	wm.wg.Wait()

	logger.Infof("All workers stopped")
	return nil
}

// runJanitor periodically moves runs abandoned by dead workers back to queued.
// Resumed runs replay their completed steps, so reclaiming is safe.
func (wm *WorkerManager) runJanitor() {
	defer wm.wg.Done()

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wm.ctx.Done():
			return
		case <-ticker.C:
			reclaimed, err := wm.deps.RunRepo.ReclaimStale(staleDeadline)
			if err != nil {
				logger.WithError(err).Errorf("Janitor failed to reclaim stale runs")
				continue
			}
			if reclaimed > 0 {
				logger.Warnf("Janitor requeued %d stale runs", reclaimed)
			}
		}
	}
}

// startWorker starts a single worker in a goroutine
func (wm *WorkerManager) startWorker(worker Worker) {
	wm.wg.Add(1)
	go func() {
		defer wm.wg.Done()
		if err := worker.Start(wm.ctx); err != nil && err != context.Canceled {
			logger.WithError(err).Errorf("Worker %s stopped with error", worker.GetWorkerID())
		}
	}()
}

// GetWorkerStatus returns the running state of each worker
func (wm *WorkerManager) GetWorkerStatus() map[string]bool {
	status := make(map[string]bool)
	for _, worker := range wm.workers {
		switch w := worker.(type) {
		case *IndexWorker:
			status[worker.GetWorkerID()] = w.IsRunning()
		case *ReviewWorker:
			status[worker.GetWorkerID()] = w.IsRunning()
		default:
			status[worker.GetWorkerID()] = false
		}
	}
	return status
}
