package workers

import (
	"context"

	"github.com/codehorse/codehorse/internal/models"
	"github.com/codehorse/codehorse/internal/services"
)

// Worker interface defines the contract for all workflow workers
type Worker interface {
	// Start begins the worker's claim loop
	Start(ctx context.Context) error

	// Stop gracefully stops the worker
	Stop() error

	// GetRunType returns the type of workflow run this worker executes
	GetRunType() models.RunType

	// GetWorkerID returns the unique identifier for this worker
	GetWorkerID() string
}

// SourceHost is the slice of the code host the workflows need
type SourceHost interface {
	FetchTree(ctx context.Context, token, owner, name, path string) ([]services.RepoFile, error)
	FetchPullRequestDiff(ctx context.Context, token, owner, name string, prNumber int) (*services.PullRequestDiff, error)
}

// BaseWorker provides common functionality for all workers
type BaseWorker struct {
	WorkerID string
	RunType  models.RunType
	Running  bool
	StopChan chan struct{}
}

// NewBaseWorker creates a new base worker
func NewBaseWorker(workerID string, runType models.RunType) *BaseWorker {
	return &BaseWorker{
		WorkerID: workerID,
		RunType:  runType,
		Running:  false,
		StopChan: make(chan struct{}),
	}
}

// GetRunType returns the run type this worker executes
func (w *BaseWorker) GetRunType() models.RunType {
	return w.RunType
}

// GetWorkerID returns the worker's unique identifier
func (w *BaseWorker) GetWorkerID() string {
	return w.WorkerID
}

// Stop gracefully stops the worker
func (w *BaseWorker) Stop() error {
	if w.Running {
		w.Running = false
		close(w.StopChan)
	}
	return nil
}

// IsRunning checks if the worker is currently running
func (w *BaseWorker) IsRunning() bool {
	return w.Running
}
