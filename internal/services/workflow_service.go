package services

import (
	"fmt"

	"github.com/codehorse/codehorse/internal/models"
	"github.com/codehorse/codehorse/internal/repositories"
	"github.com/codehorse/codehorse/pkg/logger"
)

// WorkflowService accepts inbound events and turns them into durable workflow
// runs. Events are at-least-once: an event whose subject already has an
// active run is dropped rather than queued twice.
type WorkflowService struct {
	runRepo *repositories.WorkflowRunRepository
}

// NewWorkflowService creates a new WorkflowService
func NewWorkflowService(runRepo *repositories.WorkflowRunRepository) *WorkflowService {
	return &WorkflowService{runRepo: runRepo}
}

// EnqueueIndexRun queues the indexing workflow for a connected repository.
// Returns the run and whether it was newly queued.
func (s *WorkflowService) EnqueueIndexRun(owner, name, userID string) (*models.WorkflowRun, bool, error) {
	run, err := models.NewWorkflowRun(models.RunTypeIndexRepository, models.RunPayload{
		Owner:  owner,
		Name:   name,
		UserID: userID,
	})
	if err != nil {
		return nil, false, err
	}

	queued, err := s.runRepo.Enqueue(run)
	if err != nil {
		return nil, false, fmt.Errorf("failed to enqueue index run: %w", err)
	}
	if !queued {
		logger.Infof("Index run for %s/%s already active, skipping duplicate", owner, name)
		return nil, false, nil
	}
	return run, true, nil
}

// EnqueueReviewRun queues the review workflow for a pull request.
// Returns the run and whether it was newly queued.
func (s *WorkflowService) EnqueueReviewRun(owner, name string, prNumber int, userID string) (*models.WorkflowRun, bool, error) {
	run, err := models.NewWorkflowRun(models.RunTypeReviewPullRequest, models.RunPayload{
		Owner:    owner,
		Name:     name,
		PRNumber: prNumber,
		UserID:   userID,
	})
	if err != nil {
		return nil, false, err
	}

	queued, err := s.runRepo.Enqueue(run)
	if err != nil {
		return nil, false, fmt.Errorf("failed to enqueue review run: %w", err)
	}
	if !queued {
		logger.Infof("Review run for %s/%s#%d already active, skipping duplicate", owner, name, prNumber)
		return nil, false, nil
	}
	return run, true, nil
}
