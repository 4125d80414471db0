package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/codehorse/codehorse/internal/models"
	"github.com/codehorse/codehorse/internal/repositories"
	"github.com/codehorse/codehorse/pkg/logger"
	"github.com/sirupsen/logrus"
)

const (
	defaultMaxAttempts = 3
	defaultBaseBackoff = 2 * time.Second
)

// StepRunner executes the named steps of a workflow run. Each completed step
// is recorded with its output, so a run that is retried after a crash replays
// finished steps from the record instead of executing them again.
type StepRunner struct {
	steps       *repositories.WorkflowStepRepository
	runs        *repositories.WorkflowRunRepository
	maxAttempts int
	baseBackoff time.Duration
}

// NewStepRunner creates a StepRunner with default retry settings
func NewStepRunner(steps *repositories.WorkflowStepRepository, runs *repositories.WorkflowRunRepository) *StepRunner {
	return &StepRunner{
		steps:       steps,
		runs:        runs,
		maxAttempts: defaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
	}
}

// runStep executes one named step of a run exactly once. If the step already
// completed in a previous attempt its recorded output is returned without
// re-executing side effects. Transient failures are retried with exponential
// backoff before giving up; fatal failures are returned immediately.
func runStep[T any](ctx context.Context, r *StepRunner, run *models.WorkflowRun, stepName string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	memo, err := r.steps.Get(run.ID, stepName)
	if err != nil {
		return zero, fmt.Errorf("failed to load step %q: %w", stepName, err)
	}
	if memo != nil {
		var result T
		if err := json.Unmarshal([]byte(memo.Output), &result); err != nil {
			return zero, fmt.Errorf("failed to decode recorded output of step %q: %w", stepName, err)
		}
		logger.WithFields(logrus.Fields{
			"run_id": run.ID,
			"step":   stepName,
		}).Debugf("Replaying completed step")
		return result, nil
	}

	var result T
	for attempt := 1; ; attempt++ {
		result, err = fn(ctx)
		if err == nil {
			break
		}
		if !models.IsTransient(err) || attempt >= r.maxAttempts {
			return zero, fmt.Errorf("step %q failed: %w", stepName, err)
		}

		backoff := r.baseBackoff << (attempt - 1)
		logger.WithFields(logrus.Fields{
			"run_id":  run.ID,
			"step":    stepName,
			"attempt": attempt,
		}).WithError(err).Warnf("Step failed, retrying in %s", backoff)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
	}

	output, err := json.Marshal(result)
	if err != nil {
		return zero, fmt.Errorf("failed to encode output of step %q: %w", stepName, err)
	}

	if err := r.steps.Save(models.NewWorkflowStep(run.ID, stepName, string(output))); err != nil {
		return zero, fmt.Errorf("failed to record step %q: %w", stepName, err)
	}

	// Keep the run visibly alive so the janitor does not reclaim it mid-flight
	if err := r.runs.Touch(run.ID); err != nil {
		logger.WithError(err).Warnf("Failed to touch run %s", run.ID)
	}

	return result, nil
}
