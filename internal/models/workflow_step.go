package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowStep is the durable record of one completed step within a run.
// Its presence means the step finished and must not execute again; the
// stored output is replayed instead when the run is resumed.
type WorkflowStep struct {
	ID          string    `json:"id"`
	RunID       string    `json:"run_id"`
	StepName    string    `json:"step_name"`
	Output      string    `json:"output"`
	CompletedAt time.Time `json:"completed_at"`
}

// NewWorkflowStep creates a completed step record holding the step's JSON output
func NewWorkflowStep(runID, stepName, output string) *WorkflowStep {
	return &WorkflowStep{
		ID:          uuid.New().String(),
		RunID:       runID,
		StepName:    stepName,
		Output:      output,
		CompletedAt: time.Now(),
	}
}
