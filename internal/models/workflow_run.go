package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunType represents the type of workflow
type RunType string

const (
	RunTypeIndexRepository   RunType = "index_repository"
	RunTypeReviewPullRequest RunType = "review_pull_request"
)

// RunStatus represents the status of a workflow run
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// RunPayload carries the event data a workflow run executes against
type RunPayload struct {
	Owner    string `json:"owner"`
	Name     string `json:"name"`
	PRNumber int    `json:"pr_number,omitempty"`
	UserID   string `json:"user_id"`
}

// RepoFullName returns the owner/name pair, which doubles as the index namespace
func (p RunPayload) RepoFullName() string {
	return fmt.Sprintf("%s/%s", p.Owner, p.Name)
}

// WorkflowRun represents one durable execution of a workflow, triggered by one
// inbound event. The natural key identifies the subject (repository or pull
// request) so duplicate event deliveries can be collapsed onto an active run.
type WorkflowRun struct {
	ID           string     `json:"id"`
	RunType      RunType    `json:"run_type"`
	NaturalKey   string     `json:"natural_key"`
	Payload      string     `json:"payload"`
	Status       RunStatus  `json:"status"`
	ErrorMessage *string    `json:"error_message"`
	WorkerID     *string    `json:"worker_id"`
	Attempts     int        `json:"attempts"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewWorkflowRun creates a queued run for the given type and payload
func NewWorkflowRun(runType RunType, payload RunPayload) (*WorkflowRun, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run payload: %w", err)
	}

	key := payload.RepoFullName()
	if runType == RunTypeReviewPullRequest {
		key = fmt.Sprintf("%s#%d", key, payload.PRNumber)
	}

	now := time.Now()
	return &WorkflowRun{
		ID:         uuid.New().String(),
		RunType:    runType,
		NaturalKey: key,
		Payload:    string(data),
		Status:     RunStatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// DecodePayload unmarshals the stored payload
func (r *WorkflowRun) DecodePayload() (RunPayload, error) {
	var payload RunPayload
	if err := json.Unmarshal([]byte(r.Payload), &payload); err != nil {
		return payload, fmt.Errorf("failed to decode payload of run %s: %w", r.ID, err)
	}
	return payload, nil
}

// MarkStarted marks the run as running
func (r *WorkflowRun) MarkStarted(workerID string) {
	now := time.Now()
	r.Status = RunStatusRunning
	r.WorkerID = &workerID
	r.Attempts++
	r.StartedAt = &now
}

// MarkSucceeded marks the run as succeeded
func (r *WorkflowRun) MarkSucceeded() {
	now := time.Now()
	r.Status = RunStatusSucceeded
	r.CompletedAt = &now
}

// MarkFailed marks the run as failed with the given reason
func (r *WorkflowRun) MarkFailed(reason string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.ErrorMessage = &reason
	r.CompletedAt = &now
}

// IsActive checks whether the run still occupies its natural key
func (r *WorkflowRun) IsActive() bool {
	return r.Status == RunStatusQueued || r.Status == RunStatusRunning
}
