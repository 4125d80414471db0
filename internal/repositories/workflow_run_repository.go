package repositories

import (
	"database/sql"
	"sync"
	"time"

	"github.com/codehorse/codehorse/internal/models"
)

// WorkflowRunRepository handles database operations for workflow runs
type WorkflowRunRepository struct {
	db *sql.DB
	mu sync.Mutex
}

// NewWorkflowRunRepository creates a new WorkflowRunRepository
func NewWorkflowRunRepository(db *sql.DB) *WorkflowRunRepository {
	return &WorkflowRunRepository{db: db}
}

// Create creates a new workflow run
func (r *WorkflowRunRepository) Create(run *models.WorkflowRun) error {
	query := `
		INSERT INTO workflow_runs (id, run_type, natural_key, payload, status, error_message, worker_id, attempts, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		run.ID,
		run.RunType,
		run.NaturalKey,
		run.Payload,
		run.Status,
		run.ErrorMessage,
		run.WorkerID,
		run.Attempts,
		run.StartedAt,
		run.CompletedAt,
		run.CreatedAt,
		run.UpdatedAt,
	)
	return err
}

// Enqueue creates the run unless an active run already holds its natural key.
// Duplicate webhook deliveries collapse onto the in-flight run; returns false
// when the run was deduplicated.
func (r *WorkflowRunRepository) Enqueue(run *models.WorkflowRun) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var existing int
	query := `
		SELECT COUNT(1) FROM workflow_runs
		WHERE run_type = ? AND natural_key = ? AND status IN (?, ?)
	`
	err = tx.QueryRow(query, run.RunType, run.NaturalKey, models.RunStatusQueued, models.RunStatusRunning).Scan(&existing)
	if err != nil {
		return false, err
	}
	if existing > 0 {
		return false, nil
	}

	insert := `
		INSERT INTO workflow_runs (id, run_type, natural_key, payload, status, error_message, worker_id, attempts, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.Exec(insert,
		run.ID,
		run.RunType,
		run.NaturalKey,
		run.Payload,
		run.Status,
		run.ErrorMessage,
		run.WorkerID,
		run.Attempts,
		run.StartedAt,
		run.CompletedAt,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return false, err
	}

	if err = tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// GetByID retrieves a run by ID
func (r *WorkflowRunRepository) GetByID(id string) (*models.WorkflowRun, error) {
	query := `
		SELECT id, run_type, natural_key, payload, status, error_message, worker_id, attempts, started_at, completed_at, created_at, updated_at
		FROM workflow_runs WHERE id = ?
	`

	run := &models.WorkflowRun{}
	err := r.db.QueryRow(query, id).Scan(
		&run.ID,
		&run.RunType,
		&run.NaturalKey,
		&run.Payload,
		&run.Status,
		&run.ErrorMessage,
		&run.WorkerID,
		&run.Attempts,
		&run.StartedAt,
		&run.CompletedAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ClaimNext claims the oldest queued run of the given type (FIFO).
// The claim flips the run to running inside a transaction so only one
// worker can win it. Returns nil when no runs are queued.
func (r *WorkflowRunRepository) ClaimNext(runType models.RunType, workerID string) (*models.WorkflowRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `
		SELECT id, run_type, natural_key, payload, status, error_message, worker_id, attempts, started_at, completed_at, created_at, updated_at
		FROM workflow_runs
		WHERE status = ? AND run_type = ?
		ORDER BY created_at ASC
		LIMIT 1
	`

	run := &models.WorkflowRun{}
	err = tx.QueryRow(query, models.RunStatusQueued, runType).Scan(
		&run.ID,
		&run.RunType,
		&run.NaturalKey,
		&run.Payload,
		&run.Status,
		&run.ErrorMessage,
		&run.WorkerID,
		&run.Attempts,
		&run.StartedAt,
		&run.CompletedAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No queued runs
		}
		return nil, err
	}

	run.MarkStarted(workerID)
	update := `
		UPDATE workflow_runs
		SET status = ?, worker_id = ?, attempts = ?, started_at = ?, updated_at = ?
		WHERE id = ?
	`
	_, err = tx.Exec(update, run.Status, run.WorkerID, run.Attempts, run.StartedAt, time.Now(), run.ID)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return run, nil
}

// Update updates a workflow run
func (r *WorkflowRunRepository) Update(run *models.WorkflowRun) error {
	query := `
		UPDATE workflow_runs
		SET status = ?, error_message = ?, worker_id = ?, attempts = ?, started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`

	_, err := r.db.Exec(query,
		run.Status,
		run.ErrorMessage,
		run.WorkerID,
		run.Attempts,
		run.StartedAt,
		run.CompletedAt,
		time.Now(),
		run.ID,
	)
	return err
}

// Touch bumps the run's updated_at so the janitor does not reclaim a live run
func (r *WorkflowRunRepository) Touch(runID string) error {
	query := `UPDATE workflow_runs SET updated_at = ? WHERE id = ?`
	_, err := r.db.Exec(query, time.Now(), runID)
	return err
}

// ReclaimStale moves running runs that have not been touched within the
// deadline back to queued. Workers that died mid-run leave their run in
// running; completed steps are memoized, so the re-run resumes where it
// stopped. Returns the number of reclaimed runs.
func (r *WorkflowRunRepository) ReclaimStale(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	query := `
		UPDATE workflow_runs
		SET status = ?, worker_id = NULL, updated_at = ?
		WHERE status = ? AND updated_at < ?
	`

	result, err := r.db.Exec(query, models.RunStatusQueued, time.Now(), models.RunStatusRunning, cutoff)
	if err != nil {
		return 0, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}
