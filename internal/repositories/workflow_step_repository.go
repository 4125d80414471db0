package repositories

import (
	"database/sql"

	"github.com/codehorse/codehorse/internal/models"
)

// WorkflowStepRepository handles the durable step memo of workflow runs
type WorkflowStepRepository struct {
	db *sql.DB
}

// NewWorkflowStepRepository creates a new WorkflowStepRepository
func NewWorkflowStepRepository(db *sql.DB) *WorkflowStepRepository {
	return &WorkflowStepRepository{db: db}
}

// Get retrieves the completed step record for a run, or nil if the step
// has not completed yet
func (r *WorkflowStepRepository) Get(runID, stepName string) (*models.WorkflowStep, error) {
	query := `
		SELECT id, run_id, step_name, output, completed_at
		FROM workflow_steps WHERE run_id = ? AND step_name = ?
	`

	step := &models.WorkflowStep{}
	err := r.db.QueryRow(query, runID, stepName).Scan(
		&step.ID,
		&step.RunID,
		&step.StepName,
		&step.Output,
		&step.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return step, nil
}

// Save records a completed step. The first write wins; a concurrent duplicate
// of the same step is ignored so replays stay idempotent.
func (r *WorkflowStepRepository) Save(step *models.WorkflowStep) error {
	query := `
		INSERT INTO workflow_steps (id, run_id, step_name, output, completed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, step_name) DO NOTHING
	`

	_, err := r.db.Exec(query,
		step.ID,
		step.RunID,
		step.StepName,
		step.Output,
		step.CompletedAt,
	)
	return err
}

// CountForRun returns how many steps have completed for a run
func (r *WorkflowStepRepository) CountForRun(runID string) (int, error) {
	var count int
	query := `SELECT COUNT(1) FROM workflow_steps WHERE run_id = ?`
	if err := r.db.QueryRow(query, runID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
