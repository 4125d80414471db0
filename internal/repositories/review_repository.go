package repositories

import (
	"database/sql"
	"time"

	"github.com/codehorse/codehorse/internal/models"
)

// ReviewRepository handles database operations for reviews
type ReviewRepository struct {
	db *sql.DB
}

// NewReviewRepository creates a new ReviewRepository
func NewReviewRepository(db *sql.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Create creates a new review record
func (r *ReviewRepository) Create(review *models.Review) error {
	query := `
		INSERT INTO reviews (id, repository_id, pr_number, pr_title, pr_url, body, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		review.ID,
		review.RepositoryID,
		review.PRNumber,
		review.PRTitle,
		review.PRURL,
		review.Body,
		review.Status,
		review.CreatedAt,
		review.UpdatedAt,
	)
	return err
}

// GetByID retrieves a review by ID
func (r *ReviewRepository) GetByID(id string) (*models.Review, error) {
	query := `
		SELECT id, repository_id, pr_number, pr_title, pr_url, body, status, created_at, updated_at
		FROM reviews WHERE id = ?
	`
	return scanReview(r.db.QueryRow(query, id))
}

// GetPendingByPR retrieves the pending review for a pull request, if any
func (r *ReviewRepository) GetPendingByPR(repositoryID string, prNumber int) (*models.Review, error) {
	query := `
		SELECT id, repository_id, pr_number, pr_title, pr_url, body, status, created_at, updated_at
		FROM reviews
		WHERE repository_id = ? AND pr_number = ? AND status = ?
		ORDER BY created_at DESC LIMIT 1
	`

	review, err := scanReview(r.db.QueryRow(query, repositoryID, prNumber, models.ReviewStatusPending))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return review, err
}

// ListByUserID retrieves the latest reviews across the user's repositories
func (r *ReviewRepository) ListByUserID(userID string, limit int) ([]*models.Review, error) {
	query := `
		SELECT rv.id, rv.repository_id, rv.pr_number, rv.pr_title, rv.pr_url, rv.body, rv.status, rv.created_at, rv.updated_at
		FROM reviews rv
		JOIN repositories rp ON rv.repository_id = rp.id
		WHERE rp.user_id = ?
		ORDER BY rv.created_at DESC
		LIMIT ?
	`

	rows, err := r.db.Query(query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reviews []*models.Review
	for rows.Next() {
		review := &models.Review{}
		err := rows.Scan(
			&review.ID,
			&review.RepositoryID,
			&review.PRNumber,
			&review.PRTitle,
			&review.PRURL,
			&review.Body,
			&review.Status,
			&review.CreatedAt,
			&review.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, review)
	}

	return reviews, rows.Err()
}

// ListAllByUserID retrieves every review across the user's repositories,
// oldest first. Used by the history export, which must not truncate.
func (r *ReviewRepository) ListAllByUserID(userID string) ([]*models.Review, error) {
	query := `
		SELECT rv.id, rv.repository_id, rv.pr_number, rv.pr_title, rv.pr_url, rv.body, rv.status, rv.created_at, rv.updated_at
		FROM reviews rv
		JOIN repositories rp ON rv.repository_id = rp.id
		WHERE rp.user_id = ?
		ORDER BY rv.created_at ASC
	`

	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reviews []*models.Review
	for rows.Next() {
		review := &models.Review{}
		err := rows.Scan(
			&review.ID,
			&review.RepositoryID,
			&review.PRNumber,
			&review.PRTitle,
			&review.PRURL,
			&review.Body,
			&review.Status,
			&review.CreatedAt,
			&review.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		reviews = append(reviews, review)
	}

	return reviews, rows.Err()
}

// MarkCompleted transitions a pending review to completed with the final body.
// Terminal reviews are immutable, so the update is guarded on status.
func (r *ReviewRepository) MarkCompleted(id, body string) (bool, error) {
	return r.transition(id, body, models.ReviewStatusCompleted)
}

// MarkFailed transitions a pending review to failed with a diagnostic body
func (r *ReviewRepository) MarkFailed(id, body string) (bool, error) {
	return r.transition(id, body, models.ReviewStatusFailed)
}

func (r *ReviewRepository) transition(id, body string, status models.ReviewStatus) (bool, error) {
	query := `
		UPDATE reviews
		SET body = ?, status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.db.Exec(query, body, status, time.Now(), id, models.ReviewStatusPending)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func scanReview(row *sql.Row) (*models.Review, error) {
	review := &models.Review{}
	err := row.Scan(
		&review.ID,
		&review.RepositoryID,
		&review.PRNumber,
		&review.PRTitle,
		&review.PRURL,
		&review.Body,
		&review.Status,
		&review.CreatedAt,
		&review.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return review, nil
}
