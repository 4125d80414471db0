package repositories

import (
	"database/sql"
)

// UsageRepository handles per-user usage counters. All mutations are applied
// as atomic SQL increments so concurrent workflow runs cannot lose updates,
// and the limit check rides inside the same statement as the increment.
type UsageRepository struct {
	db *sql.DB
}

// NewUsageRepository creates a new UsageRepository
func NewUsageRepository(db *sql.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// ensureUser creates the usage row lazily with all counters at zero
func (r *UsageRepository) ensureUser(userID string) error {
	query := `INSERT OR IGNORE INTO user_usage (user_id, repository_count) VALUES (?, 0)`
	_, err := r.db.Exec(query, userID)
	return err
}

// ensureRepository creates the per-repository review counter lazily
func (r *UsageRepository) ensureRepository(userID, repositoryID string) error {
	query := `INSERT OR IGNORE INTO review_usage (user_id, repository_id, count) VALUES (?, ?, 0)`
	_, err := r.db.Exec(query, userID, repositoryID)
	return err
}

// GetRepositoryCount returns the user's connected repository count
func (r *UsageRepository) GetRepositoryCount(userID string) (int, error) {
	if err := r.ensureUser(userID); err != nil {
		return 0, err
	}

	var count int
	query := `SELECT repository_count FROM user_usage WHERE user_id = ?`
	if err := r.db.QueryRow(query, userID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// GetReviewCount returns the user's review count for one repository
func (r *UsageRepository) GetReviewCount(userID, repositoryID string) (int, error) {
	var count int
	query := `SELECT count FROM review_usage WHERE user_id = ? AND repository_id = ?`
	err := r.db.QueryRow(query, userID, repositoryID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// GetReviewCounts returns the user's review counts keyed by repository ID
func (r *UsageRepository) GetReviewCounts(userID string) (map[string]int, error) {
	query := `SELECT repository_id, count FROM review_usage WHERE user_id = ?`

	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var repositoryID string
		var count int
		if err := rows.Scan(&repositoryID, &count); err != nil {
			return nil, err
		}
		counts[repositoryID] = count
	}

	return counts, rows.Err()
}

// TryIncrementRepositoryCount increments the repository counter if it is below
// the limit. A nil limit means unlimited. Returns false when the quota is
// exhausted; check and increment are a single conditional UPDATE, so two
// concurrent connects cannot both slip under the limit.
func (r *UsageRepository) TryIncrementRepositoryCount(userID string, limit *int) (bool, error) {
	if err := r.ensureUser(userID); err != nil {
		return false, err
	}

	var result sql.Result
	var err error
	if limit == nil {
		query := `UPDATE user_usage SET repository_count = repository_count + 1 WHERE user_id = ?`
		result, err = r.db.Exec(query, userID)
	} else {
		query := `UPDATE user_usage SET repository_count = repository_count + 1 WHERE user_id = ? AND repository_count < ?`
		result, err = r.db.Exec(query, userID, *limit)
	}
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// DecrementRepositoryCount decrements the repository counter, floored at zero
func (r *UsageRepository) DecrementRepositoryCount(userID string) error {
	if err := r.ensureUser(userID); err != nil {
		return err
	}

	query := `UPDATE user_usage SET repository_count = MAX(repository_count - 1, 0) WHERE user_id = ?`
	_, err := r.db.Exec(query, userID)
	return err
}

// TryIncrementReviewCount increments the review counter for a repository if it
// is below the limit. Same conditional-update contract as the repository counter.
func (r *UsageRepository) TryIncrementReviewCount(userID, repositoryID string, limit *int) (bool, error) {
	if err := r.ensureRepository(userID, repositoryID); err != nil {
		return false, err
	}

	var result sql.Result
	var err error
	if limit == nil {
		query := `UPDATE review_usage SET count = count + 1 WHERE user_id = ? AND repository_id = ?`
		result, err = r.db.Exec(query, userID, repositoryID)
	} else {
		query := `UPDATE review_usage SET count = count + 1 WHERE user_id = ? AND repository_id = ? AND count < ?`
		result, err = r.db.Exec(query, userID, repositoryID, *limit)
	}
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
