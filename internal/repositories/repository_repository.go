package repositories

import (
	"database/sql"

	"github.com/codehorse/codehorse/internal/models"
)

// RepositoryRepository handles database operations for connected repositories
type RepositoryRepository struct {
	db *sql.DB
}

// NewRepositoryRepository creates a new RepositoryRepository
func NewRepositoryRepository(db *sql.DB) *RepositoryRepository {
	return &RepositoryRepository{db: db}
}

// Create creates a new repository record
func (r *RepositoryRepository) Create(repo *models.Repository) error {
	query := `
		INSERT INTO repositories (id, user_id, owner, name, full_name, url, github_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		repo.ID,
		repo.UserID,
		repo.Owner,
		repo.Name,
		repo.FullName,
		repo.URL,
		repo.GithubID,
		repo.CreatedAt,
	)
	return err
}

// GetByID retrieves a repository by ID
func (r *RepositoryRepository) GetByID(id string) (*models.Repository, error) {
	query := `
		SELECT id, user_id, owner, name, full_name, url, github_id, created_at
		FROM repositories WHERE id = ?
	`
	return scanRepository(r.db.QueryRow(query, id))
}

// GetByFullName retrieves a repository by its owner/name pair
func (r *RepositoryRepository) GetByFullName(fullName string) (*models.Repository, error) {
	query := `
		SELECT id, user_id, owner, name, full_name, url, github_id, created_at
		FROM repositories WHERE full_name = ? LIMIT 1
	`
	return scanRepository(r.db.QueryRow(query, fullName))
}

// GetByUserAndGithubID retrieves a repository by its owning user and remote ID
func (r *RepositoryRepository) GetByUserAndGithubID(userID string, githubID int64) (*models.Repository, error) {
	query := `
		SELECT id, user_id, owner, name, full_name, url, github_id, created_at
		FROM repositories WHERE user_id = ? AND github_id = ?
	`
	return scanRepository(r.db.QueryRow(query, userID, githubID))
}

// GetByUserID retrieves all repositories connected by a user, newest first
func (r *RepositoryRepository) GetByUserID(userID string) ([]*models.Repository, error) {
	query := `
		SELECT id, user_id, owner, name, full_name, url, github_id, created_at
		FROM repositories
		WHERE user_id = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []*models.Repository
	for rows.Next() {
		repo := &models.Repository{}
		err := rows.Scan(
			&repo.ID,
			&repo.UserID,
			&repo.Owner,
			&repo.Name,
			&repo.FullName,
			&repo.URL,
			&repo.GithubID,
			&repo.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}

	return repos, rows.Err()
}

// Delete deletes a repository by ID
func (r *RepositoryRepository) Delete(id string) error {
	query := `DELETE FROM repositories WHERE id = ?`
	_, err := r.db.Exec(query, id)
	return err
}

func scanRepository(row *sql.Row) (*models.Repository, error) {
	repo := &models.Repository{}
	err := row.Scan(
		&repo.ID,
		&repo.UserID,
		&repo.Owner,
		&repo.Name,
		&repo.FullName,
		&repo.URL,
		&repo.GithubID,
		&repo.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return repo, nil
}
