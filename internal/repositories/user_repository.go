package repositories

import (
	"database/sql"

	"github.com/codehorse/codehorse/internal/models"
)

// UserRepository handles database operations for users
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create creates a new user
func (r *UserRepository) Create(user *models.User) error {
	query := `
		INSERT INTO users (id, name, username, email, access_token, github_access_token, subscription_tier, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		user.ID,
		user.Name,
		user.Username,
		user.Email,
		user.AccessToken,
		user.GitHubAccessToken,
		user.SubscriptionTier,
		user.CreatedAt,
	)
	return err
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(id string) (*models.User, error) {
	query := `
		SELECT id, name, username, email, access_token, github_access_token, subscription_tier, created_at
		FROM users WHERE id = ?
	`
	return r.scanUser(r.db.QueryRow(query, id))
}

// GetByAccessToken retrieves a user by API access token
func (r *UserRepository) GetByAccessToken(token string) (*models.User, error) {
	query := `
		SELECT id, name, username, email, access_token, github_access_token, subscription_tier, created_at
		FROM users WHERE access_token = ?
	`
	return r.scanUser(r.db.QueryRow(query, token))
}

// UpdateSubscriptionTier updates the user's subscription tier
func (r *UserRepository) UpdateSubscriptionTier(userID string, tier models.SubscriptionTier) error {
	query := `UPDATE users SET subscription_tier = ? WHERE id = ?`
	_, err := r.db.Exec(query, tier, userID)
	return err
}

// UpdateGitHubAccessToken stores a new GitHub credential for the user
func (r *UserRepository) UpdateGitHubAccessToken(userID, token string) error {
	query := `UPDATE users SET github_access_token = ? WHERE id = ?`
	_, err := r.db.Exec(query, token, userID)
	return err
}

func (r *UserRepository) scanUser(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Username,
		&user.Email,
		&user.AccessToken,
		&user.GitHubAccessToken,
		&user.SubscriptionTier,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}
