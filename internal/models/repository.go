package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository represents a connected GitHub repository
type Repository struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	FullName  string    `json:"full_name"`
	URL       string    `json:"url"`
	GithubID  int64     `json:"github_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRepository creates a new Repository with a generated UUID
func NewRepository(userID, owner, name string, githubID int64) *Repository {
	return &Repository{
		ID:        uuid.New().String(),
		UserID:    userID,
		Owner:     owner,
		Name:      name,
		FullName:  fmt.Sprintf("%s/%s", owner, name),
		URL:       fmt.Sprintf("https://github.com/%s/%s", owner, name),
		GithubID:  githubID,
		CreatedAt: time.Now(),
	}
}

// Namespace returns the vector index namespace scoping this repository's chunks
func (r *Repository) Namespace() string {
	return r.FullName
}
