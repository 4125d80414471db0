package models

import (
	"time"

	"github.com/google/uuid"
)

// ReviewStatus represents the lifecycle state of a review.
// Transitions only move forward: pending -> completed or pending -> failed.
type ReviewStatus string

const (
	ReviewStatusPending   ReviewStatus = "pending"
	ReviewStatusCompleted ReviewStatus = "completed"
	ReviewStatusFailed    ReviewStatus = "failed"
)

// Review represents one AI-generated review result for one pull request
type Review struct {
	ID           string       `json:"id"`
	RepositoryID string       `json:"repository_id"`
	PRNumber     int          `json:"pr_number"`
	PRTitle      string       `json:"pr_title"`
	PRURL        string       `json:"pr_url"`
	Body         string       `json:"body"`
	Status       ReviewStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// NewReview creates a pending Review with a generated UUID
func NewReview(repositoryID string, prNumber int, prTitle, prURL string) *Review {
	now := time.Now()
	return &Review{
		ID:           uuid.New().String(),
		RepositoryID: repositoryID,
		PRNumber:     prNumber,
		PRTitle:      prTitle,
		PRURL:        prURL,
		Status:       ReviewStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsTerminal checks if the review reached a final state
func (r *Review) IsTerminal() bool {
	return r.Status == ReviewStatusCompleted || r.Status == ReviewStatusFailed
}
