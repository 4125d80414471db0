package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID                string
	Name              string
	Username          string
	Email             string
	AccessToken       string
	GitHubAccessToken string
	SubscriptionTier  SubscriptionTier
	CreatedAt         time.Time
}

// NewUser creates a new User on the free tier with a generated UUID
func NewUser(name, username, email string) *User {
	return &User{
		ID:               uuid.New().String(),
		Name:             name,
		Username:         username,
		Email:            email,
		SubscriptionTier: TierFree,
		CreatedAt:        time.Now(),
	}
}
