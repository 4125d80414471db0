package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/codehorse/codehorse/internal/models"
	"github.com/codehorse/codehorse/internal/repositories"
	"github.com/codehorse/codehorse/pkg/logger"
	"github.com/sirupsen/logrus"
)

const (
	commentHeader = "## 🤖 CodeHorse Review"
	commentFooter = "*Automated review by [CodeHorse](https://codehorse.dev). Reply to this comment or push new commits to get an updated review.*"
)

// CommentPoster posts a review comment on a pull request
type CommentPoster interface {
	PostReviewComment(ctx context.Context, token, owner, name string, prNumber int, body string) error
}

// ReviewService persists review results and delivers them to GitHub.
// Reviews move forward only: pending to completed or pending to failed.
type ReviewService struct {
	reviewRepo *repositories.ReviewRepository
	poster     CommentPoster
}

// NewReviewService creates a new ReviewService
func NewReviewService(reviewRepo *repositories.ReviewRepository, poster CommentPoster) *ReviewService {
	return &ReviewService{
		reviewRepo: reviewRepo,
		poster:     poster,
	}
}

// EnsurePending returns the open pending review for the pull request, creating
// one if none exists. Safe to call on a resumed run.
func (s *ReviewService) EnsurePending(repo *models.Repository, prNumber int, prTitle, prURL string) (*models.Review, error) {
	existing, err := s.reviewRepo.GetPendingByPR(repo.ID, prNumber)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	review := models.NewReview(repo.ID, prNumber, prTitle, prURL)
	if err := s.reviewRepo.Create(review); err != nil {
		return nil, err
	}
	return review, nil
}

// DeliverReview posts the review comment and marks the review completed.
// If posting fails the generated text is preserved in a failed review so no
// model output is silently lost, and a DeliveryError is returned.
func (s *ReviewService) DeliverReview(ctx context.Context, token string, repo *models.Repository, review *models.Review, reviewText string) error {
	comment := FormatComment(reviewText)

	if err := s.poster.PostReviewComment(ctx, token, repo.Owner, repo.Name, review.PRNumber, comment); err != nil {
		body := fmt.Sprintf("%s\n\n---\n\nDelivery failed: %v", reviewText, err)
		if _, markErr := s.reviewRepo.MarkFailed(review.ID, body); markErr != nil {
			logger.WithError(markErr).Errorf("Failed to record delivery failure for review %s", review.ID)
		}
		return &models.DeliveryError{Err: err}
	}

	transitioned, err := s.reviewRepo.MarkCompleted(review.ID, reviewText)
	if err != nil {
		return fmt.Errorf("failed to mark review completed: %w", err)
	}
	if !transitioned {
		// Terminal already; nothing to reconcile but worth noticing
		logger.Warnf("Review %s was already terminal when delivery finished", review.ID)
	}

	logger.WithFields(logrus.Fields{
		"repository": repo.FullName,
		"pr_number":  review.PRNumber,
	}).Infof("Review delivered")

	return nil
}

// RecordFailure persists a failed review carrying a diagnostic body, so the
// failure shows up in review history instead of vanishing. If no pending
// review exists yet one is synthesized.
func (s *ReviewService) RecordFailure(repo *models.Repository, prNumber int, prTitle, reason string) (*models.Review, error) {
	body := fmt.Sprintf("Error: %s", reason)

	pending, err := s.reviewRepo.GetPendingByPR(repo.ID, prNumber)
	if err != nil {
		return nil, err
	}

	if pending != nil {
		if _, err := s.reviewRepo.MarkFailed(pending.ID, body); err != nil {
			return nil, err
		}
		pending.Body = body
		pending.Status = models.ReviewStatusFailed
		return pending, nil
	}

	if prTitle == "" {
		prTitle = fmt.Sprintf("Review of PR #%d failed", prNumber)
	}
	review := models.NewReview(repo.ID, prNumber, prTitle, fmt.Sprintf("%s/pull/%d", repo.URL, prNumber))
	review.Status = models.ReviewStatusFailed
	review.Body = body
	if err := s.reviewRepo.Create(review); err != nil {
		return nil, err
	}
	return review, nil
}

// ListForUser returns the latest reviews across the user's repositories
func (s *ReviewService) ListForUser(userID string, limit int) ([]*models.Review, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	return s.reviewRepo.ListByUserID(userID, limit)
}

// ListAllForUser returns the user's complete review history, oldest first.
// Unlike ListForUser there is no cap; exports must cover everything.
func (s *ReviewService) ListAllForUser(userID string) ([]*models.Review, error) {
	return s.reviewRepo.ListAllByUserID(userID)
}

// FormatComment wraps the generated review in the comment layout posted to GitHub
func FormatComment(reviewText string) string {
	return fmt.Sprintf("%s\n\n%s\n\n---\n\n%s", commentHeader, strings.TrimSpace(reviewText), commentFooter)
}

// BuildReviewPrompt assembles the language model prompt from the PR diff and
// the retrieved codebase context
func BuildReviewPrompt(title, description, diff string, contextChunks []string) string {
	var sb strings.Builder

	sb.WriteString("You are an expert code reviewer. Review the following pull request.\n\n")
	sb.WriteString(fmt.Sprintf("Pull request title: %s\n", title))
	if strings.TrimSpace(description) != "" {
		sb.WriteString(fmt.Sprintf("Pull request description:\n%s\n", description))
	}

	if len(contextChunks) > 0 {
		sb.WriteString("\nRelevant code from the repository:\n")
		sb.WriteString(strings.Join(contextChunks, "\n\n"))
		sb.WriteString("\n")
	}

	sb.WriteString("\nDiff:\n```diff\n")
	sb.WriteString(diff)
	sb.WriteString("\n```\n\n")
	sb.WriteString("Provide a concise review: summarize the change, point out bugs, ")
	sb.WriteString("risky edge cases and style problems, and suggest concrete improvements. ")
	sb.WriteString("Use Markdown with short sections.")

	return sb.String()
}
