package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/codehorse/codehorse/internal/models"
	"github.com/codehorse/codehorse/internal/repositories"
	"github.com/codehorse/codehorse/pkg/logger"
	"github.com/sirupsen/logrus"
)

// RepoListing is one repository in the connect picker: the GitHub summary plus
// whether this user already connected it
type RepoListing struct {
	RepoSummary
	IsConnected bool `json:"is_connected"`
}

// DisconnectResult is the per-item outcome of a batch disconnect
type DisconnectResult struct {
	RepositoryID string `json:"repository_id"`
	FullName     string `json:"full_name"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
}

// RepositoryService manages the lifecycle of connected repositories:
// listing, quota-checked connect with webhook registration, and disconnect
// with best-effort remote cleanup.
type RepositoryService struct {
	repoRepo  *repositories.RepositoryRepository
	quota     *QuotaService
	github    *GitHubService
	workflows *WorkflowService
}

// NewRepositoryService creates a new RepositoryService
func NewRepositoryService(repoRepo *repositories.RepositoryRepository, quota *QuotaService, github *GitHubService, workflows *WorkflowService) *RepositoryService {
	return &RepositoryService{
		repoRepo:  repoRepo,
		quota:     quota,
		github:    github,
		workflows: workflows,
	}
}

// ListForUser lists the user's GitHub repositories with connected flags
func (s *RepositoryService) ListForUser(ctx context.Context, user *models.User, page, perPage int) ([]RepoListing, error) {
	if user.GitHubAccessToken == "" {
		return nil, &models.NotLinkedError{UserID: user.ID}
	}

	summaries, err := s.github.ListRepositories(ctx, user.GitHubAccessToken, page, perPage)
	if err != nil {
		return nil, err
	}

	connected, err := s.repoRepo.GetByUserID(user.ID)
	if err != nil {
		return nil, err
	}
	connectedIDs := make(map[int64]bool, len(connected))
	for _, repo := range connected {
		connectedIDs[repo.GithubID] = true
	}

	listings := make([]RepoListing, 0, len(summaries))
	for _, summary := range summaries {
		listings = append(listings, RepoListing{
			RepoSummary: summary,
			IsConnected: connectedIDs[summary.GithubID],
		})
	}

	return listings, nil
}

// ListConnected returns the user's connected repositories
func (s *RepositoryService) ListConnected(userID string) ([]*models.Repository, error) {
	return s.repoRepo.GetByUserID(userID)
}

// Connect registers the webhook, records the repository, claims a quota slot
// and queues the indexing workflow. The quota slot is claimed only after the
// webhook is confirmed, so failures never count phantom usage; if the atomic
// claim loses a concurrent race the webhook and record are rolled back.
func (s *RepositoryService) Connect(ctx context.Context, user *models.User, owner, name string, githubID int64) (*models.Repository, error) {
	if user.GitHubAccessToken == "" {
		return nil, &models.NotLinkedError{UserID: user.ID}
	}

	// Connecting an already-connected repository is a no-op
	existing, err := s.repoRepo.GetByUserAndGithubID(user.ID, githubID)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	// Pre-flight check for a fast rejection before touching GitHub
	allowed, err := s.quota.CanConnectRepository(user.ID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, &models.RateLimitError{Message: "repository limit reached for your plan"}
	}

	if _, err := s.github.RegisterWebhook(ctx, user.GitHubAccessToken, owner, name); err != nil {
		return nil, fmt.Errorf("failed to register webhook: %w", err)
	}

	repo := models.NewRepository(user.ID, owner, name, githubID)
	if err := s.repoRepo.Create(repo); err != nil {
		s.cleanupWebhook(ctx, user.GitHubAccessToken, owner, name)
		return nil, fmt.Errorf("failed to create repository record: %w", err)
	}

	claimed, err := s.quota.AuthorizeRepositoryConnect(user.ID)
	if err != nil || !claimed {
		// Either the claim errored or it lost the race against a concurrent
		// connect; in both cases no slot is held, so undo the side effects
		if delErr := s.repoRepo.Delete(repo.ID); delErr != nil {
			logger.WithError(delErr).Errorf("Failed to roll back repository %s", repo.ID)
		}
		s.cleanupWebhook(ctx, user.GitHubAccessToken, owner, name)
		if err != nil {
			return nil, fmt.Errorf("failed to claim repository slot: %w", err)
		}
		return nil, &models.RateLimitError{Message: "repository limit reached for your plan"}
	}

	if _, _, err := s.workflows.EnqueueIndexRun(owner, name, user.ID); err != nil {
		logger.WithError(err).Errorf("Failed to queue indexing for %s", repo.FullName)
	}

	logger.WithFields(logrus.Fields{
		"repository": repo.FullName,
		"user_id":    user.ID,
	}).Infof("Repository connected")

	return repo, nil
}

// Disconnect removes the webhook and deletes the repository record. The
// record is only removed once the remote cleanup succeeded.
func (s *RepositoryService) Disconnect(ctx context.Context, user *models.User, repositoryID string) error {
	repo, err := s.repoRepo.GetByID(repositoryID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("repository not found")
	}
	if err != nil {
		return err
	}
	if repo.UserID != user.ID {
		return fmt.Errorf("repository not found")
	}

	if _, err := s.github.RemoveWebhook(ctx, user.GitHubAccessToken, repo.Owner, repo.Name); err != nil {
		return fmt.Errorf("failed to remove webhook: %w", err)
	}

	if err := s.repoRepo.Delete(repo.ID); err != nil {
		return fmt.Errorf("failed to delete repository record: %w", err)
	}

	if err := s.quota.ReleaseRepository(user.ID); err != nil {
		return err
	}

	logger.Infof("Repository %s disconnected", repo.FullName)
	return nil
}

// DisconnectAll removes every repository of the user, tolerating partial
// failure: each item reports its own outcome, and only items whose remote
// webhook removal succeeded lose their record.
func (s *RepositoryService) DisconnectAll(ctx context.Context, user *models.User) ([]DisconnectResult, error) {
	repos, err := s.repoRepo.GetByUserID(user.ID)
	if err != nil {
		return nil, err
	}

	results := make([]DisconnectResult, 0, len(repos))
	for _, repo := range repos {
		result := DisconnectResult{RepositoryID: repo.ID, FullName: repo.FullName}

		if _, err := s.github.RemoveWebhook(ctx, user.GitHubAccessToken, repo.Owner, repo.Name); err != nil {
			result.Error = err.Error()
			results = append(results, result)
			continue
		}

		if err := s.repoRepo.Delete(repo.ID); err != nil {
			result.Error = err.Error()
			results = append(results, result)
			continue
		}

		if err := s.quota.ReleaseRepository(user.ID); err != nil {
			logger.WithError(err).Errorf("Failed to release quota slot for user %s", user.ID)
		}

		result.Success = true
		results = append(results, result)
	}

	return results, nil
}

func (s *RepositoryService) cleanupWebhook(ctx context.Context, token, owner, name string) {
	if _, err := s.github.RemoveWebhook(ctx, token, owner, name); err != nil {
		logger.WithError(err).Warnf("Failed to clean up webhook on %s/%s", owner, name)
	}
}
