package services

import (
	"database/sql"
	"fmt"

	"github.com/codehorse/codehorse/internal/models"
	"github.com/codehorse/codehorse/internal/repositories"
)

// QuotaService enforces subscription-tier usage limits. Read methods are
// pre-flight checks for display and fast rejection; the Authorize methods are
// the authoritative check-and-increment and must be the only way counters grow.
type QuotaService struct {
	userRepo  *repositories.UserRepository
	usageRepo *repositories.UsageRepository
	repoRepo  *repositories.RepositoryRepository
}

// NewQuotaService creates a new QuotaService
func NewQuotaService(userRepo *repositories.UserRepository, usageRepo *repositories.UsageRepository, repoRepo *repositories.RepositoryRepository) *QuotaService {
	return &QuotaService{
		userRepo:  userRepo,
		usageRepo: usageRepo,
		repoRepo:  repoRepo,
	}
}

// GetTier returns the user's subscription tier, defaulting to FREE
func (s *QuotaService) GetTier(userID string) (models.SubscriptionTier, error) {
	user, err := s.userRepo.GetByID(userID)
	if err == sql.ErrNoRows {
		return models.TierFree, nil
	}
	if err != nil {
		return models.TierFree, err
	}
	if user.SubscriptionTier == "" {
		return models.TierFree, nil
	}
	return user.SubscriptionTier, nil
}

// CanConnectRepository checks whether the user may connect another repository
func (s *QuotaService) CanConnectRepository(userID string) (bool, error) {
	tier, err := s.GetTier(userID)
	if err != nil {
		return false, err
	}

	limit := models.LimitsFor(tier).Repositories
	if limit == nil {
		return true, nil
	}

	current, err := s.usageRepo.GetRepositoryCount(userID)
	if err != nil {
		return false, err
	}
	return current < *limit, nil
}

// CanCreateReview checks whether the user may request another review on the repository
func (s *QuotaService) CanCreateReview(userID, repositoryID string) (bool, error) {
	tier, err := s.GetTier(userID)
	if err != nil {
		return false, err
	}

	limit := models.LimitsFor(tier).ReviewsPerRepository
	if limit == nil {
		return true, nil
	}

	current, err := s.usageRepo.GetReviewCount(userID, repositoryID)
	if err != nil {
		return false, err
	}
	return current < *limit, nil
}

// AuthorizeRepositoryConnect atomically claims one repository slot.
// Returns false when the quota is exhausted.
func (s *QuotaService) AuthorizeRepositoryConnect(userID string) (bool, error) {
	tier, err := s.GetTier(userID)
	if err != nil {
		return false, err
	}
	return s.usageRepo.TryIncrementRepositoryCount(userID, models.LimitsFor(tier).Repositories)
}

// ReleaseRepository returns one repository slot after a disconnect
func (s *QuotaService) ReleaseRepository(userID string) error {
	return s.usageRepo.DecrementRepositoryCount(userID)
}

// AuthorizeReview atomically claims one review slot on the repository.
// Returns false when the quota is exhausted.
func (s *QuotaService) AuthorizeReview(userID, repositoryID string) (bool, error) {
	tier, err := s.GetTier(userID)
	if err != nil {
		return false, err
	}
	return s.usageRepo.TryIncrementReviewCount(userID, repositoryID, models.LimitsFor(tier).ReviewsPerRepository)
}

// GetRemainingLimits returns the full usage snapshot for the user
func (s *QuotaService) GetRemainingLimits(userID string) (*models.UserLimits, error) {
	tier, err := s.GetTier(userID)
	if err != nil {
		return nil, err
	}
	limits := models.LimitsFor(tier)

	repoCount, err := s.usageRepo.GetRepositoryCount(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get repository count: %w", err)
	}

	reviewCounts, err := s.usageRepo.GetReviewCounts(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get review counts: %w", err)
	}

	repos, err := s.repoRepo.GetByUserID(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}

	snapshot := &models.UserLimits{
		Tier: tier,
		Repositories: models.UsageLimit{
			Current: repoCount,
			Limit:   limits.Repositories,
			CanAdd:  limits.Repositories == nil || repoCount < *limits.Repositories,
		},
		Reviews: make(map[string]models.UsageLimit),
	}

	for _, repo := range repos {
		current := reviewCounts[repo.ID]
		snapshot.Reviews[repo.ID] = models.UsageLimit{
			Current: current,
			Limit:   limits.ReviewsPerRepository,
			CanAdd:  limits.ReviewsPerRepository == nil || current < *limits.ReviewsPerRepository,
		}
	}

	return snapshot, nil
}
