package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/codehorse/codehorse/internal/middleware"
	"github.com/codehorse/codehorse/internal/models"
	"github.com/codehorse/codehorse/internal/services"
	"github.com/gin-gonic/gin"
)

// RepositoryHandler exposes the repository connection API
type RepositoryHandler struct {
	repoService *services.RepositoryService
}

// NewRepositoryHandler creates a new RepositoryHandler
func NewRepositoryHandler(repoService *services.RepositoryService) *RepositoryHandler {
	return &RepositoryHandler{repoService: repoService}
}

type connectRequest struct {
	Owner    string `json:"owner" binding:"required"`
	Name     string `json:"name" binding:"required"`
	GithubID int64  `json:"github_id" binding:"required"`
}

// ListRepositories lists the user's GitHub repositories with connected flags
func (h *RepositoryHandler) ListRepositories(c *gin.Context) {
	user := middleware.GetCurrentUser(c)

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "30"))

	listings, err := h.repoService.ListForUser(c.Request.Context(), user, page, perPage)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"repositories": listings})
}

// ListConnected lists only the repositories the user has connected
func (h *RepositoryHandler) ListConnected(c *gin.Context) {
	user := middleware.GetCurrentUser(c)

	repos, err := h.repoService.ListConnected(user.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"repositories": repos})
}

// ConnectRepository connects a repository: webhook, record, quota slot, indexing
func (h *RepositoryHandler) ConnectRepository(c *gin.Context) {
	user := middleware.GetCurrentUser(c)

	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner, name and github_id are required"})
		return
	}

	repo, err := h.repoService.Connect(c.Request.Context(), user, req.Owner, req.Name, req.GithubID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"repository": repo})
}

// DisconnectRepository removes the webhook and the repository record
func (h *RepositoryHandler) DisconnectRepository(c *gin.Context) {
	user := middleware.GetCurrentUser(c)
	repositoryID := c.Param("id")

	if err := h.repoService.Disconnect(c.Request.Context(), user, repositoryID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "repository disconnected"})
}

// DisconnectAll removes every connected repository, reporting per-item results
func (h *RepositoryHandler) DisconnectAll(c *gin.Context) {
	user := middleware.GetCurrentUser(c)

	results, err := h.repoService.DisconnectAll(c.Request.Context(), user)
	if err != nil {
		respondError(c, err)
		return
	}

	failed := 0
	for _, result := range results {
		if !result.Success {
			failed++
		}
	}

	status := http.StatusOK
	if failed > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, gin.H{"results": results, "failed": failed})
}

// respondError maps domain errors onto HTTP statuses
func respondError(c *gin.Context, err error) {
	var notLinked *models.NotLinkedError
	if errors.As(err, &notLinked) {
		c.JSON(http.StatusForbidden, gin.H{"error": "GitHub account is not linked"})
		return
	}

	var rateLimit *models.RateLimitError
	if errors.As(err, &rateLimit) {
		c.JSON(http.StatusPaymentRequired, gin.H{"error": rateLimit.Message})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
