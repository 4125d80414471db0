package handlers

import (
	"database/sql"
	"io"
	"net/http"

	"github.com/codehorse/codehorse/internal/repositories"
	"github.com/codehorse/codehorse/internal/services"
	"github.com/codehorse/codehorse/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/go-github/v57/github"
	"github.com/sirupsen/logrus"
)

// reviewedActions are the pull request actions that trigger a review
var reviewedActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
}

// WebhookHandler receives GitHub webhook deliveries. Deliveries are
// at-least-once and unordered; duplicates collapse onto the active run.
type WebhookHandler struct {
	repoRepo      *repositories.RepositoryRepository
	workflows     *services.WorkflowService
	webhookSecret string
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(repoRepo *repositories.RepositoryRepository, workflows *services.WorkflowService, webhookSecret string) *WebhookHandler {
	return &WebhookHandler{
		repoRepo:      repoRepo,
		workflows:     workflows,
		webhookSecret: webhookSecret,
	}
}

// HandleGitHub processes one webhook delivery. The handler only records the
// event and returns; all real work happens in the workflow workers.
func (h *WebhookHandler) HandleGitHub(c *gin.Context) {
	payload, err := h.readPayload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook payload"})
		return
	}

	event, err := github.ParseWebHook(github.WebHookType(c.Request), payload)
	if err != nil {
		// Event types we do not model are acknowledged, not rejected, so
		// GitHub does not disable the hook
		c.JSON(http.StatusOK, gin.H{"message": "event ignored"})
		return
	}

	switch event := event.(type) {
	case *github.PingEvent:
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	case *github.PullRequestEvent:
		h.handlePullRequest(c, event)
	default:
		c.JSON(http.StatusOK, gin.H{"message": "event ignored"})
	}
}

func (h *WebhookHandler) handlePullRequest(c *gin.Context, event *github.PullRequestEvent) {
	action := event.GetAction()
	if !reviewedActions[action] {
		c.JSON(http.StatusOK, gin.H{"message": "action ignored"})
		return
	}

	fullName := event.GetRepo().GetFullName()
	prNumber := event.GetPullRequest().GetNumber()

	repo, err := h.repoRepo.GetByFullName(fullName)
	if err == sql.ErrNoRows {
		// Hook left behind after a disconnect; nothing to do
		logger.Warnf("Webhook for unconnected repository %s", fullName)
		c.JSON(http.StatusOK, gin.H{"message": "repository not connected"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up repository"})
		return
	}

	_, queued, err := h.workflows.EnqueueReviewRun(repo.Owner, repo.Name, prNumber, repo.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue review"})
		return
	}

	logger.WithFields(logrus.Fields{
		"repository": fullName,
		"pr_number":  prNumber,
		"action":     action,
		"queued":     queued,
	}).Infof("Pull request event received")

	c.JSON(http.StatusOK, gin.H{"message": "review queued", "queued": queued})
}

func (h *WebhookHandler) readPayload(c *gin.Context) ([]byte, error) {
	if h.webhookSecret != "" {
		return github.ValidatePayload(c.Request, []byte(h.webhookSecret))
	}
	return io.ReadAll(c.Request.Body)
}
