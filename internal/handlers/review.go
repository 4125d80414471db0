package handlers

import (
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/codehorse/codehorse/internal/middleware"
	"github.com/codehorse/codehorse/internal/repositories"
	"github.com/codehorse/codehorse/internal/services"
	"github.com/codehorse/codehorse/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

// ReviewHandler exposes review history, manual review triggers and XLSX export
type ReviewHandler struct {
	reviewService *services.ReviewService
	workflows     *services.WorkflowService
	repoRepo      *repositories.RepositoryRepository
}

// NewReviewHandler creates a new ReviewHandler
func NewReviewHandler(reviewService *services.ReviewService, workflows *services.WorkflowService, repoRepo *repositories.RepositoryRepository) *ReviewHandler {
	return &ReviewHandler{
		reviewService: reviewService,
		workflows:     workflows,
		repoRepo:      repoRepo,
	}
}

type triggerReviewRequest struct {
	Owner    string `json:"owner" binding:"required"`
	Name     string `json:"name" binding:"required"`
	PRNumber int    `json:"pr_number" binding:"required"`
}

// ListReviews returns the latest reviews across the user's repositories
func (h *ReviewHandler) ListReviews(c *gin.Context) {
	user := middleware.GetCurrentUser(c)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	reviews, err := h.reviewService.ListForUser(user.ID, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reviews": reviews})
}

// TriggerReview queues a review run for a pull request on demand
func (h *ReviewHandler) TriggerReview(c *gin.Context) {
	user := middleware.GetCurrentUser(c)

	var req triggerReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner, name and pr_number are required"})
		return
	}

	repo, err := h.repoRepo.GetByFullName(fmt.Sprintf("%s/%s", req.Owner, req.Name))
	if err == sql.ErrNoRows || (err == nil && repo.UserID != user.ID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "repository not found"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	_, queued, err := h.workflows.EnqueueReviewRun(repo.Owner, repo.Name, req.PRNumber, user.ID)
	if err != nil {
		// Surface the rejection in review history so the trigger does not
		// appear to vanish
		if _, recordErr := h.reviewService.RecordFailure(repo, req.PRNumber, "", err.Error()); recordErr != nil {
			logger.WithError(recordErr).Errorf("Failed to record trigger failure for %s#%d", repo.FullName, req.PRNumber)
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "review queued", "queued": queued})
}

// ExportReviews streams the user's review history as an XLSX workbook
func (h *ReviewHandler) ExportReviews(c *gin.Context) {
	user := middleware.GetCurrentUser(c)

	reviews, err := h.reviewService.ListAllForUser(user.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Reviews"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"PR Number", "Title", "Status", "URL", "Created At", "Review"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, header)
	}

	for row, review := range reviews {
		values := []interface{}{
			review.PRNumber,
			review.PRTitle,
			string(review.Status),
			review.PRURL,
			review.CreatedAt.Format(time.RFC3339),
			review.Body,
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, value)
		}
	}

	f.SetColWidth(sheet, "B", "B", 40)
	f.SetColWidth(sheet, "D", "D", 40)
	f.SetColWidth(sheet, "F", "F", 80)

	filename := fmt.Sprintf("codehorse-reviews-%s.xlsx", time.Now().Format("2006-01-02"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))

	if err := f.Write(c.Writer); err != nil {
		logger.WithError(err).Errorf("Failed to write XLSX export for user %s", user.ID)
	}
}
