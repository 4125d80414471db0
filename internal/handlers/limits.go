package handlers

import (
	"net/http"

	"github.com/codehorse/codehorse/internal/middleware"
	"github.com/codehorse/codehorse/internal/services"
	"github.com/gin-gonic/gin"
)

// LimitsHandler exposes the user's remaining subscription limits
type LimitsHandler struct {
	quota *services.QuotaService
}

// NewLimitsHandler creates a new LimitsHandler
func NewLimitsHandler(quota *services.QuotaService) *LimitsHandler {
	return &LimitsHandler{quota: quota}
}

// GetLimits returns the usage snapshot for the authenticated user
func (h *LimitsHandler) GetLimits(c *gin.Context) {
	user := middleware.GetCurrentUser(c)

	limits, err := h.quota.GetRemainingLimits(user.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, limits)
}
