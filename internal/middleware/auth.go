package middleware

import (
	"database/sql"
	"net/http"
	"strings"

	"github.com/codehorse/codehorse/internal/models"
	"github.com/codehorse/codehorse/internal/repositories"
	"github.com/gin-gonic/gin"
)

const userContextKey = "current_user"

// AuthRequired middleware resolves the API key to a user and aborts with 401
// when the key is missing or unknown. Keys are accepted from the X-API-Key
// header or a Bearer token.
func AuthRequired(userRepo *repositories.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}

		user, err := userRepo.GetByAccessToken(token)
		if err == sql.ErrNoRows {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to authenticate"})
			return
		}

		c.Set(userContextKey, user)
		c.Next()
	}
}

// GetCurrentUser returns the authenticated user set by AuthRequired
func GetCurrentUser(c *gin.Context) *models.User {
	value, exists := c.Get(userContextKey)
	if !exists {
		return nil
	}
	user, ok := value.(*models.User)
	if !ok {
		return nil
	}
	return user
}

func extractToken(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
