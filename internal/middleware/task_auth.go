package middleware

import (
	"crypto/subtle"
	"net/http"

	"pr-thread-notifier/internal/log"

	"github.com/gin-gonic/gin"
)

// TaskAuth verifies the static secret attached to Cloud Tasks and Cloud
// Scheduler requests before they reach worker and job endpoints.
func TaskAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		provided := c.GetHeader("X-Task-Secret")
		if provided == "" {
			log.Error(ctx, "Missing X-Task-Secret header for task request")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			log.Error(ctx, "Invalid task secret provided")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			c.Abort()
			return
		}

		c.Next()
	}
}
