package middleware

import (
	"strings"
	"time"

	"pr-thread-notifier/internal/log"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Logging adds trace IDs and structured request logging.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Prefer the Cloud Run trace header: "TRACE_ID/SPAN_ID;o=TRACE_TRUE"
		traceID := c.GetHeader("X-Cloud-Trace-Context")
		if traceID != "" {
			if slashIndex := strings.Index(traceID, "/"); slashIndex != -1 {
				traceID = traceID[:slashIndex]
			}
		} else {
			traceID = c.GetHeader("X-Trace-ID")
			if traceID == "" {
				traceID = uuid.New().String()
			}
		}

		c.Set("trace_id", traceID)
		c.Header("X-Trace-ID", traceID)

		ctx := log.WithTraceID(c.Request.Context(), traceID)
		c.Request = c.Request.WithContext(ctx)

		startTime := time.Now()
		log.Debug(ctx, "Request started",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"user_agent", c.Request.UserAgent(),
			"remote_addr", c.ClientIP(),
		)

		c.Next()

		log.Info(ctx, "Request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_seconds", time.Since(startTime).Seconds(),
		)
	}
}
