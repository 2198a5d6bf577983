package handlers

import (
	"context"
	"time"

	"pr-thread-notifier/internal/log"
	"pr-thread-notifier/internal/services"

	"github.com/gin-gonic/gin"
)

// reminderRunner executes one reminder pass. Implemented by
// services.ReminderService.
type reminderRunner interface {
	Run(ctx context.Context) (*services.ReminderResult, error)
}

// JobsHandler exposes scheduled jobs as HTTP endpoints for Cloud Scheduler.
// Authentication is handled by the TaskAuth middleware on the route group.
type JobsHandler struct {
	reminder reminderRunner
	timeout  time.Duration
}

func NewJobsHandler(reminder reminderRunner, timeout time.Duration) *JobsHandler {
	return &JobsHandler{
		reminder: reminder,
		timeout:  timeout,
	}
}

// RunPRReminder triggers a reminder digest pass over all open PR threads.
// Partial failure is a success response; per-org results are in the body.
func (h *JobsHandler) RunPRReminder(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	startTime := time.Now()
	result, err := h.reminder.Run(ctx)
	if err != nil {
		log.Error(ctx, "Reminder job failed", "error", err)
		c.JSON(500, gin.H{"error": "reminder job failed"})
		return
	}

	c.JSON(200, gin.H{
		"status":             "completed",
		"result":             result,
		"processing_time_ms": time.Since(startTime).Milliseconds(),
	})
}
