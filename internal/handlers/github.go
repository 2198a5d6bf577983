// Package handlers contains the HTTP endpoints for webhook ingestion,
// async processing and scheduled jobs.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"pr-thread-notifier/internal/log"
	"pr-thread-notifier/internal/models"
	"pr-thread-notifier/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

var (
	ErrUnsupportedEventType = errors.New("unsupported event type")
	ErrMissingAction        = errors.New("missing required field: action")
	ErrMissingRepository    = errors.New("missing required field: repository")
)

// CloudTasksServiceInterface defines the interface for cloud tasks operations.
type CloudTasksServiceInterface interface {
	EnqueueWebhook(ctx context.Context, job *models.WebhookJob) error
}

// GitHubHandler receives GitHub webhook deliveries, verifies their
// signature and hands them off to the task queue. No business logic runs
// on this path so GitHub gets its response fast.
type GitHubHandler struct {
	cloudTasksService CloudTasksServiceInterface
	webhookSecret     string
}

func NewGitHubHandler(
	cloudTasksService CloudTasksServiceInterface,
	webhookSecret string,
) *GitHubHandler {
	return &GitHubHandler{
		cloudTasksService: cloudTasksService,
		webhookSecret:     webhookSecret,
	}
}

func (h *GitHubHandler) HandleWebhook(c *gin.Context) {
	startTime := time.Now()
	traceID := c.GetString("trace_id")

	eventType := c.GetHeader("X-GitHub-Event")
	deliveryID := c.GetHeader("X-GitHub-Delivery")

	ctx := c.Request.Context()
	ctx = log.WithFields(ctx, log.Fields{
		"remote_addr":     c.ClientIP(),
		"github_event":    eventType,
		"github_delivery": deliveryID,
	})

	if eventType == "" || deliveryID == "" {
		log.Error(ctx, "Missing required webhook headers")
		c.JSON(400, gin.H{"error": "missing required headers"})
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Error(ctx, "Failed to read webhook body", "error", err)
		c.JSON(400, gin.H{"error": "unreadable body"})
		return
	}

	// Signature first, before any parsing of attacker-controlled bytes.
	signature := c.GetHeader("X-Hub-Signature-256")
	if !services.VerifyGitHubSignature(payload, signature, h.webhookSecret) {
		log.Warn(ctx, "Webhook signature verification failed")
		c.JSON(401, gin.H{"error": "invalid signature"})
		return
	}

	if err := h.validateWebhookPayload(eventType, payload); err != nil {
		log.Error(ctx, "Invalid webhook payload", "error", err, "event_type", eventType)
		c.JSON(400, gin.H{"error": "invalid payload"})
		return
	}

	job := &models.WebhookJob{
		ID:         uuid.New().String(),
		EventType:  eventType,
		DeliveryID: deliveryID,
		TraceID:    traceID,
		Payload:    payload,
		ReceivedAt: time.Now(),
	}

	if err := h.cloudTasksService.EnqueueWebhook(ctx, job); err != nil {
		log.Error(ctx, "Failed to enqueue webhook", "error", err)
		c.JSON(500, gin.H{"error": "failed to queue webhook"})
		return
	}

	processingTime := time.Since(startTime)
	log.Info(ctx, "Webhook queued successfully",
		"job_id", job.ID,
		"event_type", eventType,
		"processing_time_ms", processingTime.Milliseconds(),
	)

	c.JSON(200, gin.H{
		"status": "queued",
		"job_id": job.ID,
	})
}

func (h *GitHubHandler) validateWebhookPayload(eventType string, payload []byte) error {
	switch eventType {
	case "pull_request":
		return h.validatePullRequestPayload(payload)
	case "installation":
		return h.validateInstallationPayload(payload)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, eventType)
	}
}

func (h *GitHubHandler) validatePullRequestPayload(payload []byte) error {
	var githubPayload map[string]interface{}
	if err := json.Unmarshal(payload, &githubPayload); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}

	if _, exists := githubPayload["action"]; !exists {
		return ErrMissingAction
	}

	if _, exists := githubPayload["repository"]; !exists {
		return ErrMissingRepository
	}

	return nil
}

func (h *GitHubHandler) validateInstallationPayload(payload []byte) error {
	var githubPayload map[string]interface{}
	if err := json.Unmarshal(payload, &githubPayload); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}

	if _, exists := githubPayload["action"]; !exists {
		return ErrMissingAction
	}

	return nil
}
