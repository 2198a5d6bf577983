package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pr-thread-notifier/internal/config"
	"pr-thread-notifier/internal/log"
	"pr-thread-notifier/internal/models"
	"pr-thread-notifier/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"
)

const (
	EventTypePullRequest  = "pull_request"
	EventTypeInstallation = "installation"
)

var ErrUnsupportedJobEventType = errors.New("unsupported event type")

// eventDispatcher delivers normalized PR events. Implemented by
// services.NotifierService.
type eventDispatcher interface {
	Dispatch(ctx context.Context, event *models.PullRequestEvent) (services.Outcome, error)
}

// organizationStore persists organization records. Implemented by
// services.FirestoreService.
type organizationStore interface {
	GetOrganization(ctx context.Context, orgID int64) (*models.Organization, error)
	UpsertOrganization(ctx context.Context, org *models.Organization) error
}

// WebhookWorkerHandler executes queued webhook jobs delivered back by
// Cloud Tasks. A 5xx response makes the queue retry the job.
type WebhookWorkerHandler struct {
	notifier          eventDispatcher
	orgStore          organizationStore
	maxProcessingTime time.Duration
}

func NewWebhookWorkerHandler(
	notifier eventDispatcher,
	orgStore organizationStore,
	cfg *config.Config,
) *WebhookWorkerHandler {
	return &WebhookWorkerHandler{
		notifier:          notifier,
		orgStore:          orgStore,
		maxProcessingTime: cfg.WebhookProcessingTimeout,
	}
}

func (h *WebhookWorkerHandler) ProcessWebhook(c *gin.Context) {
	startTime := time.Now()
	ctx := c.Request.Context()

	var job models.WebhookJob
	if err := c.ShouldBindJSON(&job); err != nil {
		log.Error(ctx, "Invalid job payload, JSON binding failed",
			"error", err,
			"content_type", c.ContentType(),
			"content_length", c.Request.ContentLength,
		)
		c.JSON(400, gin.H{"error": "invalid job payload"})
		return
	}

	retryCount := c.GetHeader("X-Cloudtasks-Taskretrycount")
	if retryCount == "" {
		retryCount = "0"
	}

	ctx = log.WithTraceID(ctx, job.TraceID)
	ctx = log.WithFields(ctx, log.Fields{
		"job_id":      job.ID,
		"event_type":  job.EventType,
		"retry_count": retryCount,
	})

	log.Info(ctx, "Processing webhook job")

	ctx, cancel := context.WithTimeout(ctx, h.maxProcessingTime)
	defer cancel()

	outcome, err := h.processWebhookPayload(ctx, &job)
	processingTime := time.Since(startTime)
	if err != nil {
		log.Error(ctx, "Failed to process webhook",
			"error", err,
			"processing_time_ms", processingTime.Milliseconds(),
		)

		if isRetryableError(err) {
			c.JSON(500, gin.H{"error": "processing failed", "retryable": true})
		} else {
			c.JSON(400, gin.H{"error": "processing failed", "retryable": false})
		}
		return
	}

	log.Info(ctx, "Webhook processed",
		"outcome", string(outcome),
		"processing_time_ms", processingTime.Milliseconds(),
	)

	c.JSON(200, gin.H{
		"status":  "processed",
		"outcome": string(outcome),
	})
}

func (h *WebhookWorkerHandler) processWebhookPayload(
	ctx context.Context, job *models.WebhookJob,
) (services.Outcome, error) {
	switch job.EventType {
	case EventTypePullRequest:
		return h.processPullRequestEvent(ctx, job)
	case EventTypeInstallation:
		return services.OutcomeSkipped, h.processInstallationEvent(ctx, job)
	default:
		return services.OutcomeSkipped, fmt.Errorf("%w: %s", ErrUnsupportedJobEventType, job.EventType)
	}
}

func (h *WebhookWorkerHandler) processPullRequestEvent(
	ctx context.Context, job *models.WebhookJob,
) (services.Outcome, error) {
	event, err := services.NormalizePullRequestEvent(job.Payload)
	if err != nil {
		return services.OutcomeSkipped, fmt.Errorf("failed to normalize pull request payload: %w", err)
	}

	slog.Info("Handling pull request event",
		"action", string(event.Action),
		"pr_number", event.PullRequestNumber,
		"repo", event.RepositoryFullName,
		"is_draft", event.Draft,
	)

	return h.notifier.Dispatch(ctx, event)
}

// processInstallationEvent records app install and uninstall lifecycle so
// every organization has an installation ID for API calls.
func (h *WebhookWorkerHandler) processInstallationEvent(ctx context.Context, job *models.WebhookJob) error {
	change, err := services.NormalizeInstallationEvent(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to normalize installation payload: %w", err)
	}

	org, err := h.orgStore.GetOrganization(ctx, change.AccountID)
	if err != nil {
		return fmt.Errorf("failed to load organization: %w", err)
	}
	if org == nil {
		org = &models.Organization{
			ID:   change.AccountID,
			Name: change.AccountLogin,
		}
	}

	switch change.Action {
	case "created", "unsuspend":
		org.InstallationID = change.InstallationID
		org.SubscriptionStatus = models.SubscriptionStatusActive
	case "deleted", "suspend":
		org.InstallationID = 0
		org.SubscriptionStatus = models.SubscriptionStatusInactive
	default:
		log.Info(ctx, "Installation action not handled", "action", change.Action)
		return nil
	}

	if err := h.orgStore.UpsertOrganization(ctx, org); err != nil {
		return fmt.Errorf("failed to save organization: %w", err)
	}

	log.Info(ctx, "Organization installation updated",
		"org_id", org.ID,
		"org_login", org.Name,
		"installation_id", org.InstallationID,
		"subscription_status", org.SubscriptionStatus,
	)
	return nil
}

func isRetryableError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Lease contention means another worker is mid-flight for the same PR.
	if errors.Is(err, services.ErrLeaseContended) {
		return true
	}

	var rateLimited *slack.RateLimitedError
	if errors.As(err, &rateLimited) {
		return true
	}

	var slackErrorResp *slack.SlackErrorResponse
	if errors.As(err, &slackErrorResp) {
		switch slackErrorResp.Err {
		case "channel_not_found", "invalid_channel", "invalid_auth", "account_inactive":
			return false
		case "internal_error", "service_unavailable":
			return true
		default:
			// Unknown Slack errors are not retried to avoid infinite loops.
			return false
		}
	}

	errStr := err.Error()
	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "dial") {
		return true
	}

	return false
}
