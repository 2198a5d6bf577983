package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/url"
	"strings"

	"pr-thread-notifier/internal/log"
	"pr-thread-notifier/internal/models"
	"pr-thread-notifier/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack/slackevents"
)

// integrationStore is the Firestore surface for channel binding.
type integrationStore interface {
	FindIntegrationByTeam(ctx context.Context, teamID string) (*models.SlackIntegration, error)
	UpdateIntegrationChannel(ctx context.Context, integrationID, channelID, channelName string) error
}

// SlackHandler receives Slack callbacks: URL verification during app setup
// and the slash command that binds notifications to a channel.
type SlackHandler struct {
	verifier *services.SlackVerifier
	store    integrationStore
}

func NewSlackHandler(verifier *services.SlackVerifier, store integrationStore) *SlackHandler {
	return &SlackHandler{
		verifier: verifier,
		store:    store,
	}
}

func (h *SlackHandler) HandleWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		log.Error(ctx, "Failed to read Slack request body", "error", err)
		c.JSON(400, gin.H{"error": "unreadable body"})
		return
	}

	timestamp := c.GetHeader("X-Slack-Request-Timestamp")
	signature := c.GetHeader("X-Slack-Signature")
	if err := h.verifier.Verify(body, timestamp, signature); err != nil {
		log.Warn(ctx, "Slack request verification failed", "error", err)
		c.JSON(401, gin.H{"error": "invalid signature"})
		return
	}

	contentType := c.ContentType()
	if strings.Contains(contentType, "application/x-www-form-urlencoded") {
		h.handleSlashCommand(c, body)
		return
	}

	h.handleEventCallback(c, body)
}

func (h *SlackHandler) handleEventCallback(c *gin.Context, body []byte) {
	ctx := c.Request.Context()

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		log.Error(ctx, "Failed to parse Slack event", "error", err)
		c.JSON(400, gin.H{"error": "invalid event payload"})
		return
	}

	if event.Type == slackevents.URLVerification {
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			c.JSON(400, gin.H{"error": "invalid challenge payload"})
			return
		}
		c.String(200, challenge.Challenge)
		return
	}

	// Other event callbacks are acknowledged but unused.
	c.Status(200)
}

// handleSlashCommand binds the team's notifications to the channel the
// command was issued in.
func (h *SlackHandler) handleSlashCommand(c *gin.Context, body []byte) {
	ctx := c.Request.Context()

	form, err := url.ParseQuery(string(body))
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid form payload"})
		return
	}

	teamID := form.Get("team_id")
	channelID := form.Get("channel_id")
	channelName := form.Get("channel_name")

	integration, err := h.store.FindIntegrationByTeam(ctx, teamID)
	if err != nil {
		log.Error(ctx, "Failed to look up integration for slash command",
			"error", err,
			"slack_team_id", teamID,
		)
		c.JSON(200, gin.H{
			"response_type": "ephemeral",
			"text":          "Something went wrong, please try again.",
		})
		return
	}
	if integration == nil {
		c.JSON(200, gin.H{
			"response_type": "ephemeral",
			"text":          "This workspace is not connected to a GitHub organization yet.",
		})
		return
	}

	if err := h.store.UpdateIntegrationChannel(ctx, integration.ID, channelID, channelName); err != nil {
		log.Error(ctx, "Failed to update notification channel",
			"error", err,
			"integration_id", integration.ID,
			"channel_id", channelID,
		)
		c.JSON(200, gin.H{
			"response_type": "ephemeral",
			"text":          "Failed to update the notification channel, please try again.",
		})
		return
	}

	log.Info(ctx, "Notification channel updated",
		"integration_id", integration.ID,
		"slack_team_id", teamID,
		"channel_id", channelID,
		"channel_name", channelName,
	)
	c.JSON(200, gin.H{
		"response_type": "in_channel",
		"text":          "PR notifications will now be posted in <#" + channelID + ">.",
	})
}
