package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pr-thread-notifier/internal/log"
	"pr-thread-notifier/internal/models"
	"pr-thread-notifier/internal/ui"

	"github.com/google/uuid"
)

// ErrLeaseContended is returned when another worker holds the thread lease
// for the same pull request. The delivery should be retried.
var ErrLeaseContended = errors.New("thread lease held by another worker")

// Outcome classifies what the notifier did with an event.
type Outcome string

const (
	OutcomePosted  Outcome = "posted"
	OutcomeSkipped Outcome = "skipped"
)

// threadStore is the Firestore surface the notifier needs.
type threadStore interface {
	ListSlackIntegrations(ctx context.Context, orgID int64) ([]*models.SlackIntegration, error)
	GetUsernameMapping(ctx context.Context, orgID int64, githubLogin string) (string, error)
	GetThread(ctx context.Context, pullRequestID int64) (*models.PullRequestThread, error)
	UpsertThread(ctx context.Context, thread *models.PullRequestThread) error
	AcquireThreadLease(ctx context.Context, pullRequestID int64, holderID string, ttl time.Duration) (bool, error)
	ReleaseThreadLease(ctx context.Context, pullRequestID int64, holderID string) error
}

// threadPoster is the Slack surface the notifier needs.
type threadPoster interface {
	PostThreadRoot(ctx context.Context, integration *models.SlackIntegration, event *models.PullRequestEvent, tags ui.UserTags) (string, error)
	PostThreadReply(ctx context.Context, integration *models.SlackIntegration, threadTS, text string) error
}

// NotifierService turns normalized pull request events into channel
// messages: the first event for a PR anchors a thread, later ones reply
// into it.
type NotifierService struct {
	store    threadStore
	slack    threadPoster
	builder  *ui.MessageBuilder
	leaseTTL time.Duration

	// newHolderID generates the lease holder identity, one per dispatch.
	newHolderID func() string
}

// NewNotifierService creates a new NotifierService.
func NewNotifierService(store threadStore, slack threadPoster, leaseTTL time.Duration) *NotifierService {
	return &NotifierService{
		store:       store,
		slack:       slack,
		builder:     ui.NewMessageBuilder(),
		leaseTTL:    leaseTTL,
		newHolderID: uuid.NewString,
	}
}

// Dispatch delivers one event. Returns OutcomeSkipped when the event needs
// no message (ignored action, no integration, nothing to say), and an error
// when the delivery should be retried.
func (n *NotifierService) Dispatch(ctx context.Context, event *models.PullRequestEvent) (Outcome, error) {
	if event.Action == models.ActionIgnored {
		return OutcomeSkipped, nil
	}

	integration, err := n.resolveIntegration(ctx, event.OrganizationID)
	if err != nil {
		return OutcomeSkipped, err
	}
	if integration == nil {
		log.Warn(ctx, "No Slack integration for organization, dropping event",
			"org_id", event.OrganizationID,
			"org_login", event.OrganizationLogin,
			"pull_request_id", event.PullRequestID,
		)
		return OutcomeSkipped, nil
	}

	// Serialize against concurrent deliveries for the same PR. The Slack
	// call below cannot run inside a Firestore transaction, so the lease
	// covers the read-post-write sequence instead.
	holderID := n.newHolderID()
	acquired, err := n.store.AcquireThreadLease(ctx, event.PullRequestID, holderID, n.leaseTTL)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("failed to acquire thread lease: %w", err)
	}
	if !acquired {
		return OutcomeSkipped, fmt.Errorf("%w: pr %d", ErrLeaseContended, event.PullRequestID)
	}
	defer func() {
		if releaseErr := n.store.ReleaseThreadLease(ctx, event.PullRequestID, holderID); releaseErr != nil {
			log.Warn(ctx, "Failed to release thread lease",
				"error", releaseErr,
				"pull_request_id", event.PullRequestID,
			)
		}
	}()

	thread, err := n.store.GetThread(ctx, event.PullRequestID)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("failed to load thread state: %w", err)
	}

	if thread == nil || thread.ThreadTS == "" {
		return n.anchorThread(ctx, integration, event)
	}
	return n.replyToThread(ctx, integration, event, thread)
}

// resolveIntegration picks the integration for an organization. More than
// one configured integration is tolerated but only the oldest is used.
func (n *NotifierService) resolveIntegration(ctx context.Context, orgID int64) (*models.SlackIntegration, error) {
	integrations, err := n.store.ListSlackIntegrations(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	if len(integrations) == 0 {
		return nil, nil
	}
	if len(integrations) > 1 {
		log.Warn(ctx, "Multiple Slack integrations configured, using oldest",
			"org_id", orgID,
			"integration_count", len(integrations),
			"selected_team_id", integrations[0].SlackTeamID,
		)
	}
	return integrations[0], nil
}

func (n *NotifierService) anchorThread(
	ctx context.Context, integration *models.SlackIntegration, event *models.PullRequestEvent,
) (Outcome, error) {
	tags, err := n.resolveTags(ctx, event)
	if err != nil {
		return OutcomeSkipped, err
	}

	timestamp, err := n.slack.PostThreadRoot(ctx, integration, event, tags)
	if err != nil {
		return OutcomeSkipped, err
	}

	// Persist only after the post succeeds so a failed delivery retries
	// from scratch instead of recording a thread with no message.
	thread := &models.PullRequestThread{
		PullRequestID:     event.PullRequestID,
		PullRequestNumber: event.PullRequestNumber,
		OrganizationID:    event.OrganizationID,
		RepoFullName:      event.RepositoryFullName,
		ChannelID:         integration.ChannelID,
		ThreadTS:          timestamp,
		Draft:             event.Draft,
		Status:            statusForAction(event.Action),
		Title:             event.Title,
		URL:               event.URL,
	}
	if err := n.store.UpsertThread(ctx, thread); err != nil {
		return OutcomeSkipped, fmt.Errorf("failed to record thread: %w", err)
	}

	log.Info(ctx, "Anchored PR thread",
		"pull_request_id", event.PullRequestID,
		"repo", event.RepositoryFullName,
		"channel", integration.ChannelID,
		"thread_ts", timestamp,
	)
	return OutcomePosted, nil
}

func (n *NotifierService) replyToThread(
	ctx context.Context, integration *models.SlackIntegration, event *models.PullRequestEvent,
	thread *models.PullRequestThread,
) (Outcome, error) {
	tags, err := n.resolveTags(ctx, event)
	if err != nil {
		return OutcomeSkipped, err
	}

	outcome := OutcomeSkipped
	text := n.builder.BuildReplyMessage(event, tags)
	if text != "" {
		if err := n.slack.PostThreadReply(ctx, integration, thread.ThreadTS, text); err != nil {
			return OutcomeSkipped, err
		}
		outcome = OutcomePosted
	}

	thread.Draft = event.Draft
	thread.Status = statusForAction(event.Action)
	if event.Title != "" {
		thread.Title = event.Title
	}
	if err := n.store.UpsertThread(ctx, thread); err != nil {
		return outcome, fmt.Errorf("failed to update thread state: %w", err)
	}

	log.Info(ctx, "Updated PR thread",
		"pull_request_id", event.PullRequestID,
		"action", string(event.Action),
		"thread_ts", thread.ThreadTS,
		"posted", outcome == OutcomePosted,
	)
	return outcome, nil
}

// resolveTags looks up Slack IDs for every login the message may render.
// Missing mappings are not errors; the login renders as plain text.
func (n *NotifierService) resolveTags(ctx context.Context, event *models.PullRequestEvent) (ui.UserTags, error) {
	logins := make([]string, 0, 1+len(event.RequestedReviewers)+len(event.MentionedLogins))
	logins = append(logins, event.ActorLogin)
	logins = append(logins, event.RequestedReviewers...)
	logins = append(logins, event.MentionedLogins...)

	tags := make(ui.UserTags, len(logins))
	for _, login := range logins {
		if login == "" {
			continue
		}
		if _, seen := tags[login]; seen {
			continue
		}
		slackID, err := n.store.GetUsernameMapping(ctx, event.OrganizationID, login)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve mapping for %s: %w", login, err)
		}
		tags[login] = slackID
	}
	return tags, nil
}

func statusForAction(action models.EventAction) string {
	if action == models.ActionClosed {
		return models.ThreadStatusClosed
	}
	return models.ThreadStatusOpen
}
