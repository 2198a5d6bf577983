package models

import (
	"errors"
	"time"
)

var (
	ErrJobIDRequired          = errors.New("job ID is required")
	ErrEventTypeRequired      = errors.New("event type is required")
	ErrPayloadRequired        = errors.New("payload is required")
	ErrTraceIDRequired        = errors.New("trace ID is required")
	ErrOrganizationIDRequired = errors.New("organization ID is required")
	ErrSlackTeamIDRequired    = errors.New("slack team ID is required")
	ErrAccessTokenRequired    = errors.New("access token is required")
	ErrChannelIDRequired      = errors.New("slack channel ID is required")
	ErrGitHubLoginRequired    = errors.New("github login is required")
	ErrSlackUserIDRequired    = errors.New("slack user ID is required")
	ErrPullRequestIDRequired  = errors.New("pull request ID is required")
)

// EventAction is the normalized GitHub pull_request action vocabulary.
// Unrecognized actions decode to ActionIgnored so new GitHub actions
// route to a no-op instead of an error.
type EventAction string

const (
	ActionOpened           EventAction = "opened"
	ActionClosed           EventAction = "closed"
	ActionReopened         EventAction = "reopened"
	ActionReadyForReview   EventAction = "ready_for_review"
	ActionConvertedToDraft EventAction = "converted_to_draft"
	ActionReviewRequested  EventAction = "review_requested"
	ActionIgnored          EventAction = ""
)

// PullRequestEvent is the canonical shape derived from a GitHub webhook
// delivery. It is ephemeral and never persisted.
type PullRequestEvent struct {
	Action             EventAction
	PullRequestID      int64 // global immutable PR identity, not the per-repo number
	PullRequestNumber  int
	RepositoryID       int64
	RepositoryFullName string
	OrganizationID     int64 // GitHub account ID owning the repository
	OrganizationLogin  string
	ActorLogin         string
	Draft              bool
	Title              string
	URL                string
	RequestedReviewers []string
	MentionedLogins    []string
}

// Subscription lifecycle values for Organization.
const (
	SubscriptionStatusActive   = "active"
	SubscriptionStatusInactive = "inactive"
)

// Organization mirrors a GitHub account that installed the app.
// Created on the first installation callback and never hard-deleted;
// lifecycle state is carried by SubscriptionStatus.
type Organization struct {
	ID                 int64     `firestore:"id"` // GitHub account ID (primary key)
	Name               string    `firestore:"name"`
	InstallationID     int64     `firestore:"installation_id,omitempty"` // zero until the GitHub App is installed
	SubscriptionStatus string    `firestore:"subscription_status"`
	CreatedAt          time.Time `firestore:"created_at"`
	UpdatedAt          time.Time `firestore:"updated_at"`
}

// SlackIntegration connects an organization to a Slack team and channel.
// Steady state is one active integration per organization; more than one is
// tolerated and resolved first-in-creation-order with a warning.
type SlackIntegration struct {
	ID             string    `firestore:"id"`
	OrganizationID int64     `firestore:"organization_id"`
	SlackTeamID    string    `firestore:"slack_team_id"`
	SlackTeamName  string    `firestore:"slack_team_name"`
	AccessToken    string    `firestore:"access_token"` // bot token, never logged in plaintext
	ChannelID      string    `firestore:"channel_id"`
	ChannelName    string    `firestore:"channel_name"`
	CreatedAt      time.Time `firestore:"created_at"`
	UpdatedAt      time.Time `firestore:"updated_at"`
}

// Validate validates required fields for SlackIntegration.
func (si *SlackIntegration) Validate() error {
	if si.OrganizationID == 0 {
		return ErrOrganizationIDRequired
	}
	if si.SlackTeamID == "" {
		return ErrSlackTeamIDRequired
	}
	if si.AccessToken == "" {
		return ErrAccessTokenRequired
	}
	if si.ChannelID == "" {
		return ErrChannelIDRequired
	}
	return nil
}

// UsernameMapping maps a GitHub login to a Slack user ID within one
// organization. Unique per (organization, github login).
type UsernameMapping struct {
	OrganizationID int64     `firestore:"organization_id"`
	GitHubLogin    string    `firestore:"github_login"`
	SlackUserID    string    `firestore:"slack_user_id"`
	CreatedAt      time.Time `firestore:"created_at"`
	UpdatedAt      time.Time `firestore:"updated_at"`
}

// Validate validates required fields for UsernameMapping.
func (um *UsernameMapping) Validate() error {
	if um.OrganizationID == 0 {
		return ErrOrganizationIDRequired
	}
	if um.GitHubLogin == "" {
		return ErrGitHubLoginRequired
	}
	if um.SlackUserID == "" {
		return ErrSlackUserIDRequired
	}
	return nil
}

// Thread status values. The persisted model only distinguishes open from
// not-open; no richer PR lifecycle is tracked.
const (
	ThreadStatusOpen   = "open"
	ThreadStatusClosed = "closed"
)

// PullRequestThread anchors all Slack activity for one pull request.
// Keyed by the PR's global ID so the anchor is unambiguous across
// repositories (PR numbers are only unique within one repo). At most one
// thread root exists per PR: once ThreadTS is set, every later event
// replies into it. Records are never deleted, even after the PR closes.
type PullRequestThread struct {
	PullRequestID     int64     `firestore:"pull_request_id"`
	PullRequestNumber int       `firestore:"pull_request_number"`
	OrganizationID    int64     `firestore:"organization_id"`
	RepoFullName      string    `firestore:"repo_full_name"`
	ChannelID         string    `firestore:"channel_id"`
	ThreadTS          string    `firestore:"thread_ts,omitempty"` // empty until the first root post succeeds
	Draft             bool      `firestore:"draft"`
	Status            string    `firestore:"status"`
	Title             string    `firestore:"title"`
	URL               string    `firestore:"url"`
	CreatedAt         time.Time `firestore:"created_at"`
	UpdatedAt         time.Time `firestore:"updated_at"`
}

// SlackAPIThrottle is a cooldown marker for one (team, request type) pair.
// ExpiresAt is reset to now+TTL on every write; a Firestore TTL policy on
// expires_at reaps stale documents.
type SlackAPIThrottle struct {
	SlackTeamID string    `firestore:"slack_team_id"`
	RequestType string    `firestore:"request_type"`
	LastRequest time.Time `firestore:"last_request"`
	ExpiresAt   time.Time `firestore:"expires_at"`
}

// ThreadLease is a short-lived advisory lock keyed by pull request ID,
// held across the read-thread / post-to-slack / write-thread critical
// section. Expiry covers crashed holders.
type ThreadLease struct {
	PullRequestID int64     `firestore:"pull_request_id"`
	HolderID      string    `firestore:"holder_id"`
	AcquiredAt    time.Time `firestore:"acquired_at"`
	ExpiresAt     time.Time `firestore:"expires_at"`
}

// WebhookJob carries one verified GitHub delivery through the task queue.
type WebhookJob struct {
	ID         string    `firestore:"id"          json:"id"`
	EventType  string    `firestore:"event_type"  json:"event_type"`
	DeliveryID string    `firestore:"delivery_id" json:"delivery_id"`
	TraceID    string    `firestore:"trace_id"    json:"trace_id"`
	Payload    []byte    `firestore:"payload"     json:"payload"`
	ReceivedAt time.Time `firestore:"received_at" json:"received_at"`
}

func (wj *WebhookJob) Validate() error {
	if wj.ID == "" {
		return ErrJobIDRequired
	}
	if wj.EventType == "" {
		return ErrEventTypeRequired
	}
	if len(wj.Payload) == 0 {
		return ErrPayloadRequired
	}
	if wj.TraceID == "" {
		return ErrTraceIDRequired
	}
	return nil
}
