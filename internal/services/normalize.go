package services

import (
	"encoding/json"
	"errors"
	"fmt"

	"pr-thread-notifier/internal/models"
	"pr-thread-notifier/internal/utils"
)

var (
	// ErrOwnerMissing signals that the payload carries no resolvable
	// repository owner. Some installation-scoped deliveries omit it; the
	// event is skipped, not failed.
	ErrOwnerMissing = errors.New("repository owner missing from payload")

	// ErrPullRequestMissing signals a pull_request event without the
	// pull_request object.
	ErrPullRequestMissing = errors.New("pull_request missing from payload")
)

// githubUser is the subset of GitHub's user object the normalizer reads.
type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// pullRequestPayload is the strict shape decoded from pull_request events.
// Unknown fields are ignored by encoding/json; required-but-absent fields
// route the event to a skip, never a crash.
type pullRequestPayload struct {
	Action      string `json:"action"`
	PullRequest *struct {
		ID                 int64        `json:"id"`
		Number             int          `json:"number"`
		Title              string       `json:"title"`
		Body               string       `json:"body"`
		Draft              bool         `json:"draft"`
		HTMLURL            string       `json:"html_url"`
		User               githubUser   `json:"user"`
		RequestedReviewers []githubUser `json:"requested_reviewers"`
	} `json:"pull_request"`
	Repository *struct {
		ID       int64       `json:"id"`
		FullName string      `json:"full_name"`
		Owner    *githubUser `json:"owner"`
	} `json:"repository"`
}

// installationPayload is the shape decoded from installation events.
type installationPayload struct {
	Action       string `json:"action"`
	Installation *struct {
		ID      int64       `json:"id"`
		Account *githubUser `json:"account"`
	} `json:"installation"`
}

// knownActions is the action vocabulary that produces notifications.
// Anything else normalizes to ActionIgnored.
var knownActions = map[string]models.EventAction{
	"opened":             models.ActionOpened,
	"closed":             models.ActionClosed,
	"reopened":           models.ActionReopened,
	"ready_for_review":   models.ActionReadyForReview,
	"converted_to_draft": models.ActionConvertedToDraft,
	"review_requested":   models.ActionReviewRequested,
}

// NormalizePullRequestEvent parses a raw pull_request webhook payload into
// the canonical event shape. Unrecognized actions are accepted and mapped to
// ActionIgnored so new GitHub actions degrade to a no-op.
func NormalizePullRequestEvent(payload []byte) (*models.PullRequestEvent, error) {
	var raw pullRequestPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode pull_request payload: %w", err)
	}

	if raw.PullRequest == nil {
		return nil, ErrPullRequestMissing
	}
	if raw.Repository == nil || raw.Repository.Owner == nil || raw.Repository.Owner.Login == "" {
		return nil, ErrOwnerMissing
	}

	action, ok := knownActions[raw.Action]
	if !ok {
		action = models.ActionIgnored
	}

	// ready_for_review flips draft state independently of the action that
	// opened the PR; trust the payload's draft flag, but a ready_for_review
	// action always means the PR is no longer a draft.
	draft := raw.PullRequest.Draft
	if action == models.ActionReadyForReview {
		draft = false
	}

	reviewers := make([]string, 0, len(raw.PullRequest.RequestedReviewers))
	for _, reviewer := range raw.PullRequest.RequestedReviewers {
		if reviewer.Login != "" {
			reviewers = append(reviewers, reviewer.Login)
		}
	}

	return &models.PullRequestEvent{
		Action:             action,
		PullRequestID:      raw.PullRequest.ID,
		PullRequestNumber:  raw.PullRequest.Number,
		RepositoryID:       raw.Repository.ID,
		RepositoryFullName: raw.Repository.FullName,
		OrganizationID:     raw.Repository.Owner.ID,
		OrganizationLogin:  raw.Repository.Owner.Login,
		ActorLogin:         raw.PullRequest.User.Login,
		Draft:              draft,
		Title:              raw.PullRequest.Title,
		URL:                raw.PullRequest.HTMLURL,
		RequestedReviewers: reviewers,
		MentionedLogins:    utils.ExtractMentions(raw.PullRequest.Body),
	}, nil
}

// InstallationChange describes an installation event relevant to
// organization lifecycle.
type InstallationChange struct {
	Action         string
	InstallationID int64
	AccountID      int64
	AccountLogin   string
}

// NormalizeInstallationEvent parses an installation webhook payload.
// Deliveries without a resolvable account are reported as ErrOwnerMissing.
func NormalizeInstallationEvent(payload []byte) (*InstallationChange, error) {
	var raw installationPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode installation payload: %w", err)
	}

	if raw.Installation == nil || raw.Installation.Account == nil || raw.Installation.Account.Login == "" {
		return nil, ErrOwnerMissing
	}

	return &InstallationChange{
		Action:         raw.Action,
		InstallationID: raw.Installation.ID,
		AccountID:      raw.Installation.Account.ID,
		AccountLogin:   raw.Installation.Account.Login,
	}, nil
}
