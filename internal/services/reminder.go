package services

import (
	"context"
	"fmt"
	"sort"

	"pr-thread-notifier/internal/log"
	"pr-thread-notifier/internal/models"
)

// reminderStore is the Firestore surface the reminder job needs.
type reminderStore interface {
	ListOpenThreads(ctx context.Context) ([]*models.PullRequestThread, error)
	ListSlackIntegrations(ctx context.Context, orgID int64) ([]*models.SlackIntegration, error)
	GetOrganization(ctx context.Context, orgID int64) (*models.Organization, error)
}

// digestPoster is the Slack surface the reminder job needs.
type digestPoster interface {
	PostDigest(ctx context.Context, integration *models.SlackIntegration, orgName string, threads []*models.PullRequestThread) error
}

// ReminderService posts periodic digests of pull requests that are still
// open. One digest per organization, into the organization's channel.
type ReminderService struct {
	store reminderStore
	slack digestPoster
}

// NewReminderService creates a new ReminderService.
func NewReminderService(store reminderStore, slack digestPoster) *ReminderService {
	return &ReminderService{store: store, slack: slack}
}

// ReminderResult summarizes one reminder run.
type ReminderResult struct {
	OpenThreads  int `json:"open_threads"`
	OrgsNotified int `json:"orgs_notified"`
	OrgsSkipped  int `json:"orgs_skipped"`
	OrgsFailed   int `json:"orgs_failed"`
}

// Run executes one reminder pass. Failures are contained per organization:
// one misconfigured or unreachable workspace never blocks the digests of
// the others. An error is returned only when the thread listing itself
// fails.
func (rs *ReminderService) Run(ctx context.Context) (*ReminderResult, error) {
	threads, err := rs.store.ListOpenThreads(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list open threads: %w", err)
	}

	result := &ReminderResult{OpenThreads: len(threads)}
	if len(threads) == 0 {
		log.Info(ctx, "Reminder run found no open pull requests")
		return result, nil
	}

	byOrg := make(map[int64][]*models.PullRequestThread)
	for _, thread := range threads {
		byOrg[thread.OrganizationID] = append(byOrg[thread.OrganizationID], thread)
	}

	// Deterministic order keeps retry behavior and logs stable.
	orgIDs := make([]int64, 0, len(byOrg))
	for orgID := range byOrg {
		orgIDs = append(orgIDs, orgID)
	}
	sort.Slice(orgIDs, func(i, j int) bool { return orgIDs[i] < orgIDs[j] })

	for _, orgID := range orgIDs {
		switch err := rs.notifyOrg(ctx, orgID, byOrg[orgID]); {
		case err == nil:
			result.OrgsNotified++
		case err == errNoIntegrationForOrg:
			result.OrgsSkipped++
		default:
			result.OrgsFailed++
			log.Error(ctx, "Failed to post reminder digest",
				"error", err,
				"org_id", orgID,
				"thread_count", len(byOrg[orgID]),
			)
		}
	}

	log.Info(ctx, "Reminder run completed",
		"open_threads", result.OpenThreads,
		"orgs_notified", result.OrgsNotified,
		"orgs_skipped", result.OrgsSkipped,
		"orgs_failed", result.OrgsFailed,
	)
	return result, nil
}

var errNoIntegrationForOrg = fmt.Errorf("no integration for organization")

func (rs *ReminderService) notifyOrg(ctx context.Context, orgID int64, threads []*models.PullRequestThread) error {
	integrations, err := rs.store.ListSlackIntegrations(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to list integrations: %w", err)
	}
	if len(integrations) == 0 {
		log.Warn(ctx, "Organization has open PRs but no Slack integration",
			"org_id", orgID,
			"thread_count", len(threads),
		)
		return errNoIntegrationForOrg
	}
	integration := integrations[0]

	orgName := ""
	if org, err := rs.store.GetOrganization(ctx, orgID); err == nil && org != nil {
		orgName = org.Name
	}

	sort.Slice(threads, func(i, j int) bool {
		return threads[i].CreatedAt.Before(threads[j].CreatedAt)
	})

	return rs.slack.PostDigest(ctx, integration, orgName, threads)
}
