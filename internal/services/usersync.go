package services

import (
	"context"
	"fmt"
	"time"

	"pr-thread-notifier/internal/log"
	"pr-thread-notifier/internal/models"
)

// orgMemberLister abstracts the GitHub member listing for tests.
type orgMemberLister interface {
	ListOrgMembers(ctx context.Context, installationID int64, orgLogin string) ([]OrgMember, error)
}

// workspaceUserLister abstracts the Slack user listing for tests.
type workspaceUserLister interface {
	ListUsersByEmail(ctx context.Context, integration *models.SlackIntegration) (map[string]string, error)
}

// mappingStore persists username mappings. Implemented by FirestoreService.
type mappingStore interface {
	UpsertUsernameMapping(ctx context.Context, mapping *models.UsernameMapping) error
}

// UserSyncService refreshes GitHub-to-Slack username mappings by pairing
// organization members with workspace users over their email addresses.
// The refresh hits admin-tier Slack endpoints, so it runs behind the
// per-team cooldown gate.
type UserSyncService struct {
	github   orgMemberLister
	slack    workspaceUserLister
	store    mappingStore
	throttle *ThrottleService
}

// NewUserSyncService creates a new UserSyncService.
func NewUserSyncService(
	github orgMemberLister, slack workspaceUserLister, store mappingStore, throttle *ThrottleService,
) *UserSyncService {
	return &UserSyncService{
		github:   github,
		slack:    slack,
		store:    store,
		throttle: throttle,
	}
}

// SyncResult reports the outcome of one sync run.
type SyncResult struct {
	Throttled bool
	Matched   int
	Unmatched int
}

// Sync refreshes the mappings for one organization/integration pair. When
// the cooldown window for the team is still live the run is skipped and
// Throttled is set; existing mappings are left untouched.
func (us *UserSyncService) Sync(
	ctx context.Context, org *models.Organization, integration *models.SlackIntegration,
) (*SyncResult, error) {
	allowed, err := us.throttle.TryAcquire(ctx, integration.SlackTeamID, RequestTypeUserSync)
	if err != nil {
		return nil, fmt.Errorf("failed to check sync throttle: %w", err)
	}
	if !allowed {
		log.Info(ctx, "Username sync skipped, cooldown window still open",
			"slack_team_id", integration.SlackTeamID,
			"org_id", org.ID,
		)
		return &SyncResult{Throttled: true}, nil
	}

	members, err := us.github.ListOrgMembers(ctx, org.InstallationID, org.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to list organization members: %w", err)
	}

	usersByEmail, err := us.slack.ListUsersByEmail(ctx, integration)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace users: %w", err)
	}

	result := &SyncResult{}
	now := time.Now()
	for _, member := range members {
		slackUserID := ""
		if member.Email != "" {
			slackUserID = usersByEmail[member.Email]
		}
		if slackUserID == "" {
			result.Unmatched++
			continue
		}

		err := us.store.UpsertUsernameMapping(ctx, &models.UsernameMapping{
			OrganizationID: org.ID,
			GitHubLogin:    member.Login,
			SlackUserID:    slackUserID,
			UpdatedAt:      now,
		})
		if err != nil {
			return result, fmt.Errorf("failed to save mapping for %s: %w", member.Login, err)
		}
		result.Matched++
	}

	log.Info(ctx, "Username sync completed",
		"org_id", org.ID,
		"slack_team_id", integration.SlackTeamID,
		"matched", result.Matched,
		"unmatched", result.Unmatched,
	)
	return result, nil
}
