package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pr-thread-notifier/internal/log"
	"pr-thread-notifier/internal/models"
)

// Firestore collection names.
const (
	collOrganizations    = "organizations"
	collIntegrations     = "slack_integrations"
	collUsernameMappings = "username_mappings"
	collThreads          = "pr_threads"
	collThrottles        = "slack_throttles"
	collLeases           = "thread_leases"
)

// ErrLeaseNotHeld is returned when releasing a lease owned by another holder.
var ErrLeaseNotHeld = errors.New("thread lease not held by this holder")

// FirestoreService provides database operations for Firestore.
type FirestoreService struct {
	client *firestore.Client
}

// NewFirestoreService creates a new FirestoreService with the provided client.
func NewFirestoreService(client *firestore.Client) *FirestoreService {
	return &FirestoreService{client: client}
}

// Organization operations.

// GetOrganization retrieves an organization by GitHub account ID.
// Returns (nil, nil) when the organization does not exist.
func (fs *FirestoreService) GetOrganization(ctx context.Context, orgID int64) (*models.Organization, error) {
	doc, err := fs.client.Collection(collOrganizations).Doc(formatID(orgID)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		log.Error(ctx, "Failed to get organization",
			"error", err,
			"org_id", orgID,
			"operation", "get_organization",
		)
		return nil, fmt.Errorf("failed to get organization %d: %w", orgID, err)
	}

	var org models.Organization
	if err := doc.DataTo(&org); err != nil {
		return nil, fmt.Errorf("failed to unmarshal organization %d: %w", orgID, err)
	}
	return &org, nil
}

// UpsertOrganization creates or updates an organization record. Used by the
// installation lifecycle: created on first install, installation ID refreshed
// on reinstall. Organizations are never hard-deleted.
func (fs *FirestoreService) UpsertOrganization(ctx context.Context, org *models.Organization) error {
	org.UpdatedAt = time.Now()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now()
	}

	_, err := fs.client.Collection(collOrganizations).Doc(formatID(org.ID)).Set(ctx, org)
	if err != nil {
		log.Error(ctx, "Failed to upsert organization",
			"error", err,
			"org_id", org.ID,
			"org_name", org.Name,
			"operation", "upsert_organization",
		)
		return fmt.Errorf("failed to upsert organization %d: %w", org.ID, err)
	}
	return nil
}

// Slack integration operations.

// ListSlackIntegrations returns all Slack integrations for an organization in
// creation order. An empty result is not an error: it means the organization
// has not connected Slack yet and event processing should end quietly.
func (fs *FirestoreService) ListSlackIntegrations(ctx context.Context, orgID int64) ([]*models.SlackIntegration, error) {
	iter := fs.client.Collection(collIntegrations).
		Where("organization_id", "==", orgID).
		OrderBy("created_at", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var integrations []*models.SlackIntegration
	for {
		doc, err := iter.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			log.Error(ctx, "Failed to query slack integrations",
				"error", err,
				"org_id", orgID,
				"operation", "list_slack_integrations",
			)
			return nil, fmt.Errorf("failed to query slack integrations for org %d: %w", orgID, err)
		}

		var integration models.SlackIntegration
		if err := doc.DataTo(&integration); err != nil {
			log.Error(ctx, "Failed to unmarshal slack integration",
				"error", err,
				"doc_id", doc.Ref.ID,
				"operation", "unmarshal_slack_integration",
			)
			continue
		}
		integrations = append(integrations, &integration)
	}

	return integrations, nil
}

// CreateSlackIntegration stores a new Slack integration for an organization.
func (fs *FirestoreService) CreateSlackIntegration(ctx context.Context, integration *models.SlackIntegration) error {
	if err := integration.Validate(); err != nil {
		return fmt.Errorf("invalid slack integration: %w", err)
	}

	integration.CreatedAt = time.Now()
	integration.UpdatedAt = integration.CreatedAt
	docRef := fs.client.Collection(collIntegrations).NewDoc()
	integration.ID = docRef.ID

	if _, err := docRef.Set(ctx, integration); err != nil {
		log.Error(ctx, "Failed to create slack integration",
			"error", err,
			"org_id", integration.OrganizationID,
			"slack_team_id", integration.SlackTeamID,
			"channel_id", integration.ChannelID,
			"operation", "create_slack_integration",
		)
		return fmt.Errorf("failed to create slack integration for org %d: %w", integration.OrganizationID, err)
	}
	return nil
}

// UpdateIntegrationChannel repoints an integration at a different channel.
func (fs *FirestoreService) UpdateIntegrationChannel(
	ctx context.Context, integrationID, channelID, channelName string,
) error {
	_, err := fs.client.Collection(collIntegrations).Doc(integrationID).Update(ctx, []firestore.Update{
		{Path: "channel_id", Value: channelID},
		{Path: "channel_name", Value: channelName},
		{Path: "updated_at", Value: time.Now()},
	})
	if err != nil {
		log.Error(ctx, "Failed to update integration channel",
			"error", err,
			"integration_id", integrationID,
			"channel_id", channelID,
			"operation", "update_integration_channel",
		)
		return fmt.Errorf("failed to update integration %s: %w", integrationID, err)
	}
	return nil
}

// FindIntegrationByTeam locates the integration for a Slack team, used by the
// Slack webhook surface where only the team ID is known.
func (fs *FirestoreService) FindIntegrationByTeam(ctx context.Context, teamID string) (*models.SlackIntegration, error) {
	iter := fs.client.Collection(collIntegrations).
		Where("slack_team_id", "==", teamID).
		OrderBy("created_at", firestore.Asc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err != nil {
		if errors.Is(err, iterator.Done) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query integration for team %s: %w", teamID, err)
	}

	var integration models.SlackIntegration
	if err := doc.DataTo(&integration); err != nil {
		return nil, fmt.Errorf("failed to unmarshal integration for team %s: %w", teamID, err)
	}
	return &integration, nil
}

// Username mapping operations.

// GetUsernameMapping resolves a GitHub login to a Slack user ID within an
// organization. Returns ("", nil) when no mapping exists; callers degrade to
// the plain login text.
func (fs *FirestoreService) GetUsernameMapping(ctx context.Context, orgID int64, githubLogin string) (string, error) {
	doc, err := fs.client.Collection(collUsernameMappings).Doc(mappingDocID(orgID, githubLogin)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", nil
		}
		log.Error(ctx, "Failed to get username mapping",
			"error", err,
			"org_id", orgID,
			"github_login", githubLogin,
			"operation", "get_username_mapping",
		)
		return "", fmt.Errorf("failed to get username mapping for %s in org %d: %w", githubLogin, orgID, err)
	}

	var mapping models.UsernameMapping
	if err := doc.DataTo(&mapping); err != nil {
		return "", fmt.Errorf("failed to unmarshal username mapping for %s: %w", githubLogin, err)
	}
	return mapping.SlackUserID, nil
}

// UpsertUsernameMapping creates or updates a (org, github login) mapping.
func (fs *FirestoreService) UpsertUsernameMapping(ctx context.Context, mapping *models.UsernameMapping) error {
	if err := mapping.Validate(); err != nil {
		return fmt.Errorf("invalid username mapping: %w", err)
	}

	mapping.UpdatedAt = time.Now()
	if mapping.CreatedAt.IsZero() {
		mapping.CreatedAt = time.Now()
	}

	docID := mappingDocID(mapping.OrganizationID, mapping.GitHubLogin)
	if _, err := fs.client.Collection(collUsernameMappings).Doc(docID).Set(ctx, mapping); err != nil {
		log.Error(ctx, "Failed to upsert username mapping",
			"error", err,
			"org_id", mapping.OrganizationID,
			"github_login", mapping.GitHubLogin,
			"operation", "upsert_username_mapping",
		)
		return fmt.Errorf("failed to upsert username mapping for %s: %w", mapping.GitHubLogin, err)
	}
	return nil
}

// Thread state operations.

// GetThread retrieves the thread record for a pull request ID.
// Returns (nil, nil) when no record exists.
func (fs *FirestoreService) GetThread(ctx context.Context, prID int64) (*models.PullRequestThread, error) {
	doc, err := fs.client.Collection(collThreads).Doc(formatID(prID)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		log.Error(ctx, "Failed to get thread record",
			"error", err,
			"pr_id", prID,
			"operation", "get_thread",
		)
		return nil, fmt.Errorf("failed to get thread for PR %d: %w", prID, err)
	}

	var thread models.PullRequestThread
	if err := doc.DataTo(&thread); err != nil {
		return nil, fmt.Errorf("failed to unmarshal thread for PR %d: %w", prID, err)
	}
	return &thread, nil
}

// UpsertThread atomically creates or updates the thread record for a pull
// request. The write runs in a transaction so concurrent duplicate deliveries
// converge on a single record, and an existing non-empty thread anchor is
// never overwritten with an empty one.
func (fs *FirestoreService) UpsertThread(ctx context.Context, thread *models.PullRequestThread) error {
	if thread.PullRequestID == 0 {
		return models.ErrPullRequestIDRequired
	}

	docRef := fs.client.Collection(collThreads).Doc(formatID(thread.PullRequestID))
	err := fs.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := time.Now()
		existing, err := tx.Get(docRef)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
			thread.CreatedAt = now
			thread.UpdatedAt = now
			return tx.Create(docRef, thread)
		}

		var current models.PullRequestThread
		if err := existing.DataTo(&current); err != nil {
			return fmt.Errorf("failed to unmarshal existing thread: %w", err)
		}

		if thread.ThreadTS == "" && current.ThreadTS != "" {
			thread.ThreadTS = current.ThreadTS
		}
		thread.CreatedAt = current.CreatedAt
		thread.UpdatedAt = now
		return tx.Set(docRef, thread)
	})
	if err != nil {
		log.Error(ctx, "Failed to upsert thread record",
			"error", err,
			"pr_id", thread.PullRequestID,
			"org_id", thread.OrganizationID,
			"operation", "upsert_thread",
		)
		return fmt.Errorf("failed to upsert thread for PR %d: %w", thread.PullRequestID, err)
	}
	return nil
}

// ListOpenThreads returns all thread records whose status is open, for the
// reminder digest job. Closed PRs keep their records but drop out of this
// query.
func (fs *FirestoreService) ListOpenThreads(ctx context.Context) ([]*models.PullRequestThread, error) {
	iter := fs.client.Collection(collThreads).
		Where("status", "==", models.ThreadStatusOpen).
		Documents(ctx)
	defer iter.Stop()

	var threads []*models.PullRequestThread
	for {
		doc, err := iter.Next()
		if err != nil {
			if errors.Is(err, iterator.Done) {
				break
			}
			return nil, fmt.Errorf("failed to query open threads: %w", err)
		}

		var thread models.PullRequestThread
		if err := doc.DataTo(&thread); err != nil {
			log.Error(ctx, "Failed to unmarshal thread record",
				"error", err,
				"doc_id", doc.Ref.ID,
				"operation", "list_open_threads",
			)
			continue
		}
		threads = append(threads, &thread)
	}

	return threads, nil
}

// Advisory lease operations. Firestore transactions give atomic conditional
// writes, but the root-vs-reply decision spans a Slack network call, so the
// dispatcher holds a TTL'd lease document for the critical section.

// AcquireThreadLease attempts to take the advisory lease for a pull request.
// Returns false when another live holder owns it. Expired leases from crashed
// holders are taken over.
func (fs *FirestoreService) AcquireThreadLease(
	ctx context.Context, prID int64, holderID string, ttl time.Duration,
) (bool, error) {
	docRef := fs.client.Collection(collLeases).Doc(formatID(prID))
	acquired := false

	err := fs.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := time.Now()
		doc, err := tx.Get(docRef)
		if err == nil {
			var lease models.ThreadLease
			if err := doc.DataTo(&lease); err != nil {
				return fmt.Errorf("failed to unmarshal lease: %w", err)
			}
			if lease.HolderID != holderID && now.Before(lease.ExpiresAt) {
				acquired = false
				return nil
			}
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		acquired = true
		return tx.Set(docRef, &models.ThreadLease{
			PullRequestID: prID,
			HolderID:      holderID,
			AcquiredAt:    now,
			ExpiresAt:     now.Add(ttl),
		})
	})
	if err != nil {
		log.Error(ctx, "Failed to acquire thread lease",
			"error", err,
			"pr_id", prID,
			"operation", "acquire_thread_lease",
		)
		return false, fmt.Errorf("failed to acquire lease for PR %d: %w", prID, err)
	}
	return acquired, nil
}

// ReleaseThreadLease releases the advisory lease if this holder still owns
// it. Releasing a lease already taken over by another holder is not an error
// worth failing the request for; it is logged and reported as ErrLeaseNotHeld.
func (fs *FirestoreService) ReleaseThreadLease(ctx context.Context, prID int64, holderID string) error {
	docRef := fs.client.Collection(collLeases).Doc(formatID(prID))

	err := fs.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(docRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		}

		var lease models.ThreadLease
		if err := doc.DataTo(&lease); err != nil {
			return fmt.Errorf("failed to unmarshal lease: %w", err)
		}
		if lease.HolderID != holderID {
			return ErrLeaseNotHeld
		}
		return tx.Delete(docRef)
	})
	if err != nil {
		if errors.Is(err, ErrLeaseNotHeld) {
			log.Warn(ctx, "Thread lease taken over before release",
				"pr_id", prID,
				"holder_id", holderID,
			)
			return ErrLeaseNotHeld
		}
		return fmt.Errorf("failed to release lease for PR %d: %w", prID, err)
	}
	return nil
}

// Throttle store operations (see ThrottleService for the cooldown policy).

// GetThrottle retrieves the throttle record for a (team, request type) pair.
// Returns (nil, nil) when no record exists.
func (fs *FirestoreService) GetThrottle(ctx context.Context, teamID, requestType string) (*models.SlackAPIThrottle, error) {
	doc, err := fs.client.Collection(collThrottles).Doc(throttleDocID(teamID, requestType)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get throttle for team %s type %s: %w", teamID, requestType, err)
	}

	var throttle models.SlackAPIThrottle
	if err := doc.DataTo(&throttle); err != nil {
		return nil, fmt.Errorf("failed to unmarshal throttle record: %w", err)
	}
	return &throttle, nil
}

// PutThrottle overwrites the throttle record for a (team, request type) pair.
// The expires_at field carries the Firestore TTL policy that reaps stale
// documents.
func (fs *FirestoreService) PutThrottle(ctx context.Context, throttle *models.SlackAPIThrottle) error {
	docID := throttleDocID(throttle.SlackTeamID, throttle.RequestType)
	if _, err := fs.client.Collection(collThrottles).Doc(docID).Set(ctx, throttle); err != nil {
		log.Error(ctx, "Failed to write throttle record",
			"error", err,
			"slack_team_id", throttle.SlackTeamID,
			"request_type", throttle.RequestType,
			"operation", "put_throttle",
		)
		return fmt.Errorf("failed to write throttle for team %s: %w", throttle.SlackTeamID, err)
	}
	return nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// mappingDocID builds the document ID for username mappings.
// Format: {org_id}#{github_login}.
func mappingDocID(orgID int64, githubLogin string) string {
	return formatID(orgID) + "#" + githubLogin
}

// throttleDocID builds the document ID for throttle records.
// Format: {team_id}#{request_type}.
func throttleDocID(teamID, requestType string) string {
	return teamID + "#" + requestType
}
