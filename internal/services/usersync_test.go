package services

import (
	"context"
	"testing"
	"time"

	"pr-thread-notifier/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMemberLister struct {
	members []OrgMember
}

func (f *fakeMemberLister) ListOrgMembers(_ context.Context, _ int64, _ string) ([]OrgMember, error) {
	return f.members, nil
}

type fakeUserLister struct {
	byEmail map[string]string
	calls   int
}

func (f *fakeUserLister) ListUsersByEmail(_ context.Context, _ *models.SlackIntegration) (map[string]string, error) {
	f.calls++
	return f.byEmail, nil
}

type fakeMappingStore struct {
	saved []*models.UsernameMapping
}

func (f *fakeMappingStore) UpsertUsernameMapping(_ context.Context, mapping *models.UsernameMapping) error {
	f.saved = append(f.saved, mapping)
	return nil
}

func TestUserSync_PairsMembersByEmail(t *testing.T) {
	github := &fakeMemberLister{members: []OrgMember{
		{Login: "carol", Email: "carol@acme.test"},
		{Login: "alice", Email: "alice@acme.test"},
		{Login: "bob-dev"}, // no public email
	}}
	slack := &fakeUserLister{byEmail: map[string]string{
		"carol@acme.test": "U100",
		"alice@acme.test": "U999",
	}}
	store := &fakeMappingStore{}
	throttle := NewThrottleService(newMemoryThrottleStore(), 15*time.Minute)

	svc := NewUserSyncService(github, slack, store, throttle)
	org := &models.Organization{ID: 7, Name: "acme", InstallationID: 4242}
	integration := &models.SlackIntegration{ID: "int-1", SlackTeamID: "T123"}

	result, err := svc.Sync(context.Background(), org, integration)
	require.NoError(t, err)
	assert.False(t, result.Throttled)
	assert.Equal(t, 2, result.Matched)
	assert.Equal(t, 1, result.Unmatched)

	require.Len(t, store.saved, 2)
	assert.Equal(t, "carol", store.saved[0].GitHubLogin)
	assert.Equal(t, "U100", store.saved[0].SlackUserID)
	assert.Equal(t, int64(7), store.saved[0].OrganizationID)
}

func TestUserSync_SecondRunInsideCooldownIsThrottled(t *testing.T) {
	github := &fakeMemberLister{members: []OrgMember{{Login: "carol", Email: "carol@acme.test"}}}
	slack := &fakeUserLister{byEmail: map[string]string{"carol@acme.test": "U100"}}
	store := &fakeMappingStore{}
	throttle := NewThrottleService(newMemoryThrottleStore(), 15*time.Minute)

	svc := NewUserSyncService(github, slack, store, throttle)
	org := &models.Organization{ID: 7, Name: "acme", InstallationID: 4242}
	integration := &models.SlackIntegration{ID: "int-1", SlackTeamID: "T123"}

	_, err := svc.Sync(context.Background(), org, integration)
	require.NoError(t, err)

	result, err := svc.Sync(context.Background(), org, integration)
	require.NoError(t, err)
	assert.True(t, result.Throttled)
	// No workspace traffic and no writes on the throttled run.
	assert.Equal(t, 1, slack.calls)
	assert.Len(t, store.saved, 1)
}
