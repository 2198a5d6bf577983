package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"pr-thread-notifier/internal/models"
	"pr-thread-notifier/internal/ui"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeThreadStore struct {
	integrations []*models.SlackIntegration
	mappings     map[string]string // "{orgID}#{login}" -> slack user ID
	threads      map[int64]*models.PullRequestThread

	leaseDenied    bool
	leaseAcquired  int
	leaseReleased  int
	upsertedThread *models.PullRequestThread
}

func newFakeThreadStore() *fakeThreadStore {
	return &fakeThreadStore{
		mappings: make(map[string]string),
		threads:  make(map[int64]*models.PullRequestThread),
	}
}

func (f *fakeThreadStore) ListSlackIntegrations(_ context.Context, _ int64) ([]*models.SlackIntegration, error) {
	return f.integrations, nil
}

func (f *fakeThreadStore) GetUsernameMapping(_ context.Context, orgID int64, login string) (string, error) {
	return f.mappings[mappingDocID(orgID, login)], nil
}

func (f *fakeThreadStore) GetThread(_ context.Context, prID int64) (*models.PullRequestThread, error) {
	return f.threads[prID], nil
}

func (f *fakeThreadStore) UpsertThread(_ context.Context, thread *models.PullRequestThread) error {
	f.upsertedThread = thread
	f.threads[thread.PullRequestID] = thread
	return nil
}

func (f *fakeThreadStore) AcquireThreadLease(_ context.Context, _ int64, _ string, _ time.Duration) (bool, error) {
	if f.leaseDenied {
		return false, nil
	}
	f.leaseAcquired++
	return true, nil
}

func (f *fakeThreadStore) ReleaseThreadLease(_ context.Context, _ int64, _ string) error {
	f.leaseReleased++
	return nil
}

type fakeThreadPoster struct {
	rootTS      string
	rootErr     error
	replyErr    error
	rootCalls   int
	replyCalls  int
	lastTags    ui.UserTags
	lastReplyTS string
	lastReply   string
}

func (f *fakeThreadPoster) PostThreadRoot(
	_ context.Context, _ *models.SlackIntegration, _ *models.PullRequestEvent, tags ui.UserTags,
) (string, error) {
	f.rootCalls++
	f.lastTags = tags
	if f.rootErr != nil {
		return "", f.rootErr
	}
	return f.rootTS, nil
}

func (f *fakeThreadPoster) PostThreadReply(
	_ context.Context, _ *models.SlackIntegration, threadTS, text string,
) error {
	f.replyCalls++
	f.lastReplyTS = threadTS
	f.lastReply = text
	return f.replyErr
}

func testIntegration() *models.SlackIntegration {
	return &models.SlackIntegration{
		ID:             "int-1",
		OrganizationID: 7,
		SlackTeamID:    "T123",
		AccessToken:    "xoxb-test",
		ChannelID:      "C123",
	}
}

func openedEvent() *models.PullRequestEvent {
	return &models.PullRequestEvent{
		Action:             models.ActionOpened,
		PullRequestID:      987654321,
		PullRequestNumber:  42,
		OrganizationID:     7,
		OrganizationLogin:  "acme",
		RepositoryFullName: "acme/widgets",
		ActorLogin:         "carol",
		Title:              "Add retry budget to uploader",
		URL:                "https://github.com/acme/widgets/pull/42",
		RequestedReviewers: []string{"alice"},
	}
}

func TestNotifier_IgnoredActionIsSkipped(t *testing.T) {
	store := newFakeThreadStore()
	poster := &fakeThreadPoster{}
	notifier := NewNotifierService(store, poster, 2*time.Minute)

	event := openedEvent()
	event.Action = models.ActionIgnored

	outcome, err := notifier.Dispatch(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Zero(t, poster.rootCalls)
	assert.Zero(t, store.leaseAcquired)
}

func TestNotifier_NoIntegrationIsSkipped(t *testing.T) {
	store := newFakeThreadStore()
	poster := &fakeThreadPoster{}
	notifier := NewNotifierService(store, poster, 2*time.Minute)

	outcome, err := notifier.Dispatch(context.Background(), openedEvent())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Zero(t, poster.rootCalls)
}

func TestNotifier_AnchorsThreadOnFirstEvent(t *testing.T) {
	store := newFakeThreadStore()
	store.integrations = []*models.SlackIntegration{testIntegration()}
	store.mappings[mappingDocID(7, "alice")] = "U999"
	poster := &fakeThreadPoster{rootTS: "1700000000.000100"}
	notifier := NewNotifierService(store, poster, 2*time.Minute)

	outcome, err := notifier.Dispatch(context.Background(), openedEvent())
	require.NoError(t, err)
	assert.Equal(t, OutcomePosted, outcome)
	assert.Equal(t, 1, poster.rootCalls)

	// Mapped reviewers render as mentions, unmapped logins stay plain.
	assert.Equal(t, "<@U999>", poster.lastTags.Tag("alice"))
	assert.Equal(t, "carol", poster.lastTags.Tag("carol"))

	require.NotNil(t, store.upsertedThread)
	assert.Equal(t, int64(987654321), store.upsertedThread.PullRequestID)
	assert.Equal(t, "1700000000.000100", store.upsertedThread.ThreadTS)
	assert.Equal(t, "C123", store.upsertedThread.ChannelID)
	assert.Equal(t, models.ThreadStatusOpen, store.upsertedThread.Status)

	assert.Equal(t, 1, store.leaseAcquired)
	assert.Equal(t, 1, store.leaseReleased)
}

func TestNotifier_RepliesIntoExistingThread(t *testing.T) {
	store := newFakeThreadStore()
	store.integrations = []*models.SlackIntegration{testIntegration()}
	store.threads[987654321] = &models.PullRequestThread{
		PullRequestID: 987654321,
		ChannelID:     "C123",
		ThreadTS:      "1700000000.000100",
		Status:        models.ThreadStatusOpen,
	}
	poster := &fakeThreadPoster{}
	notifier := NewNotifierService(store, poster, 2*time.Minute)

	event := openedEvent()
	event.Action = models.ActionClosed

	outcome, err := notifier.Dispatch(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, OutcomePosted, outcome)
	assert.Zero(t, poster.rootCalls)
	assert.Equal(t, 1, poster.replyCalls)
	assert.Equal(t, "1700000000.000100", poster.lastReplyTS)
	assert.Contains(t, poster.lastReply, "Closed by carol")

	assert.Equal(t, models.ThreadStatusClosed, store.upsertedThread.Status)
	assert.Equal(t, 1, store.leaseReleased)
}

func TestNotifier_ReviewRequestedReplyMentionsMappedReviewer(t *testing.T) {
	store := newFakeThreadStore()
	store.integrations = []*models.SlackIntegration{testIntegration()}
	store.mappings[mappingDocID(7, "alice")] = "U999"
	store.threads[987654321] = &models.PullRequestThread{
		PullRequestID: 987654321,
		ChannelID:     "C123",
		ThreadTS:      "1700000000.000100",
		Status:        models.ThreadStatusOpen,
	}
	poster := &fakeThreadPoster{}
	notifier := NewNotifierService(store, poster, 2*time.Minute)

	event := openedEvent()
	event.Action = models.ActionReviewRequested

	outcome, err := notifier.Dispatch(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, OutcomePosted, outcome)
	assert.Equal(t, "1700000000.000100", poster.lastReplyTS)
	assert.Contains(t, poster.lastReply, "<@U999>")
}

func TestNotifier_DuplicateOpenedDoesNotRepost(t *testing.T) {
	store := newFakeThreadStore()
	store.integrations = []*models.SlackIntegration{testIntegration()}
	store.threads[987654321] = &models.PullRequestThread{
		PullRequestID: 987654321,
		ThreadTS:      "1700000000.000100",
		Status:        models.ThreadStatusOpen,
	}
	poster := &fakeThreadPoster{}
	notifier := NewNotifierService(store, poster, 2*time.Minute)

	outcome, err := notifier.Dispatch(context.Background(), openedEvent())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Zero(t, poster.rootCalls)
	assert.Zero(t, poster.replyCalls)
}

func TestNotifier_LeaseContentionReturnsRetryableError(t *testing.T) {
	store := newFakeThreadStore()
	store.integrations = []*models.SlackIntegration{testIntegration()}
	store.leaseDenied = true
	poster := &fakeThreadPoster{}
	notifier := NewNotifierService(store, poster, 2*time.Minute)

	_, err := notifier.Dispatch(context.Background(), openedEvent())
	require.ErrorIs(t, err, ErrLeaseContended)
	assert.Zero(t, poster.rootCalls)
	assert.Zero(t, store.leaseReleased)
}

func TestNotifier_FailedRootPostDoesNotRecordThread(t *testing.T) {
	store := newFakeThreadStore()
	store.integrations = []*models.SlackIntegration{testIntegration()}
	poster := &fakeThreadPoster{rootErr: errors.New("slack unavailable")}
	notifier := NewNotifierService(store, poster, 2*time.Minute)

	_, err := notifier.Dispatch(context.Background(), openedEvent())
	require.Error(t, err)
	assert.Nil(t, store.upsertedThread)
	// Lease is released even when the post fails.
	assert.Equal(t, 1, store.leaseReleased)
}

func TestNotifier_FirstIntegrationWins(t *testing.T) {
	store := newFakeThreadStore()
	second := testIntegration()
	second.ID = "int-2"
	second.ChannelID = "C999"
	store.integrations = []*models.SlackIntegration{testIntegration(), second}
	poster := &fakeThreadPoster{rootTS: "1.2"}
	notifier := NewNotifierService(store, poster, 2*time.Minute)

	_, err := notifier.Dispatch(context.Background(), openedEvent())
	require.NoError(t, err)
	assert.Equal(t, "C123", store.upsertedThread.ChannelID)
}
