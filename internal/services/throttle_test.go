package services

import (
	"context"
	"testing"
	"time"

	"pr-thread-notifier/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryThrottleStore is an in-memory ThrottleStore for tests.
type memoryThrottleStore struct {
	records map[string]*models.SlackAPIThrottle
}

func newMemoryThrottleStore() *memoryThrottleStore {
	return &memoryThrottleStore{records: make(map[string]*models.SlackAPIThrottle)}
}

func (m *memoryThrottleStore) GetThrottle(_ context.Context, teamID, requestType string) (*models.SlackAPIThrottle, error) {
	return m.records[teamID+"#"+requestType], nil
}

func (m *memoryThrottleStore) PutThrottle(_ context.Context, throttle *models.SlackAPIThrottle) error {
	m.records[throttle.SlackTeamID+"#"+throttle.RequestType] = throttle
	return nil
}

func TestThrottleService_CooldownWindow(t *testing.T) {
	ctx := context.Background()
	store := newMemoryThrottleStore()
	clock := time.Unix(1700000000, 0)

	svc := NewThrottleService(store, 15*time.Minute)
	svc.now = func() time.Time { return clock }

	// First call proceeds and stamps the cooldown.
	ok, err := svc.TryAcquire(ctx, "T123", RequestTypeUserSync)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second call inside the window is denied.
	clock = clock.Add(14 * time.Minute)
	ok, err = svc.TryAcquire(ctx, "T123", RequestTypeUserSync)
	require.NoError(t, err)
	assert.False(t, ok)

	// After the TTL elapses the gate opens again.
	clock = clock.Add(2 * time.Minute)
	ok, err = svc.TryAcquire(ctx, "T123", RequestTypeUserSync)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestThrottleService_IndependentPerTeamAndType(t *testing.T) {
	ctx := context.Background()
	store := newMemoryThrottleStore()
	clock := time.Unix(1700000000, 0)

	svc := NewThrottleService(store, 15*time.Minute)
	svc.now = func() time.Time { return clock }

	ok, err := svc.TryAcquire(ctx, "T123", RequestTypeUserSync)
	require.NoError(t, err)
	require.True(t, ok)

	// A different team is unaffected.
	ok, err = svc.TryAcquire(ctx, "T999", RequestTypeUserSync)
	require.NoError(t, err)
	assert.True(t, ok)

	// A different request type for the same team is unaffected.
	ok, err = svc.TryAcquire(ctx, "T123", "channel_refresh")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestThrottleService_EveryWriteResetsExpiry(t *testing.T) {
	ctx := context.Background()
	store := newMemoryThrottleStore()
	clock := time.Unix(1700000000, 0)

	svc := NewThrottleService(store, 15*time.Minute)
	svc.now = func() time.Time { return clock }

	_, err := svc.TryAcquire(ctx, "T123", RequestTypeUserSync)
	require.NoError(t, err)

	first := store.records["T123#"+RequestTypeUserSync].ExpiresAt

	clock = clock.Add(20 * time.Minute)
	_, err = svc.TryAcquire(ctx, "T123", RequestTypeUserSync)
	require.NoError(t, err)

	second := store.records["T123#"+RequestTypeUserSync].ExpiresAt
	assert.True(t, second.After(first))
	assert.Equal(t, clock.Add(15*time.Minute), second)
}
