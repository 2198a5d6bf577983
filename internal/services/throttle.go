package services

import (
	"context"
	"time"

	"pr-thread-notifier/internal/log"
	"pr-thread-notifier/internal/models"
)

// Request types gated by the throttle. Only low-frequency administrative
// calls go through it; the message-posting path is intentionally ungated
// (possible gap, kept as-is).
const (
	RequestTypeUserSync = "user_sync"
)

// ThrottleStore persists cooldown records. Implemented by FirestoreService.
type ThrottleStore interface {
	GetThrottle(ctx context.Context, teamID, requestType string) (*models.SlackAPIThrottle, error)
	PutThrottle(ctx context.Context, throttle *models.SlackAPIThrottle) error
}

// ThrottleService is a cooldown gate per (Slack team, request type) pair:
// at most one acquisition per TTL window. This is not a token bucket.
type ThrottleService struct {
	store ThrottleStore
	ttl   time.Duration
	now   func() time.Time
}

// NewThrottleService creates a ThrottleService with the given store and
// cooldown window.
func NewThrottleService(store ThrottleStore, ttl time.Duration) *ThrottleService {
	return &ThrottleService{
		store: store,
		ttl:   ttl,
		now:   time.Now,
	}
}

// TryAcquire reports whether the caller may proceed with the given request
// type for the team. An absent or expired record is replaced with a fresh
// one expiring at now+TTL and the call is allowed; a live record denies it.
func (ts *ThrottleService) TryAcquire(ctx context.Context, teamID, requestType string) (bool, error) {
	now := ts.now()

	throttle, err := ts.store.GetThrottle(ctx, teamID, requestType)
	if err != nil {
		return false, err
	}

	if throttle != nil && now.Before(throttle.ExpiresAt) {
		log.Debug(ctx, "Slack API call throttled",
			"slack_team_id", teamID,
			"request_type", requestType,
			"expires_at", throttle.ExpiresAt,
		)
		return false, nil
	}

	err = ts.store.PutThrottle(ctx, &models.SlackAPIThrottle{
		SlackTeamID: teamID,
		RequestType: requestType,
		LastRequest: now,
		ExpiresAt:   now.Add(ts.ttl),
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
