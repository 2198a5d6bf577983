package services

import (
	"context"
	"fmt"
	"sync"

	"pr-thread-notifier/internal/log"
	"pr-thread-notifier/internal/models"
	"pr-thread-notifier/internal/ui"

	"github.com/slack-go/slack"
)

// SlackService posts PR notifications into workspace channels. Each
// integration carries its own bot token, so clients are built per team
// and cached.
type SlackService struct {
	builder     *ui.MessageBuilder
	clientCache map[string]*slack.Client // keyed by Slack team ID
	cacheMutex  sync.RWMutex

	// newClient is swapped in tests to avoid real API traffic.
	newClient func(token string) *slack.Client
}

// NewSlackService creates a new SlackService.
func NewSlackService() *SlackService {
	return &SlackService{
		builder:     ui.NewMessageBuilder(),
		clientCache: make(map[string]*slack.Client),
		newClient:   func(token string) *slack.Client { return slack.New(token) },
	}
}

func (s *SlackService) clientFor(integration *models.SlackIntegration) *slack.Client {
	s.cacheMutex.RLock()
	client, ok := s.clientCache[integration.SlackTeamID]
	s.cacheMutex.RUnlock()
	if ok {
		return client
	}

	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()
	if client, ok = s.clientCache[integration.SlackTeamID]; ok {
		return client
	}
	client = s.newClient(integration.AccessToken)
	s.clientCache[integration.SlackTeamID] = client
	return client
}

// InvalidateClient drops the cached client for a team, forcing the next call
// to rebuild it from the stored token. Called after a token rotation.
func (s *SlackService) InvalidateClient(teamID string) {
	s.cacheMutex.Lock()
	delete(s.clientCache, teamID)
	s.cacheMutex.Unlock()
}

// PostThreadRoot posts the anchor message for a pull request and returns the
// message timestamp that identifies the thread.
func (s *SlackService) PostThreadRoot(
	ctx context.Context, integration *models.SlackIntegration, event *models.PullRequestEvent, tags ui.UserTags,
) (string, error) {
	text, blocks := s.builder.BuildRootMessage(event, tags)

	_, timestamp, err := s.clientFor(integration).PostMessageContext(ctx, integration.ChannelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		log.Error(ctx, "Failed to post thread root message",
			"error", err,
			"channel", integration.ChannelID,
			"slack_team_id", integration.SlackTeamID,
			"pull_request_id", event.PullRequestID,
			"operation", "post_thread_root",
		)
		return "", fmt.Errorf("failed to post root message to channel %s: %w", integration.ChannelID, err)
	}

	return timestamp, nil
}

// PostThreadReply posts a state-change message into an existing PR thread.
func (s *SlackService) PostThreadReply(
	ctx context.Context, integration *models.SlackIntegration, threadTS, text string,
) error {
	_, _, err := s.clientFor(integration).PostMessageContext(ctx, integration.ChannelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		log.Error(ctx, "Failed to post thread reply",
			"error", err,
			"channel", integration.ChannelID,
			"slack_team_id", integration.SlackTeamID,
			"thread_ts", threadTS,
			"operation", "post_thread_reply",
		)
		return fmt.Errorf("failed to post reply to channel %s: %w", integration.ChannelID, err)
	}
	return nil
}

// PostDigest posts a reminder digest as a fresh channel message.
func (s *SlackService) PostDigest(
	ctx context.Context, integration *models.SlackIntegration, orgName string, threads []*models.PullRequestThread,
) error {
	text, blocks := s.builder.BuildDigestMessage(orgName, threads)

	_, _, err := s.clientFor(integration).PostMessageContext(ctx, integration.ChannelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionBlocks(blocks...),
	)
	if err != nil {
		log.Error(ctx, "Failed to post reminder digest",
			"error", err,
			"channel", integration.ChannelID,
			"slack_team_id", integration.SlackTeamID,
			"operation", "post_digest",
		)
		return fmt.Errorf("failed to post digest to channel %s: %w", integration.ChannelID, err)
	}
	return nil
}

// ListUsersByEmail returns the workspace's active members keyed by their
// profile email. Used by the username sync to pair GitHub and Slack accounts.
func (s *SlackService) ListUsersByEmail(
	ctx context.Context, integration *models.SlackIntegration,
) (map[string]string, error) {
	users, err := s.clientFor(integration).GetUsersContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users for team %s: %w", integration.SlackTeamID, err)
	}

	byEmail := make(map[string]string, len(users))
	for _, user := range users {
		if user.Deleted || user.IsBot || user.Profile.Email == "" {
			continue
		}
		byEmail[user.Profile.Email] = user.ID
	}
	return byEmail, nil
}
