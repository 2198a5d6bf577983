// Package ui contains Slack Block Kit builders for PR notifications.
package ui

import (
	"fmt"
	"strings"

	"pr-thread-notifier/internal/models"

	"github.com/slack-go/slack"
)

// UserTags maps GitHub logins to Slack user IDs for the message being built.
// A login absent from the map (or mapped to "") renders as plain text.
type UserTags map[string]string

// Tag renders a GitHub login as a Slack mention when a mapping exists, or as
// the literal login otherwise.
func (t UserTags) Tag(login string) string {
	if slackID := t[login]; slackID != "" {
		return fmt.Sprintf("<@%s>", slackID)
	}
	return login
}

// MessageBuilder composes notification messages for one pull request event.
type MessageBuilder struct{}

// NewMessageBuilder creates a new message builder.
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{}
}

// BuildRootMessage composes the thread-root message for a newly seen pull
// request: title, author, draft badge and reviewer/mention tags.
func (b *MessageBuilder) BuildRootMessage(event *models.PullRequestEvent, tags UserTags) (string, []slack.Block) {
	headline := fmt.Sprintf("<%s|%s> by %s", event.URL, event.Title, tags.Tag(event.ActorLogin))
	if event.Draft {
		headline = "📝 [draft] " + headline
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, headline, false, false),
			nil, nil,
		),
	}

	var contextParts []string
	if len(event.RequestedReviewers) > 0 {
		contextParts = append(contextParts, "Review requested: "+tagList(event.RequestedReviewers, tags))
	}
	if len(event.MentionedLogins) > 0 {
		contextParts = append(contextParts, "cc "+tagList(event.MentionedLogins, tags))
	}
	if len(contextParts) > 0 {
		blocks = append(blocks, slack.NewContextBlock(
			"",
			slack.NewTextBlockObject(slack.MarkdownType, strings.Join(contextParts, " · "), false, false),
		))
	}

	text := headline
	if len(contextParts) > 0 {
		text += "\n" + strings.Join(contextParts, " · ")
	}
	return text, blocks
}

// BuildReplyMessage composes the threaded reply describing the state change
// carried by the event. Returns empty text for actions with no reply copy.
func (b *MessageBuilder) BuildReplyMessage(event *models.PullRequestEvent, tags UserTags) string {
	switch event.Action {
	case models.ActionClosed:
		return fmt.Sprintf("❌ Closed by %s", tags.Tag(event.ActorLogin))
	case models.ActionReopened:
		return fmt.Sprintf("♻️ Reopened by %s", tags.Tag(event.ActorLogin))
	case models.ActionReadyForReview:
		return fmt.Sprintf("👀 Marked ready for review by %s", tags.Tag(event.ActorLogin))
	case models.ActionConvertedToDraft:
		return fmt.Sprintf("📝 Converted to draft by %s", tags.Tag(event.ActorLogin))
	case models.ActionReviewRequested:
		if len(event.RequestedReviewers) == 0 {
			return ""
		}
		return fmt.Sprintf("🔍 Review requested from %s", tagList(event.RequestedReviewers, tags))
	case models.ActionOpened:
		// A duplicate opened delivery for an anchored thread; nothing new to say.
		return ""
	default:
		return ""
	}
}

// BuildDigestMessage composes the reminder digest listing all outstanding
// pull requests for one organization's channel. Digests are root messages,
// never threaded.
func (b *MessageBuilder) BuildDigestMessage(orgName string, threads []*models.PullRequestThread) (string, []slack.Block) {
	header := fmt.Sprintf("⏰ %d open pull request%s awaiting review", len(threads), plural(len(threads)))
	if orgName != "" {
		header = fmt.Sprintf("⏰ %s: %d open pull request%s awaiting review", orgName, len(threads), plural(len(threads)))
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject(slack.PlainTextType, header, false, false),
		),
	}

	lines := make([]string, 0, len(threads))
	for _, thread := range threads {
		line := fmt.Sprintf("• <%s|%s> (%s #%d)", thread.URL, thread.Title, thread.RepoFullName, thread.PullRequestNumber)
		if thread.Draft {
			line += " _draft_"
		}
		lines = append(lines, line)
	}
	blocks = append(blocks, slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, strings.Join(lines, "\n"), false, false),
		nil, nil,
	))

	return header + "\n" + strings.Join(lines, "\n"), blocks
}

func tagList(logins []string, tags UserTags) string {
	rendered := make([]string, 0, len(logins))
	for _, login := range logins {
		rendered = append(rendered, tags.Tag(login))
	}
	return strings.Join(rendered, ", ")
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
