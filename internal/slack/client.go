package slack

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/slack-go/slack"
)

// Reaction added while the pipeline runs, so the user sees the bot picked
// the question up.
const processingReaction = "hourglass_flowing_sand"

// Client wraps the Slack Web API client with the handful of operations the
// bot needs.
type Client struct {
	api       *slack.Client
	log       *slog.Logger
	botUserID string
	mentionRe *regexp.Regexp
}

// NewClient creates a Slack client. The app token is only needed for socket
// mode and may be empty.
func NewClient(botToken, appToken string, log *slog.Logger) *Client {
	var opts []slack.Option
	if appToken != "" {
		opts = append(opts, slack.OptionAppLevelToken(appToken))
	}
	return &Client{
		api: slack.New(botToken, opts...),
		log: log,
	}
}

// Initialize calls auth.test to discover the bot's own user ID. The ID is
// needed to tell mentions of the bot apart from mentions of other users.
func (c *Client) Initialize(ctx context.Context) (string, error) {
	resp, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to call auth.test: %w", err)
	}
	c.setBotUserID(resp.UserID)
	c.log.Info("slack: authenticated", "bot_user_id", resp.UserID, "team", resp.Team)
	return resp.UserID, nil
}

func (c *Client) setBotUserID(id string) {
	c.botUserID = id
	if id != "" {
		// Mentions come through as <@USERID> or <@USERID|username>.
		c.mentionRe = regexp.MustCompile(`<@` + regexp.QuoteMeta(id) + `(?:\|[^>]+)?>`)
	}
}

// API returns the underlying Slack API client.
func (c *Client) API() *slack.Client {
	return c.api
}

// BotUserID returns the bot's user ID, or "" before Initialize succeeds.
func (c *Client) BotUserID() string {
	return c.botUserID
}

// RemoveBotMention strips mentions of the bot from message text so the
// pipeline sees only the question.
func (c *Client) RemoveBotMention(text string) string {
	if c.mentionRe == nil {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(c.mentionRe.ReplaceAllString(text, ""))
}

// AddProcessingReaction adds the processing reaction to a message.
func (c *Client) AddProcessingReaction(ctx context.Context, channel, timestamp string) error {
	if err := c.api.AddReactionContext(ctx, processingReaction, slack.NewRefToMessage(channel, timestamp)); err != nil {
		c.log.Debug("slack: failed to add processing reaction",
			"channel", channel, "timestamp", timestamp, "error", err)
		return err
	}
	return nil
}

// RemoveProcessingReaction removes the processing reaction from a message.
func (c *Client) RemoveProcessingReaction(ctx context.Context, channel, timestamp string) error {
	if err := c.api.RemoveReactionContext(ctx, processingReaction, slack.NewRefToMessage(channel, timestamp)); err != nil {
		c.log.Debug("slack: failed to remove processing reaction",
			"channel", channel, "timestamp", timestamp, "error", err)
		return err
	}
	return nil
}

// PostMessage posts a reply, threaded under threadTS when set. When posting
// with blocks fails, it retries with the plain text so a block rendering
// problem never swallows an answer. Returns the timestamp of the posted
// message.
func (c *Client) PostMessage(ctx context.Context, channel, text string, blocks []slack.Block, threadTS string) (string, error) {
	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if len(blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}

	_, respTS, err := c.api.PostMessageContext(ctx, channel, opts...)
	if err != nil && len(blocks) > 0 {
		c.log.Warn("slack: failed to post message with blocks, retrying as plain text", "error", err)
		opts = []slack.MsgOption{slack.MsgOptionText(text, false)}
		if threadTS != "" {
			opts = append(opts, slack.MsgOptionTS(threadTS))
		}
		_, respTS, err = c.api.PostMessageContext(ctx, channel, opts...)
	}
	if err != nil {
		return "", fmt.Errorf("failed to post message: %w", err)
	}
	return respTS, nil
}
