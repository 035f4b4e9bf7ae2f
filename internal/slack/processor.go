package slack

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack/slackevents"

	"github.com/plenariolabs/plenario/pkg/assistant"
)

const respondedMessagesMaxAge = 1 * time.Hour

// Replies used when the pipeline produced no usable answer.
const (
	emptyAnswerReply = "Não recebi uma resposta do assistente. Tente novamente."
	postErrorReply   = "Desculpe, encontrei um erro. Tente novamente."
)

// Processor answers Slack messages by running the assistant pipeline and
// posting the result back into the thread.
type Processor struct {
	slackClient *Client
	pipeline    *assistant.Pipeline
	convManager *Manager
	log         *slog.Logger

	// Messages already answered, keyed by channel and timestamp. Slack
	// delivers a channel mention both as app_mention and as a channel
	// message, and retries slow deliveries.
	respondedMessages   map[string]time.Time
	respondedMessagesMu sync.RWMutex
}

// NewProcessor creates a message processor.
func NewProcessor(slackClient *Client, pipeline *assistant.Pipeline, convManager *Manager, log *slog.Logger) *Processor {
	return &Processor{
		slackClient:       slackClient,
		pipeline:          pipeline,
		convManager:       convManager,
		log:               log,
		respondedMessages: make(map[string]time.Time),
	}
}

// StartCleanup starts a background goroutine that forgets old responded
// messages.
func (p *Processor) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.cleanup()
			}
		}
	}()
}

func (p *Processor) cleanup() {
	now := time.Now()
	p.respondedMessagesMu.Lock()
	for msgKey, timestamp := range p.respondedMessages {
		if now.Sub(timestamp) > respondedMessagesMaxAge {
			delete(p.respondedMessages, msgKey)
		}
	}
	p.respondedMessagesMu.Unlock()
}

// HasResponded reports whether a message was already answered.
func (p *Processor) HasResponded(messageKey string) bool {
	p.respondedMessagesMu.RLock()
	_, responded := p.respondedMessages[messageKey]
	p.respondedMessagesMu.RUnlock()
	return responded
}

// MarkResponded records that a message was answered.
func (p *Processor) MarkResponded(messageKey string) {
	p.respondedMessagesMu.Lock()
	p.respondedMessages[messageKey] = time.Now()
	p.respondedMessagesMu.Unlock()
}

var mentionPattern = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|[^>]+)?>`)

// containsBotMention reports whether the text mentions the bot.
func containsBotMention(text, botUserID string) bool {
	if botUserID == "" {
		return false
	}
	for _, match := range mentionPattern.FindAllStringSubmatch(text, -1) {
		if len(match) >= 2 && match[1] == botUserID {
			return true
		}
	}
	return false
}

// containsNonBotMention reports whether the text mentions a user other than
// the bot. Inside a thread that means the message is addressed to someone
// else, and the bot stays quiet.
func containsNonBotMention(text, botUserID string) bool {
	if botUserID == "" {
		return false
	}
	for _, match := range mentionPattern.FindAllStringSubmatch(text, -1) {
		if len(match) < 2 {
			continue
		}
		if match[1] != botUserID {
			return true
		}
	}
	return false
}

// ProcessMessage answers a single Slack message. It is called from the event
// handler's dispatch goroutines.
func (p *Processor) ProcessMessage(ctx context.Context, ev *slackevents.MessageEvent, messageKey, eventID string, isChannel bool) {
	startTime := time.Now()

	p.log.Info("slack: replying to message",
		"channel", ev.Channel,
		"user", ev.User,
		"message_ts", ev.TimeStamp,
		"thread_ts", ev.ThreadTimeStamp,
		"message_key", messageKey,
		"event_id", eventID,
		"is_channel", isChannel,
	)

	if ev.ThreadTimeStamp != "" && containsNonBotMention(ev.Text, p.slackClient.BotUserID()) {
		p.log.Info("slack: skipping thread message addressed to another user",
			"channel", ev.Channel,
			"message_ts", ev.TimeStamp,
			"text_preview", TruncateString(ev.Text, 100),
		)
		MessagesIgnoredTotal.WithLabelValues("thread_non_bot_mention").Inc()
		return
	}

	// :mute: anywhere in the message asks the bot to stay out.
	if strings.Contains(ev.Text, ":mute:") {
		p.log.Info("slack: skipping muted message",
			"channel", ev.Channel,
			"message_ts", ev.TimeStamp,
			"text_preview", TruncateString(ev.Text, 100),
		)
		MessagesIgnoredTotal.WithLabelValues("mute_emoji").Inc()
		return
	}

	txt := strings.TrimSpace(ev.Text)
	if isChannel {
		txt = p.slackClient.RemoveBotMention(txt)
	}

	defer func() {
		MessageProcessingDuration.Observe(time.Since(startTime).Seconds())
	}()

	// Replies are always threaded, in channels and DMs alike.
	threadKey := ev.TimeStamp
	if ev.ThreadTimeStamp != "" {
		threadKey = ev.ThreadTimeStamp
	}
	threadTS := ev.ThreadTimeStamp
	if threadTS == "" {
		threadTS = ev.TimeStamp
	}

	fetcher := NewDefaultFetcher(p.log)
	history, err := p.convManager.GetConversationHistory(
		ctx,
		p.slackClient.API(),
		ev.Channel,
		ev.TimeStamp,
		ev.ThreadTimeStamp,
		p.slackClient.BotUserID(),
		fetcher,
	)
	if err != nil {
		p.log.Warn("slack: failed to get conversation history", "error", err)
		ConversationHistoryErrorsTotal.Inc()
		history = []assistant.ConversationMessage{}
	}

	if err := p.slackClient.AddProcessingReaction(ctx, ev.Channel, ev.TimeStamp); err != nil {
		SlackAPIErrorsTotal.WithLabelValues("add_reaction").Inc()
	}

	result, err := p.pipeline.RunWithHistory(ctx, txt, history)
	if err != nil {
		PipelineErrorsTotal.Inc()
		p.log.Error("slack: pipeline error", "error", err, "message_ts", ev.TimeStamp, "event_id", eventID)

		p.MarkResponded(messageKey)

		reply := SanitizeErrorMessage(err.Error())
		if _, postErr := p.slackClient.PostMessage(ctx, ev.Channel, reply, nil, threadTS); postErr != nil {
			SlackAPIErrorsTotal.WithLabelValues("post_message").Inc()
		} else {
			MessagesPostedTotal.WithLabelValues("error").Inc()
		}

		p.removeReactionAfterPost(ctx, ev.Channel, ev.TimeStamp)
		return
	}

	reply := strings.TrimSpace(result.Answer)
	if reply == "" {
		reply = emptyAnswerReply
	}

	p.log.Debug("slack: pipeline response",
		"classification", result.Classification,
		"data_questions", len(result.DataQuestions))

	blocks := ConvertMarkdownToBlocks(reply, p.log)

	p.MarkResponded(messageKey)

	respTS, err := p.slackClient.PostMessage(ctx, ev.Channel, reply, blocks, threadTS)
	if err != nil {
		SlackAPIErrorsTotal.WithLabelValues("post_message").Inc()
		MessagesPostedTotal.WithLabelValues("error").Inc()
		_, _ = p.slackClient.PostMessage(ctx, ev.Channel, postErrorReply, nil, threadTS)
		return
	}

	p.removeReactionAfterPost(ctx, ev.Channel, ev.TimeStamp)

	MessagesPostedTotal.WithLabelValues("success").Inc()
	p.log.Info("slack: reply posted", "channel", ev.Channel, "thread_ts", threadKey, "reply_ts", respTS)

	newHistory := append(history,
		assistant.ConversationMessage{Role: "user", Content: txt},
		assistant.ConversationMessage{Role: "assistant", Content: result.Answer},
	)
	p.convManager.UpdateConversationHistory(threadKey, newHistory)
}

// removeReactionAfterPost removes the processing reaction shortly after the
// reply lands. The delay keeps the reaction visible long enough for Slack
// clients to render the reply first.
func (p *Processor) removeReactionAfterPost(ctx context.Context, channel, timestamp string) {
	time.Sleep(300 * time.Millisecond)
	if err := p.slackClient.RemoveProcessingReaction(ctx, channel, timestamp); err != nil {
		SlackAPIErrorsTotal.WithLabelValues("remove_reaction").Inc()
	}
}
