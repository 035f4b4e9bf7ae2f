package slack

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"github.com/plenariolabs/plenario/pkg/assistant"
)

const (
	conversationMaxAge = 1 * time.Hour
	maxHistoryMessages = 20
	repliesPageLimit   = 100
)

type conversation struct {
	messages  []assistant.ConversationMessage
	updatedAt time.Time
}

// Manager caches conversation history per thread so follow-up questions run
// with context without refetching the thread from Slack every time.
type Manager struct {
	log *slog.Logger

	mu            sync.RWMutex
	conversations map[string]*conversation
}

// NewManager creates a conversation manager.
func NewManager(log *slog.Logger) *Manager {
	return &Manager{
		log:           log,
		conversations: make(map[string]*conversation),
	}
}

// Fetcher retrieves the messages of a Slack thread. It exists so tests can
// feed the manager canned threads.
type Fetcher interface {
	FetchThreadMessages(ctx context.Context, api *slack.Client, channel, threadTS string) ([]slack.Message, error)
}

// DefaultFetcher pages through conversations.replies.
type DefaultFetcher struct {
	log *slog.Logger
}

// NewDefaultFetcher creates a fetcher backed by the Slack API.
func NewDefaultFetcher(log *slog.Logger) *DefaultFetcher {
	return &DefaultFetcher{log: log}
}

// FetchThreadMessages fetches all messages of a thread, following pagination
// cursors until the thread is exhausted.
func (f *DefaultFetcher) FetchThreadMessages(ctx context.Context, api *slack.Client, channel, threadTS string) ([]slack.Message, error) {
	var all []slack.Message
	params := &slack.GetConversationRepliesParameters{
		ChannelID: channel,
		Timestamp: threadTS,
		Limit:     repliesPageLimit,
	}
	for {
		msgs, hasMore, nextCursor, err := api.GetConversationRepliesContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch thread replies: %w", err)
		}
		all = append(all, msgs...)
		if !hasMore || nextCursor == "" {
			return all, nil
		}
		params.Cursor = nextCursor
	}
}

// GetConversationHistory returns the conversation history for the thread the
// message belongs to, fetching it from Slack on a cache miss. A message
// outside any thread starts a fresh conversation and returns no history.
func (m *Manager) GetConversationHistory(ctx context.Context, api *slack.Client, channel, messageTS, threadTS, botUserID string, fetcher Fetcher) ([]assistant.ConversationMessage, error) {
	threadKey := messageTS
	if threadTS != "" {
		threadKey = threadTS
	}

	m.mu.RLock()
	cached, ok := m.conversations[threadKey]
	m.mu.RUnlock()
	if ok {
		return slices.Clone(cached.messages), nil
	}

	if threadTS == "" {
		return nil, nil
	}

	msgs, err := fetcher.FetchThreadMessages(ctx, api, channel, threadTS)
	if err != nil {
		return nil, err
	}
	m.log.Debug("slack: fetched thread history", "thread_ts", threadTS, "messages", len(msgs))

	history := buildHistory(msgs, messageTS, botUserID)
	m.store(threadKey, history)
	return slices.Clone(history), nil
}

// buildHistory converts thread replies into pipeline conversation messages.
// The triggering message is left out: it is the question the pipeline is
// about to answer.
func buildHistory(msgs []slack.Message, triggerTS, botUserID string) []assistant.ConversationMessage {
	var mentionRe *regexp.Regexp
	if botUserID != "" {
		mentionRe = regexp.MustCompile(`<@` + regexp.QuoteMeta(botUserID) + `(?:\|[^>]+)?>`)
	}

	history := make([]assistant.ConversationMessage, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Timestamp == triggerTS {
			continue
		}
		role := "user"
		if msg.BotID != "" || (botUserID != "" && msg.User == botUserID) {
			role = "assistant"
		}
		content := msg.Text
		if mentionRe != nil {
			content = mentionRe.ReplaceAllString(content, "")
		}
		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}
		history = append(history, assistant.ConversationMessage{Role: role, Content: content})
	}
	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}
	return history
}

// UpdateConversationHistory replaces the cached history for a thread, keeping
// only the most recent messages.
func (m *Manager) UpdateConversationHistory(threadKey string, history []assistant.ConversationMessage) {
	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}
	m.store(threadKey, history)
}

// HasConversation reports whether a thread has cached history. The event
// handler uses it to keep answering thread replies that don't repeat the
// mention.
func (m *Manager) HasConversation(threadKey string) bool {
	m.mu.RLock()
	_, ok := m.conversations[threadKey]
	m.mu.RUnlock()
	return ok
}

// StartCleanup starts a background goroutine that drops conversations
// untouched for longer than conversationMaxAge.
func (m *Manager) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.cleanup()
			}
		}
	}()
}

func (m *Manager) store(threadKey string, history []assistant.ConversationMessage) {
	m.mu.Lock()
	m.conversations[threadKey] = &conversation{
		messages:  slices.Clone(history),
		updatedAt: time.Now(),
	}
	ActiveConversations.Set(float64(len(m.conversations)))
	m.mu.Unlock()
}

func (m *Manager) cleanup() {
	now := time.Now()
	m.mu.Lock()
	for key, conv := range m.conversations {
		if now.Sub(conv.updatedAt) > conversationMaxAge {
			delete(m.conversations, key)
		}
	}
	ActiveConversations.Set(float64(len(m.conversations)))
	m.mu.Unlock()
}
