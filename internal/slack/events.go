package slack

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const eventDedupMaxAge = 1 * time.Hour

// EventHandler receives Slack events from either transport and dispatches
// message events to the processor. In DMs the bot answers every message; in
// channels it answers mentions and replies in threads it is already part of.
//
// Slack delivers a channel mention twice, as app_mention and as a channel
// message, and redelivers events it considers unacknowledged. Events are
// deduplicated by event ID and messages are claimed by channel and timestamp
// so each question is answered once.
type EventHandler struct {
	slackClient *Client
	processor   *Processor
	convManager *Manager
	log         *slog.Logger
	botUserID   string

	// Base context for processing goroutines. The HTTP transport acks
	// Slack before the pipeline runs, so processing cannot hang off the
	// request context.
	baseCtx context.Context

	accepting atomic.Bool
	inFlight  sync.WaitGroup

	mu              sync.Mutex
	seenEvents      map[string]time.Time
	claimedMessages map[string]time.Time
}

// NewEventHandler creates an event handler. The context is kept as the base
// context for message processing and should outlive individual requests.
func NewEventHandler(ctx context.Context, slackClient *Client, processor *Processor, convManager *Manager, log *slog.Logger, botUserID string) *EventHandler {
	h := &EventHandler{
		slackClient:     slackClient,
		processor:       processor,
		convManager:     convManager,
		log:             log,
		botUserID:       botUserID,
		baseCtx:         ctx,
		seenEvents:      make(map[string]time.Time),
		claimedMessages: make(map[string]time.Time),
	}
	h.accepting.Store(true)
	return h
}

// StartCleanup starts a background goroutine that forgets old dedup entries.
func (h *EventHandler) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.cleanupDedup()
			}
		}
	}()
}

func (h *EventHandler) cleanupDedup() {
	now := time.Now()
	h.mu.Lock()
	for id, ts := range h.seenEvents {
		if now.Sub(ts) > eventDedupMaxAge {
			delete(h.seenEvents, id)
		}
	}
	for key, ts := range h.claimedMessages {
		if now.Sub(ts) > eventDedupMaxAge {
			delete(h.claimedMessages, key)
		}
	}
	h.mu.Unlock()
}

// StopAcceptingNew stops the handler from dispatching new events and returns
// a function that blocks until in-flight processing finishes.
func (h *EventHandler) StopAcceptingNew() func() {
	h.accepting.Store(false)
	return h.inFlight.Wait
}

// alreadySeen records an event ID and reports whether it was seen before.
func (h *EventHandler) alreadySeen(eventID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.seenEvents[eventID]; ok {
		return true
	}
	h.seenEvents[eventID] = time.Now()
	return false
}

// claimMessage claims a message for processing. Only the first claim wins.
func (h *EventHandler) claimMessage(messageKey string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.claimedMessages[messageKey]; ok {
		return false
	}
	h.claimedMessages[messageKey] = time.Now()
	return true
}

// HandleSocketMode consumes events from a socket mode client until the
// context is cancelled or the event channel closes.
func (h *EventHandler) HandleSocketMode(ctx context.Context, client *socketmode.Client) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-client.Events:
			if !ok {
				return nil
			}
			switch evt.Type {
			case socketmode.EventTypeConnecting:
				h.log.Info("slack: connecting in socket mode")
			case socketmode.EventTypeConnectionError:
				h.log.Error("slack: socket mode connection error", "error", evt.Data)
			case socketmode.EventTypeConnected:
				h.log.Info("slack: connected in socket mode")
			case socketmode.EventTypeEventsAPI:
				event, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				// Ack before processing; the reply comes later via the
				// Web API, not through the socket.
				if evt.Request != nil {
					client.Ack(*evt.Request)
				}
				h.handleCallback(event)
			}
		}
	}
}

// HandleHTTP serves a single Events API request: it verifies the request
// signature, answers URL verification challenges, and acks callback events
// before dispatching them.
func (h *EventHandler) HandleHTTP(w http.ResponseWriter, r *http.Request, signingSecret string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	sv, err := slack.NewSecretsVerifier(r.Header, signingSecret)
	if err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if _, err := sv.Write(body); err != nil {
		http.Error(w, "verification failed", http.StatusInternalServerError)
		return
	}
	if err := sv.Ensure(); err != nil {
		h.log.Warn("slack: rejected event with invalid signature", "remote_addr", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		http.Error(w, "failed to parse event", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var res slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &res); err != nil {
			http.Error(w, "failed to parse challenge", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		if _, err := w.Write([]byte(res.Challenge)); err != nil {
			h.log.Error("slack: failed to write challenge response", "error", err)
		}

	case slackevents.CallbackEvent:
		// Ack immediately; Slack redelivers events that take longer than
		// a few seconds to acknowledge.
		w.WriteHeader(http.StatusOK)
		h.handleCallback(event)

	default:
		w.WriteHeader(http.StatusOK)
	}
}

// handleCallback deduplicates a callback event and dispatches its inner
// event.
func (h *EventHandler) handleCallback(event slackevents.EventsAPIEvent) {
	if !h.accepting.Load() {
		MessagesIgnoredTotal.WithLabelValues("shutting_down").Inc()
		return
	}

	EventsReceivedTotal.WithLabelValues(string(event.Type), event.InnerEvent.Type).Inc()

	eventID := ""
	if cb, ok := event.Data.(*slackevents.EventsAPICallbackEvent); ok {
		eventID = cb.EventID
	}
	if eventID != "" && h.alreadySeen(eventID) {
		EventsDuplicateTotal.Inc()
		return
	}

	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		h.handleMessageEvent(ev, eventID)
	case *slackevents.AppMentionEvent:
		h.handleMessageEvent(&slackevents.MessageEvent{
			Channel:         ev.Channel,
			User:            ev.User,
			Text:            ev.Text,
			TimeStamp:       ev.TimeStamp,
			ThreadTimeStamp: ev.ThreadTimeStamp,
			ChannelType:     "channel",
		}, eventID)
	default:
		h.log.Debug("slack: ignoring event", "inner_event_type", event.InnerEvent.Type)
	}
}

// handleMessageEvent filters a message event and hands it to the processor.
func (h *EventHandler) handleMessageEvent(ev *slackevents.MessageEvent, eventID string) {
	// Edits, deletions and other subtypes are not questions.
	if ev.SubType != "" {
		MessagesIgnoredTotal.WithLabelValues("message_subtype").Inc()
		return
	}
	if ev.BotID != "" || ev.User == "" || ev.User == h.botUserID {
		MessagesIgnoredTotal.WithLabelValues("bot_message").Inc()
		return
	}

	isChannel := ev.ChannelType != "im"
	if isChannel && !h.shouldAnswerInChannel(ev) {
		MessagesIgnoredTotal.WithLabelValues("channel_without_mention").Inc()
		return
	}

	messageKey := ev.Channel + "-" + ev.TimeStamp
	if !h.claimMessage(messageKey) {
		EventsDuplicateTotal.Inc()
		return
	}

	MessagesProcessedTotal.WithLabelValues(channelTypeLabel(ev.ChannelType)).Inc()

	h.inFlight.Add(1)
	go func() {
		defer h.inFlight.Done()
		h.processor.ProcessMessage(h.baseCtx, ev, messageKey, eventID, isChannel)
	}()
}

// shouldAnswerInChannel decides whether a channel message is for the bot:
// either it mentions the bot, or it replies in a thread the bot is already
// part of.
func (h *EventHandler) shouldAnswerInChannel(ev *slackevents.MessageEvent) bool {
	if containsBotMention(ev.Text, h.botUserID) {
		return true
	}
	return ev.ThreadTimeStamp != "" && h.convManager.HasConversation(ev.ThreadTimeStamp)
}

func channelTypeLabel(channelType string) string {
	if channelType == "" {
		return "unknown"
	}
	return channelType
}
