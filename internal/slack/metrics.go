package slack

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "plenario_slack_build_info",
			Help: "Build information of the plenario Slack bot",
		},
		[]string{"version", "commit", "date"},
	)

	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plenario_slack_events_received_total",
			Help: "Total number of Slack events received",
		},
		[]string{"event_type", "inner_event_type"},
	)

	EventsDuplicateTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plenario_slack_events_duplicate_total",
			Help: "Total number of duplicate events skipped",
		},
	)

	MessagesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plenario_slack_messages_processed_total",
			Help: "Total number of messages accepted for processing",
		},
		[]string{"channel_type"},
	)

	MessagesIgnoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plenario_slack_messages_ignored_total",
			Help: "Total number of messages ignored",
		},
		[]string{"reason"},
	)

	MessageProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "plenario_slack_message_processing_duration_seconds",
			Help:    "Duration of message processing, pipeline run included",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~205s
		},
	)

	MessagesPostedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plenario_slack_messages_posted_total",
			Help: "Total number of messages posted to Slack",
		},
		[]string{"status"},
	)

	PipelineErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plenario_slack_pipeline_errors_total",
			Help: "Total number of assistant pipeline failures",
		},
	)

	SlackAPIErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plenario_slack_api_errors_total",
			Help: "Total number of Slack API errors",
		},
		[]string{"operation"},
	)

	ConversationHistoryErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plenario_slack_conversation_history_errors_total",
			Help: "Total number of conversation history fetch errors",
		},
	)

	ActiveConversations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plenario_slack_active_conversations",
			Help: "Number of cached conversation threads",
		},
	)
)
