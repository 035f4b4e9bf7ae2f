package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "plenario_indexer_build_info",
			Help: "Build information of the Plenario indexer",
		},
		[]string{"version", "commit", "date"},
	)

	ViewRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plenario_indexer_view_refresh_total",
			Help: "Total number of warehouse view refreshes",
		},
		[]string{"view", "status"},
	)

	ViewRefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plenario_indexer_view_refresh_duration_seconds",
			Help:    "Duration of warehouse view refreshes in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"view"},
	)

	SKCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plenario_indexer_sk_cache_total",
			Help: "Total number of surrogate key cache lookups",
		},
		[]string{"table", "result"},
	)

	PortalRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plenario_indexer_portal_requests_total",
			Help: "Total number of requests to the ALMG open data portal",
		},
		[]string{"endpoint", "status"},
	)
)
