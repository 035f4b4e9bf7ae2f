package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "plenario_querier_build_info",
			Help: "Build information of the Plenario querier",
		},
		[]string{"version", "commit", "date"},
	)

	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plenario_querier_queries_total",
			Help: "Total number of client queries by serving surface and outcome",
		},
		[]string{"surface", "status"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plenario_querier_query_duration_seconds",
			Help:    "Duration of client queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"surface"},
	)
)
