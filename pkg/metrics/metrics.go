// Package metrics exposes the prometheus collectors for both
// processes and the /metrics HTTP handler that serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts gateway requests by route and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshforge_http_requests_total",
			Help: "Total HTTP requests handled by the gateway.",
		},
		[]string{"route", "method", "status"},
	)

	// HTTPRequestDuration tracks gateway request latency by route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meshforge_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// IdempotencyOutcomes counts lock/replay/conflict outcomes.
	IdempotencyOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshforge_idempotency_outcomes_total",
			Help: "Idempotency middleware outcomes by kind.",
		},
		[]string{"outcome"}, // acquired, replayed, conflict
	)

	// EventsPublished counts bus publishes by subject and outcome.
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshforge_events_published_total",
			Help: "Events published to the bus by subject and outcome.",
		},
		[]string{"subject", "outcome"}, // ok, error
	)

	// IndexedMessagesTotal counts indexing worker outcomes.
	IndexedMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshforge_indexer_messages_total",
			Help: "Indexing worker messages processed by outcome.",
		},
		[]string{"outcome"}, // ack, nack, poison
	)

	// IndexUpsertDuration tracks search upsert latency.
	IndexUpsertDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meshforge_indexer_upsert_duration_seconds",
			Help:    "Search index upsert latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// IndexingLagSeconds is the time between the most recently indexed
	// listing's last update and the moment it was indexed.
	IndexingLagSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meshforge_indexer_lag_seconds",
			Help: "Seconds between a listing's last update and its indexing.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		IdempotencyOutcomes,
		EventsPublished,
		IndexedMessagesTotal,
		IndexUpsertDuration,
		IndexingLagSeconds,
	)
}

// Handler returns the promhttp handler to mount on the metrics port.
func Handler() http.Handler {
	return promhttp.Handler()
}
