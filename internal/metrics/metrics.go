// Package metrics holds the Prometheus instrumentation for the pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/propsignal/backend/internal/events"
)

// Metrics holds all Prometheus collectors. It satisfies bus.Observer.
type Metrics struct {
	// Bus metrics
	EventsPublished *prometheus.CounterVec
	EventsConsumed  *prometheus.CounterVec
	HandlerDuration *prometheus.HistogramVec
	DeadLetters     *prometheus.CounterVec

	// Underwriting metrics
	GridRowsWritten prometheus.Counter
	ExactCacheTotal *prometheus.CounterVec
	GridDuration    prometheus.Histogram

	// Alerts metrics
	AlertsFired     *prometheus.CounterVec
	AlertDeliveries *prometheus.CounterVec

	// Gateway metrics
	HTTPDuration  *prometheus.HistogramVec
	ResponseCache *prometheus.CounterVec
}

// New creates and registers all collectors against reg. Pass
// prometheus.DefaultRegisterer in main; tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_events_published_total",
				Help: "Total events published per topic",
			},
			[]string{"topic"},
		),
		EventsConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_events_consumed_total",
				Help: "Total events consumed per topic, group and outcome",
			},
			[]string{"topic", "group", "outcome"}, // outcome: ok, dropped, dead_letter
		),
		HandlerDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_handler_duration_seconds",
				Help:    "Handler processing time per consumer group",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"group"},
		),
		DeadLetters: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_dead_letters_total",
				Help: "Events parked after exhausting retries",
			},
			[]string{"topic"},
		),
		GridRowsWritten: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "underwrite_grid_rows_written_total",
				Help: "Grid rows upserted",
			},
		),
		ExactCacheTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "underwrite_exact_cache_total",
				Help: "Exact cache lookups by result",
			},
			[]string{"result"}, // result: hit, miss
		),
		GridDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "underwrite_grid_duration_seconds",
				Help:    "Full grid computation time",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		AlertsFired: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alerts_fired_total",
				Help: "Alerts upserted per channel",
			},
			[]string{"channel"},
		),
		AlertDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alerts_deliveries_total",
				Help: "Channel delivery attempts by outcome",
			},
			[]string{"channel", "outcome"}, // outcome: delivered, failed
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_duration_seconds",
				Help:    "HTTP request duration per route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),
		ResponseCache: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_response_cache_total",
				Help: "Composed response cache lookups by result",
			},
			[]string{"result"}, // result: hit, miss
		),
	}
}

// EventPublished implements bus.Observer.
func (m *Metrics) EventPublished(topic events.Topic) {
	m.EventsPublished.WithLabelValues(string(topic)).Inc()
}

// EventConsumed implements bus.Observer.
func (m *Metrics) EventConsumed(topic events.Topic, group, outcome string, elapsed time.Duration) {
	m.EventsConsumed.WithLabelValues(string(topic), group, outcome).Inc()
	m.HandlerDuration.WithLabelValues(group).Observe(elapsed.Seconds())
}

// EventDeadLettered implements bus.Observer.
func (m *Metrics) EventDeadLettered(topic events.Topic) {
	m.DeadLetters.WithLabelValues(string(topic)).Inc()
}

// RecordExactCache records an exact-cache lookup outcome.
func (m *Metrics) RecordExactCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.ExactCacheTotal.WithLabelValues(result).Inc()
}

// RecordAlertDelivery records one channel delivery attempt.
func (m *Metrics) RecordAlertDelivery(channel string, delivered bool) {
	outcome := "failed"
	if delivered {
		outcome = "delivered"
	}
	m.AlertDeliveries.WithLabelValues(channel, outcome).Inc()
}
