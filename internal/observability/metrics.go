// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the indexer.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Chain metrics
	LogsReceived        *prometheus.CounterVec
	LogDecodeErrors     *prometheus.CounterVec
	ActiveSubscriptions prometheus.Gauge
	Reconnects          prometheus.Counter
	ReserveReadLatency  prometheus.Histogram
	HighestBlockSeen    prometheus.Gauge

	// Reconciliation metrics
	EventsHandled          *prometheus.CounterVec
	HandlerOperations      *prometheus.CounterVec
	EventProcessingLatency *prometheus.HistogramVec
	PoolsDiscovered        prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastEventProcessed prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "dex_indexer"
	}
	factory := promauto.With(reg)

	return &Metrics{
		LogsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "logs_received_total",
			Help:      "Total number of decoded logs received by event name",
		}, []string{"event"}),
		LogDecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "log_decode_errors_total",
			Help:      "Total number of logs that failed to decode",
		}, []string{"event"}),
		ActiveSubscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "active_subscriptions",
			Help:      "Number of open log subscriptions",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "reconnects_total",
			Help:      "Total number of websocket reconnects",
		}),
		ReserveReadLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "reserve_read_latency_seconds",
			Help:      "getReserves call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		HighestBlockSeen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "highest_block_seen",
			Help:      "Highest block number seen in a log",
		}),

		EventsHandled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_handled_total",
			Help:      "Total number of events dispatched to handlers",
		}, []string{"event"}),
		HandlerOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "handler_operations_total",
			Help:      "Handler sub-operation outcomes",
		}, []string{"event", "op", "status"}),
		EventProcessingLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "event_processing_latency_seconds",
			Help:      "Time to settle all sub-operations of one event",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event"}),
		PoolsDiscovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "pools_discovered_total",
			Help:      "Total number of pools created from PairCreated events",
		}),

		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		LastEventProcessed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_event_processed_timestamp",
			Help:      "Unix timestamp of the last processed event",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is registered with the default Prometheus registry.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer, "")

// RecordLogReceived counts a decoded log and tracks the highest block.
func (m *Metrics) RecordLogReceived(event string, block uint64) {
	if m == nil {
		return
	}
	m.LogsReceived.WithLabelValues(event).Inc()
	m.HighestBlockSeen.Set(float64(block))
}

// RecordDecodeError counts a log that could not be decoded.
func (m *Metrics) RecordDecodeError(event string) {
	if m == nil {
		return
	}
	m.LogDecodeErrors.WithLabelValues(event).Inc()
}

// SubscriptionOpened increments the active subscriptions gauge.
func (m *Metrics) SubscriptionOpened() {
	if m == nil {
		return
	}
	m.ActiveSubscriptions.Inc()
}

// SubscriptionClosed decrements the active subscriptions gauge.
func (m *Metrics) SubscriptionClosed() {
	if m == nil {
		return
	}
	m.ActiveSubscriptions.Dec()
}

// RecordReconnect counts a websocket reconnect.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

// RecordReserveRead records getReserves latency.
func (m *Metrics) RecordReserveRead(seconds float64) {
	if m == nil {
		return
	}
	m.ReserveReadLatency.Observe(seconds)
}

// RecordEventHandled records one settled event.
func (m *Metrics) RecordEventHandled(event string, seconds float64, unix int64) {
	if m == nil {
		return
	}
	m.EventsHandled.WithLabelValues(event).Inc()
	m.EventProcessingLatency.WithLabelValues(event).Observe(seconds)
	m.LastEventProcessed.Set(float64(unix))
}

// RecordHandlerOp records a sub-operation outcome.
func (m *Metrics) RecordHandlerOp(event, op string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.HandlerOperations.WithLabelValues(event, op, status).Inc()
}

// RecordPoolDiscovered counts a newly created pool.
func (m *Metrics) RecordPoolDiscovered() {
	if m == nil {
		return
	}
	m.PoolsDiscovered.Inc()
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
