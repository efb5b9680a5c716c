// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the watcher.
// All Record methods are safe on a nil *Metrics.
type Metrics struct {
	// Stream metrics
	NotificationsReceived prometheus.Counter
	DuplicatesDropped     prometheus.Counter
	FailedTxSkipped       prometheus.Counter
	HighestSlotSeen       prometheus.Gauge

	// Resolution metrics
	ResolveErrors  *prometheus.CounterVec
	ResolveRetries prometheus.Counter
	RPCCallLatency *prometheus.HistogramVec

	// Discovery metrics
	PoolsDetected       *prometheus.CounterVec
	MalformedTxSkipped  prometheus.Counter
	NotificationLatency prometheus.Histogram

	// Reporter metrics
	ReportErrors   *prometheus.CounterVec
	ReportsDropped prometheus.Counter

	highestSlot atomic.Uint64
}

// NewMetrics registers all metrics with registry, or with the default
// registerer when registry is nil.
func NewMetrics(namespace string, registry prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "pool_watch"
	}
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		NotificationsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "notifications_received_total",
			Help:      "Total number of log notifications received",
		}),
		DuplicatesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "duplicates_dropped_total",
			Help:      "Total number of notifications dropped as already seen",
		}),
		FailedTxSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "failed_transactions_skipped_total",
			Help:      "Total number of notifications skipped because the transaction failed",
		}),
		HighestSlotSeen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "highest_slot_seen",
			Help:      "Highest Solana slot number seen",
		}),

		ResolveErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "errors_total",
			Help:      "Total number of transactions that could not be resolved by kind",
		}, []string{"kind"}),
		ResolveRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "retries_total",
			Help:      "Total number of getTransaction retries after transport errors",
		}),
		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"method"}),

		PoolsDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "pools_detected_total",
			Help:      "Total number of pool token pairs extracted by schema",
		}, []string{"schema"}),
		MalformedTxSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "malformed_transactions_total",
			Help:      "Total number of transactions rejected by the account layout check",
		}),
		NotificationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "notification_latency_seconds",
			Help:      "Time from notification receipt to report in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		ReportErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reporter",
			Name:      "errors_total",
			Help:      "Total number of reporter failures by sink",
		}, []string{"sink"}),
		ReportsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reporter",
			Name:      "dropped_total",
			Help:      "Total number of event batches dropped because the reporter queue was full",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a /metrics handler serving only gatherer.
func HandlerFor(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// RecordNotification counts a received notification and tracks its slot.
func (m *Metrics) RecordNotification(slot uint64) {
	if m == nil {
		return
	}
	m.NotificationsReceived.Inc()
	for {
		cur := m.highestSlot.Load()
		if slot <= cur {
			return
		}
		if m.highestSlot.CompareAndSwap(cur, slot) {
			m.HighestSlotSeen.Set(float64(slot))
			return
		}
	}
}

// RecordDuplicate counts a notification dropped by the deduplicator.
func (m *Metrics) RecordDuplicate() {
	if m == nil {
		return
	}
	m.DuplicatesDropped.Inc()
}

// RecordFailedTx counts a notification of a failed transaction.
func (m *Metrics) RecordFailedTx() {
	if m == nil {
		return
	}
	m.FailedTxSkipped.Inc()
}

// RecordResolveError counts a transaction that could not be resolved.
// kind is "not_found", "transport" or "dedupe".
func (m *Metrics) RecordResolveError(kind string) {
	if m == nil {
		return
	}
	m.ResolveErrors.WithLabelValues(kind).Inc()
}

// RecordResolveRetry counts one retried getTransaction call.
func (m *Metrics) RecordResolveRetry() {
	if m == nil {
		return
	}
	m.ResolveRetries.Inc()
}

// RecordRPCLatency records RPC call latency.
func (m *Metrics) RecordRPCLatency(method string, seconds float64) {
	if m == nil {
		return
	}
	m.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordPools counts extracted pairs and the end-to-end latency.
func (m *Metrics) RecordPools(schema string, n int, latencySeconds float64) {
	if m == nil {
		return
	}
	m.PoolsDetected.WithLabelValues(schema).Add(float64(n))
	m.NotificationLatency.Observe(latencySeconds)
}

// RecordMalformed counts a transaction rejected by the extractor.
func (m *Metrics) RecordMalformed() {
	if m == nil {
		return
	}
	m.MalformedTxSkipped.Inc()
}

// RecordReportError counts a reporter failure.
func (m *Metrics) RecordReportError(sink string) {
	if m == nil {
		return
	}
	m.ReportErrors.WithLabelValues(sink).Inc()
}

// RecordReportDropped counts a batch the async reporter could not queue.
func (m *Metrics) RecordReportDropped() {
	if m == nil {
		return
	}
	m.ReportsDropped.Inc()
}
