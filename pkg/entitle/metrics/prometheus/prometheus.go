package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics implements entitle.Metrics using Prometheus.
type Metrics struct {
	eventsTotal          *prometheus.CounterVec
	processingDuration   *prometheus.HistogramVec
	errorsTotal          *prometheus.CounterVec
	transitionsTotal     *prometheus.CounterVec
	provisioningTotal    *prometheus.CounterVec
	conflictRetriesTotal *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation for the
// reconciliation pipeline.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "events_total",
			Help:      "Total number of inbound events processed, by terminal status.",
		}, []string{"provider", "event_type", "status"}),

		processingDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "processing_duration_seconds",
			Help:      "End-to-end pipeline latency per event.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "event_type"}),

		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "errors_total",
			Help:      "Total number of pipeline errors.",
		}, []string{"provider", "error_type"}),

		transitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "transitions_total",
			Help:      "Total number of committed subscription status transitions.",
		}, []string{"provider", "from_status", "to_status"}),

		provisioningTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "provisioning_total",
			Help:      "Total number of provisioning attempts, by outcome.",
		}, []string{"provider", "action", "status"}),

		conflictRetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "conflict_retries_total",
			Help:      "Total number of compare-and-swap conflicts that forced a recompute.",
		}, []string{"provider"}),
	}
}

// DefaultMetrics creates metrics registered on the default Prometheus
// registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}

func (m *Metrics) RecordEvent(provider, eventType, status string) {
	m.eventsTotal.WithLabelValues(provider, eventType, status).Inc()
}

func (m *Metrics) RecordProcessingDuration(provider, eventType string, duration time.Duration) {
	m.processingDuration.WithLabelValues(provider, eventType).Observe(duration.Seconds())
}

func (m *Metrics) RecordError(provider, errorType string) {
	m.errorsTotal.WithLabelValues(provider, errorType).Inc()
}

func (m *Metrics) RecordTransition(provider, fromStatus, toStatus string) {
	m.transitionsTotal.WithLabelValues(provider, fromStatus, toStatus).Inc()
}

func (m *Metrics) RecordProvisioning(provider, actionKind, status string) {
	m.provisioningTotal.WithLabelValues(provider, actionKind, status).Inc()
}

func (m *Metrics) RecordConflictRetry(provider string) {
	m.conflictRetriesTotal.WithLabelValues(provider).Inc()
}
