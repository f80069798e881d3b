// Package observability provides Prometheus metrics and OpenTelemetry spans
// for ingestion, queueing and fan-out.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds metric instruments for fanout. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	IngestTotal       *prometheus.CounterVec
	LimiterErrors     prometheus.Counter
	JobsTotal         *prometheus.CounterVec
	DeliveriesTotal   *prometheus.CounterVec
	DeliveryLatency   prometheus.Histogram
	DeadLetteredTotal prometheus.Counter
	DLQSize           prometheus.Gauge
	PendingJobs       prometheus.Gauge
}

// NewMetrics creates fanout metric instruments and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IngestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "fanout_ingest_total", Help: "Ingestion requests by admission outcome."},
			[]string{"outcome"},
		),
		LimiterErrors: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "fanout_limiter_errors_total", Help: "Rate limiter store failures (admitted fail-open or rejected)."},
		),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "fanout_jobs_total", Help: "Dispatched queue jobs by outcome."},
			[]string{"outcome"},
		),
		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "fanout_deliveries_total", Help: "Per-destination delivery attempts by status."},
			[]string{"status"},
		),
		DeliveryLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fanout_delivery_latency_seconds",
				Help:    "Per-destination HTTP round-trip time.",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		DeadLetteredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "fanout_dead_lettered_total", Help: "Jobs moved to the dead letter queue."},
		),
		DLQSize: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "fanout_dlq_size", Help: "Entries in the dead letter queue."},
		),
		PendingJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "fanout_pending_jobs", Help: "Jobs waiting to be claimed."},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.IngestTotal,
			m.LimiterErrors,
			m.JobsTotal,
			m.DeliveriesTotal,
			m.DeliveryLatency,
			m.DeadLetteredTotal,
			m.DLQSize,
			m.PendingJobs,
		)
	}
	return m
}

// RecordIngest counts one admission decision.
func (m *Metrics) RecordIngest(outcome string) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(outcome).Inc()
}

// RecordLimiterError counts one rate limiter store failure.
func (m *Metrics) RecordLimiterError() {
	if m == nil {
		return
	}
	m.LimiterErrors.Inc()
}

// RecordJob counts one job outcome (acked, retried, dead_lettered).
func (m *Metrics) RecordJob(outcome string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(outcome).Inc()
}

// RecordDelivery records a delivery attempt with the given status and latency.
func (m *Metrics) RecordDelivery(status string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(status).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}

// RecordDeadLetter counts one dead-lettered job.
func (m *Metrics) RecordDeadLetter() {
	if m == nil {
		return
	}
	m.DeadLetteredTotal.Inc()
	m.DLQSize.Inc()
}

// SetPending updates the pending jobs gauge.
func (m *Metrics) SetPending(n int64) {
	if m == nil {
		return
	}
	m.PendingJobs.Set(float64(n))
}

// SetDLQSize updates the DLQ size gauge.
func (m *Metrics) SetDLQSize(n int64) {
	if m == nil {
		return
	}
	m.DLQSize.Set(float64(n))
}
