package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the compliance pipeline. All helpers are nil-safe so packages
// can be constructed without metrics in tests.
type Metrics struct {
	RunsTotal           *prometheus.CounterVec
	FindingsPerRun      prometheus.Histogram
	ReasoningDuration   *prometheus.HistogramVec
	PartialPersistTotal prometheus.Counter
	SignalFailuresTotal prometheus.Counter
	OutboxPublished     *prometheus.CounterVec
	WorkflowDeliveries  *prometheus.CounterVec
	IdempotentReplays   prometheus.Counter
	StreamSubscribers   prometheus.Gauge
	StreamDropped       prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_compliance_runs_total",
			Help: "Audit runs by trigger and outcome code",
		}, []string{"trigger", "outcome"}),
		FindingsPerRun: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fieldops_compliance_findings_per_run",
			Help:    "Number of findings returned by the reasoning service per run",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),
		ReasoningDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fieldops_compliance_reasoning_duration_seconds",
			Help:    "Latency of reasoning-service calls by outcome",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"outcome"}),
		PartialPersistTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldops_compliance_partial_persistence_total",
			Help: "Runs where only some audit rows were written",
		}),
		SignalFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldops_compliance_signal_failures_total",
			Help: "Event or signal emissions that failed after audit rows were persisted",
		}),
		OutboxPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_compliance_outbox_publish_total",
			Help: "Outbox publish attempts by result",
		}, []string{"result"}),
		WorkflowDeliveries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldops_compliance_workflow_deliveries_total",
			Help: "Workflow deliveries by outcome (success, duplicate, failed, retryable)",
		}, []string{"outcome"}),
		IdempotentReplays: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldops_compliance_idempotent_replays_total",
			Help: "Audit requests answered from a completed idempotency record",
		}),
		StreamSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "fieldops_compliance_stream_subscribers",
			Help: "Open realtime audit stream subscriptions",
		}),
		StreamDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fieldops_compliance_stream_dropped_total",
			Help: "Audit notifications dropped because a subscriber buffer was full",
		}),
	}
}

func (m *Metrics) ObserveRun(trigger, outcome string, findings int) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(trigger, outcome).Inc()
	if findings >= 0 {
		m.FindingsPerRun.Observe(float64(findings))
	}
}

func (m *Metrics) ObserveReasoning(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ReasoningDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) IncPartialPersist() {
	if m == nil {
		return
	}
	m.PartialPersistTotal.Inc()
}

func (m *Metrics) IncSignalFailure() {
	if m == nil {
		return
	}
	m.SignalFailuresTotal.Inc()
}

func (m *Metrics) IncOutbox(result string) {
	if m == nil {
		return
	}
	m.OutboxPublished.WithLabelValues(result).Inc()
}

func (m *Metrics) IncWorkflow(outcome string) {
	if m == nil {
		return
	}
	m.WorkflowDeliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncReplay() {
	if m == nil {
		return
	}
	m.IdempotentReplays.Inc()
}

func (m *Metrics) AddSubscribers(delta int) {
	if m == nil {
		return
	}
	m.StreamSubscribers.Add(float64(delta))
}

func (m *Metrics) IncStreamDropped() {
	if m == nil {
		return
	}
	m.StreamDropped.Inc()
}
