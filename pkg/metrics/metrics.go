package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics tracks the rule engine's evaluation pipeline.
//
// Metrics:
//   - spanguard_evaluations_total: trace evaluations by tenant and outcome
//   - spanguard_evaluation_duration_seconds: per-trace evaluation duration
//   - spanguard_evaluation_timeouts_total: evaluations aborted by deadline
//   - spanguard_rule_faults_total: contained per-rule evaluation failures
//   - spanguard_violations_total: violations emitted by tenant and severity
//   - spanguard_spans_dropped_total: ingested spans dropped, by reason
//   - spanguard_buffered_traces: traces currently buffered awaiting evaluation
type EngineMetrics struct {
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	timeoutsTotal      prometheus.Counter
	ruleFaultsTotal    *prometheus.CounterVec
	violationsTotal    *prometheus.CounterVec
	spansDroppedTotal  *prometheus.CounterVec
	bufferedTraces     prometheus.Gauge
}

// Drop reasons for spans rejected at ingestion.
const (
	DropReasonMissingTenant = "missing_tenant"
	DropReasonLateArrival   = "late_arrival"
	DropReasonOverflow      = "overflow"
)

// NewEngineMetrics creates and registers the engine metrics with the provided
// registry.
func NewEngineMetrics(registry *prometheus.Registry) *EngineMetrics {
	em := &EngineMetrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "spanguard",
				Name:      "evaluations_total",
				Help:      "Total number of trace evaluations",
			},
			[]string{"tenant_id", "outcome"},
		),

		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "spanguard",
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of a full rule pass over one trace",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"tenant_id"},
		),

		timeoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "spanguard",
				Name:      "evaluation_timeouts_total",
				Help:      "Total number of evaluations aborted by their deadline",
			},
		),

		ruleFaultsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "spanguard",
				Name:      "rule_faults_total",
				Help:      "Total number of contained per-rule evaluation failures",
			},
			[]string{"tenant_id"},
		),

		violationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "spanguard",
				Name:      "violations_total",
				Help:      "Total number of violations emitted",
			},
			[]string{"tenant_id", "severity"},
		),

		spansDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "spanguard",
				Name:      "spans_dropped_total",
				Help:      "Total number of ingested spans dropped before buffering",
			},
			[]string{"reason"},
		),

		bufferedTraces: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "spanguard",
				Name:      "buffered_traces",
				Help:      "Number of traces currently buffered awaiting evaluation",
			},
		),
	}

	registry.MustRegister(
		em.evaluationsTotal,
		em.evaluationDuration,
		em.timeoutsTotal,
		em.ruleFaultsTotal,
		em.violationsTotal,
		em.spansDroppedTotal,
		em.bufferedTraces,
	)

	return em
}

// RecordEvaluation records one completed trace evaluation.
func (em *EngineMetrics) RecordEvaluation(tenantID, outcome string, duration time.Duration) {
	em.evaluationsTotal.WithLabelValues(tenantID, outcome).Inc()
	em.evaluationDuration.WithLabelValues(tenantID).Observe(duration.Seconds())
}

// RecordTimeout records an evaluation aborted by its deadline.
func (em *EngineMetrics) RecordTimeout() {
	em.timeoutsTotal.Inc()
}

// RecordRuleFault records a contained failure of a single rule.
func (em *EngineMetrics) RecordRuleFault(tenantID string) {
	em.ruleFaultsTotal.WithLabelValues(tenantID).Inc()
}

// RecordViolation records one emitted violation.
func (em *EngineMetrics) RecordViolation(tenantID, severity string) {
	em.violationsTotal.WithLabelValues(tenantID, severity).Inc()
}

// RecordDroppedSpans records spans rejected before buffering.
func (em *EngineMetrics) RecordDroppedSpans(reason string, count int) {
	em.spansDroppedTotal.WithLabelValues(reason).Add(float64(count))
}

// SetBufferedTraces updates the buffered trace gauge.
func (em *EngineMetrics) SetBufferedTraces(count int) {
	em.bufferedTraces.Set(float64(count))
}
