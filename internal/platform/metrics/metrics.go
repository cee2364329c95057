// Package metrics provides Prometheus observability for the compliance engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Record store mutations by store and action.
	RecordMutations *prometheus.CounterVec

	// Audit ledger appends by outcome ("ok", "error").
	AuditAppends *prometheus.CounterVec

	// Reveal attempts by outcome ("ok", "denied", "integrity_error").
	Reveals *prometheus.CounterVec

	// Retention sweep results.
	PurgedRecords *prometheus.CounterVec
	SweepDuration prometheus.Histogram

	// Compliance snapshot evaluations by regime and result.
	ComplianceEvaluations *prometheus.CounterVec

	// HTTP request latency by route.
	RequestDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		RecordMutations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_record_mutations_total",
			Help: "Record store mutations by store and action",
		}, []string{"store", "action"}),

		AuditAppends: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_audit_appends_total",
			Help: "Audit ledger append attempts by outcome",
		}, []string{"outcome"}),

		Reveals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_reveals_total",
			Help: "Sensitive field reveal attempts by outcome",
		}, []string{"outcome"}),

		PurgedRecords: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_purged_records_total",
			Help: "Records purged by the retention scheduler, by data type",
		}, []string{"data_type"}),

		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "custodia_retention_sweep_duration_seconds",
			Help:    "Duration of full retention sweeps",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60},
		}),

		ComplianceEvaluations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custodia_compliance_evaluations_total",
			Help: "Compliance regime evaluations by regime and result",
		}, []string{"regime", "result"}),

		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "custodia_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route", "status"}),
	}
}

// IncrementMutation records a successful record store mutation.
// Nil-safe so services can run without metrics in tests.
func (m *Metrics) IncrementMutation(store, action string) {
	if m != nil {
		m.RecordMutations.WithLabelValues(store, action).Inc()
	}
}

// IncrementAuditAppend records an audit append attempt.
func (m *Metrics) IncrementAuditAppend(outcome string) {
	if m != nil {
		m.AuditAppends.WithLabelValues(outcome).Inc()
	}
}

// IncrementReveal records a reveal attempt.
func (m *Metrics) IncrementReveal(outcome string) {
	if m != nil {
		m.Reveals.WithLabelValues(outcome).Inc()
	}
}

// IncrementPurged records purged records for a data type.
func (m *Metrics) IncrementPurged(dataType string, n int) {
	if m != nil && n > 0 {
		m.PurgedRecords.WithLabelValues(dataType).Add(float64(n))
	}
}

// ObserveSweep records the duration of a retention sweep.
func (m *Metrics) ObserveSweep(d time.Duration) {
	if m != nil {
		m.SweepDuration.Observe(d.Seconds())
	}
}

// IncrementEvaluation records a compliance regime evaluation.
func (m *Metrics) IncrementEvaluation(regime, result string) {
	if m != nil {
		m.ComplianceEvaluations.WithLabelValues(regime, result).Inc()
	}
}

// ObserveRequest records HTTP request latency.
func (m *Metrics) ObserveRequest(route, status string, d time.Duration) {
	if m != nil {
		m.RequestDuration.WithLabelValues(route, status).Observe(d.Seconds())
	}
}
