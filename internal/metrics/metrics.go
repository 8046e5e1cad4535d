// Package metrics provides Prometheus metrics collection for Chronicle's
// transaction processors, submitter, and projector. Grounded on the
// teacher's metrics collector (infrastructure/metrics/metrics.go): one
// struct of pre-registered collectors per service, constructed once at
// startup and threaded through by reference.
package metrics

import (
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector a Chronicle component emits.
type Metrics struct {
	TransactionsTotal    *prometheus.CounterVec
	TransactionDuration  *prometheus.HistogramVec
	PolicyDecisionsTotal *prometheus.CounterVec

	SubmissionsInFlight prometheus.Gauge
	CommitLatency       prometheus.Histogram

	ProjectorEventsTotal *prometheus.CounterVec
	ProjectorLagOffsets  prometheus.Gauge

	ErrorsTotal *prometheus.CounterVec

	ServiceInfo *prometheus.GaugeVec
}

// New creates a Metrics instance for serviceName, registered against the
// default Prometheus registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against registerer,
// or unregistered if registerer is nil (used in tests).
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_transactions_total",
				Help: "Total number of ledger transactions applied, by family and outcome",
			},
			[]string{"service", "family", "status"},
		),
		TransactionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chronicle_transaction_duration_seconds",
				Help:    "Transaction processor apply duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"service", "family"},
		),
		PolicyDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_policy_decisions_total",
				Help: "Total number of policy gate evaluations, by decision",
			},
			[]string{"service", "decision"},
		),
		SubmissionsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chronicle_submissions_in_flight",
				Help: "Current number of submissions awaiting commit",
			},
		),
		CommitLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chronicle_commit_latency_seconds",
				Help:    "Time from dispatch to observed commit event",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		ProjectorEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_projector_events_total",
				Help: "Total number of commit events processed by the projector, by outcome",
			},
			[]string{"service", "outcome"},
		),
		ProjectorLagOffsets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chronicle_projector_lag_offsets",
				Help: "Difference between the latest known ledger offset and the projector's stored offset",
			},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_errors_total",
				Help: "Total number of errors, by component and error code",
			},
			[]string{"service", "code"},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chronicle_service_info",
				Help: "Service build/version information",
			},
			[]string{"service", "version"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.TransactionsTotal,
			m.TransactionDuration,
			m.PolicyDecisionsTotal,
			m.SubmissionsInFlight,
			m.CommitLatency,
			m.ProjectorEventsTotal,
			m.ProjectorLagOffsets,
			m.ErrorsTotal,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, version()).Set(1)
	return m
}

// RecordTransaction records one applied transaction's outcome and duration.
func (m *Metrics) RecordTransaction(service, family, status string, duration time.Duration) {
	m.TransactionsTotal.WithLabelValues(service, family, status).Inc()
	m.TransactionDuration.WithLabelValues(service, family).Observe(duration.Seconds())
}

// RecordPolicyDecision records one policy gate evaluation outcome.
func (m *Metrics) RecordPolicyDecision(service, decision string) {
	m.PolicyDecisionsTotal.WithLabelValues(service, decision).Inc()
}

// RecordCommit records the latency between a submission's dispatch and its
// observed commit event.
func (m *Metrics) RecordCommit(latency time.Duration) {
	m.CommitLatency.Observe(latency.Seconds())
}

// RecordProjectorEvent records one event delivered to the projector.
func (m *Metrics) RecordProjectorEvent(service, outcome string) {
	m.ProjectorEventsTotal.WithLabelValues(service, outcome).Inc()
}

// SetProjectorLag sets the current gap between the ledger's head offset and
// the projector's stored offset.
func (m *Metrics) SetProjectorLag(lag uint64) {
	m.ProjectorLagOffsets.Set(float64(lag))
}

// RecordError records an error by its Chronicle error code.
func (m *Metrics) RecordError(service, code string) {
	m.ErrorsTotal.WithLabelValues(service, code).Inc()
}

func version() string {
	if v := strings.TrimSpace(os.Getenv("CHRONICLE_VERSION")); v != "" {
		return v
	}
	return "dev"
}

// Enabled reports whether Prometheus metrics should be exposed, controlled
// by the METRICS_ENABLED environment variable (default: enabled).
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return true
	}
	switch raw {
	case "0", "false", "no", "off":
		return false
	default:
		return true
	}
}
