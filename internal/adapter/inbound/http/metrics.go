package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sentinel-Gate/accessgate/internal/domain/condition"
	"github.com/Sentinel-Gate/accessgate/internal/domain/policy"
	"github.com/Sentinel-Gate/accessgate/internal/service"
)

// Metrics holds all Prometheus metrics for access-gate.
// It implements service.DecisionMetrics.
type Metrics struct {
	DecisionsTotal       *prometheus.CounterVec
	DecisionDuration     prometheus.Histogram
	ConditionIssuesTotal *prometheus.CounterVec
	StoreErrorsTotal     prometheus.Counter
	AuditDropsTotal      prometheus.Counter
	RequestsTotal        *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "accessgate",
				Name:      "decisions_total",
				Help:      "Total access decisions by resolved action and reason",
			},
			[]string{"action", "reason"},
		),
		DecisionDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "accessgate",
				Name:      "decision_duration_seconds",
				Help:      "Time to produce a decision, including the policy store fetch",
				Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		ConditionIssuesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "accessgate",
				Name:      "condition_issues_total",
				Help:      "Conditions that could not be evaluated",
			},
			[]string{"type", "kind"}, // kind=unknown_type/malformed
		),
		StoreErrorsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "accessgate",
				Name:      "store_errors_total",
				Help:      "Policy store fetches that failed or timed out",
			},
		),
		AuditDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "accessgate",
				Name:      "audit_drops_total",
				Help:      "Total audit records dropped due to backpressure",
			},
		),
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "accessgate",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests by route and status class",
			},
			[]string{"route", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "accessgate",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

// ObserveDecision implements service.DecisionMetrics.
func (m *Metrics) ObserveDecision(action policy.Action, reason policy.Reason, elapsed time.Duration) {
	m.DecisionsTotal.WithLabelValues(string(action), string(reason)).Inc()
	m.DecisionDuration.Observe(elapsed.Seconds())
}

// ObserveConditionIssue implements service.DecisionMetrics.
func (m *Metrics) ObserveConditionIssue(t condition.Type, kind string) {
	m.ConditionIssuesTotal.WithLabelValues(string(t), kind).Inc()
}

// ObserveStoreError implements service.DecisionMetrics.
func (m *Metrics) ObserveStoreError() {
	m.StoreErrorsTotal.Inc()
}

// ObserveAuditDrop counts one dropped audit record. Pass it to service.WithDropObserver.
func (m *Metrics) ObserveAuditDrop() {
	m.AuditDropsTotal.Inc()
}

var _ service.DecisionMetrics = (*Metrics)(nil)
