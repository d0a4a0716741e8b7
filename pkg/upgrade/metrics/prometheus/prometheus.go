package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/goupgrade/pkg/upgrade"
)

// Metrics implements upgrade.Metrics using Prometheus.
type Metrics struct {
	intentsCreated         *prometheus.CounterVec
	intentsRejected        *prometheus.CounterVec
	reconciliationsTotal   *prometheus.CounterVec
	reconciliationDuration prometheus.Histogram
	versionConflicts       prometheus.Counter
	planChanges            *prometheus.CounterVec
	circuitBreakerState    *prometheus.GaugeVec
}

// NewMetrics registers the reconciliation metrics on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		intentsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upgrade",
			Name:      "intents_created_total",
			Help:      "Total number of payment intents created.",
		}, []string{"method", "plan"}),

		intentsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upgrade",
			Name:      "intents_rejected_total",
			Help:      "Total number of create-payment requests rejected.",
		}, []string{"reason"}),

		reconciliationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upgrade",
			Name:      "reconciliations_total",
			Help:      "Total number of payment reconciliations by payment status and outcome.",
		}, []string{"status", "outcome"}),

		reconciliationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upgrade",
			Name:      "reconciliation_duration_seconds",
			Help:      "Duration of fetch plus apply in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		versionConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upgrade",
			Name:      "version_conflicts_total",
			Help:      "Total number of lost account compare-and-swaps.",
		}),

		planChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upgrade",
			Name:      "plan_changes_total",
			Help:      "Total number of account plan transitions.",
		}, []string{"from_plan", "to_plan"}),

		circuitBreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upgrade",
			Name:      "circuit_breaker_state",
			Help:      "Provider circuit breaker state (1 for the current state).",
		}, []string{"state"}),
	}
}

func (m *Metrics) RecordIntentCreated(method, planID string) {
	m.intentsCreated.WithLabelValues(method, planID).Inc()
}

func (m *Metrics) RecordIntentRejected(reason string) {
	m.intentsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordReconciliation(status, outcome string) {
	m.reconciliationsTotal.WithLabelValues(status, outcome).Inc()
}

func (m *Metrics) RecordReconciliationDuration(duration time.Duration) {
	m.reconciliationDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordVersionConflict() {
	m.versionConflicts.Inc()
}

func (m *Metrics) RecordPlanChange(fromPlan, toPlan string) {
	m.planChanges.WithLabelValues(fromPlan, toPlan).Inc()
}

func (m *Metrics) RecordCircuitBreakerStateChange(state string) {
	for _, s := range []upgrade.BreakerState{upgrade.BreakerClosed, upgrade.BreakerOpen, upgrade.BreakerHalfOpen} {
		v := 0.0
		if string(s) == state {
			v = 1
		}
		m.circuitBreakerState.WithLabelValues(string(s)).Set(v)
	}
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) upgrade.Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
