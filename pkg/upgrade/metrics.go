package upgrade

import "time"

// Metrics defines the interface for tracking intent creation and reconciliation.
type Metrics interface {
	// RecordIntentCreated records a payment intent built for method and plan.
	RecordIntentCreated(method, planID string)

	// RecordIntentRejected records a create request that failed validation.
	// reason: "invalid_payment_type", "missing_card_token", "plan_not_found", "validation"
	RecordIntentRejected(reason string)

	// RecordReconciliation records the outcome of applying one payment.
	// outcome: "applied", "recorded", "duplicate" or "error"
	RecordReconciliation(status, outcome string)

	// RecordReconciliationDuration records how long fetch plus apply took.
	RecordReconciliationDuration(duration time.Duration)

	// RecordVersionConflict records a lost compare-and-swap that forced a retry.
	RecordVersionConflict()

	// RecordPlanChange records a plan transition on an account.
	RecordPlanChange(fromPlan, toPlan string)

	// RecordCircuitBreakerStateChange records a circuit breaker state change.
	RecordCircuitBreakerStateChange(state string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordIntentCreated(_, _ string)              {}
func (n *NoopMetrics) RecordIntentRejected(_ string)                {}
func (n *NoopMetrics) RecordReconciliation(_, _ string)             {}
func (n *NoopMetrics) RecordReconciliationDuration(_ time.Duration) {}
func (n *NoopMetrics) RecordVersionConflict()                       {}
func (n *NoopMetrics) RecordPlanChange(_, _ string)                 {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(_ string)     {}
