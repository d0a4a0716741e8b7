package billing

import "time"

// Metrics defines the interface for tracking payment provider operations.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the provider.
	// outcome: "applied", "recorded", "duplicate", "ignored" or "failed"
	RecordWebhookEvent(provider, eventType, outcome string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: "auth_failed", "invalid_payload", "payload_too_large", "reconcile_failed"
	RecordWebhookError(provider, errorType string)

	// RecordPaymentSync records a manual payment synchronization.
	RecordPaymentSync(provider, status string)

	// RecordAPICall records an API call to the provider.
	// status: HTTP status code as string, or "timeout" / "transport_error"
	RecordAPICall(provider, endpoint, status string)

	// RecordAPICallDuration records how long an API call took.
	RecordAPICallDuration(provider, endpoint string, duration time.Duration)

	// RecordPaymentStatus records the mapped status of a payment read from the provider.
	RecordPaymentStatus(provider, status string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordPaymentSync(_, _ string)                                {}
func (n *NoopMetrics) RecordAPICall(_, _, _ string)                                 {}
func (n *NoopMetrics) RecordAPICallDuration(_, _ string, _ time.Duration)           {}
func (n *NoopMetrics) RecordPaymentStatus(_, _ string)                              {}
