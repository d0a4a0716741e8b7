package billing

import "time"

// WebhookEvent is one inbound provider notification. It is not persisted.
type WebhookEvent struct {
	// Provider is the provider name ("mercadopago", "stripe")
	Provider string

	// Type is the notification topic; only "payment" triggers reconciliation
	Type string

	// Action is the provider action, e.g. "payment.created" or "payment.updated"
	Action string

	// DataID is the provider id of the resource the notification is about
	DataID string

	// SignatureHeader is the raw signature header as received
	SignatureHeader string

	// RequestID is the provider request id that takes part in the signature
	RequestID string

	LiveMode   bool
	ReceivedAt time.Time

	// RawBody is the exact body the signature was computed over
	RawBody []byte
}

// Outcome values a webhook can end in besides the reconciliation outcomes.
const (
	OutcomeIgnored      = "ignored"
	OutcomeFailed       = "failed"
	OutcomeUnauthorized = "unauthorized"
	OutcomeInvalid      = "invalid"
)

// WebhookResult separates "did we acknowledge the provider" from "did reconciliation succeed".
type WebhookResult struct {
	// StatusCode is what the provider is told
	StatusCode int

	// Outcome is "applied", "recorded", "duplicate" or one of the Outcome constants above
	Outcome string

	PaymentID string
	UserID    string

	// Err is the reconciliation error, if any. It never changes StatusCode once authenticated.
	Err error
}

// Acknowledged reports whether the provider was told the delivery succeeded.
func (r WebhookResult) Acknowledged() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
