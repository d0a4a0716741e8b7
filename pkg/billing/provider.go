package billing

import (
	"context"
	"net/http"

	"github.com/mihaimyh/goupgrade/pkg/upgrade"
)

// Provider is the interface every payment provider integration implements.
type Provider interface {
	// Name returns the provider name (e.g., "mercadopago", "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that receives provider notifications.
	// The handler authenticates, fetches the canonical payment and hands it to the
	// reconciliation engine.
	WebhookHandler() http.Handler

	// FetchPayment retrieves the canonical payment record from the provider.
	FetchPayment(ctx context.Context, paymentID string) (*upgrade.PaymentRecord, error)

	// SyncPayment re-reads a payment from the provider and applies it.
	// Used for manual follow-up of webhooks that were acknowledged but failed to reconcile.
	SyncPayment(ctx context.Context, paymentID string) (*upgrade.Result, error)
}
