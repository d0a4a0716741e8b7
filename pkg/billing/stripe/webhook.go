package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/goupgrade/pkg/billing"
	"github.com/mihaimyh/goupgrade/pkg/billing/internal"
	"github.com/mihaimyh/goupgrade/pkg/upgrade"
)

// reconciledEvents are the PaymentIntent events whose state is final. Earlier
// lifecycle events (created, processing, requires_action, payment_failed) share
// the intent id, and recording one would make the later success a duplicate.
var reconciledEvents = map[stripe.EventType]bool{
	"payment_intent.succeeded": true,
	"payment_intent.canceled":  true,
}

type ackResponse struct {
	Received  bool   `json:"received"`
	Timestamp string `json:"timestamp"`
}

// handleWebhook processes incoming Stripe webhook events
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if p.webhookSecret == "" {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	// Read and validate body (with size limit protection)
	body, err := internal.ReadBodyStrict(w, r, internal.DefaultBodyLimit)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	event, err := stripe.ConstructEvent(body, r.Header.Get("Stripe-Signature"), p.webhookSecret)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	result := p.processEvent(r.Context(), &event)
	p.metrics.RecordWebhookEvent(providerName, eventType, result.Outcome)
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))

	if !result.Acknowledged() {
		http.Error(w, "invalid payload", result.StatusCode)
		return
	}
	_ = internal.WriteJSON(w, http.StatusOK, ackResponse{Received: true, Timestamp: p.now().Format(time.RFC3339)})
}

// processEvent reconciles terminal PaymentIntent events and ignores everything
// else. Authenticated events are always acknowledged.
func (p *Provider) processEvent(ctx context.Context, event *stripe.Event) billing.WebhookResult {
	if !reconciledEvents[event.Type] {
		p.logger.Debug("webhook ignored",
			upgrade.Field{Key: "provider", Value: providerName},
			upgrade.Field{Key: "event_type", Value: string(event.Type)},
		)
		return billing.WebhookResult{StatusCode: http.StatusOK, Outcome: billing.OutcomeIgnored}
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil || pi.ID == "" {
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return billing.WebhookResult{
			StatusCode: http.StatusBadRequest,
			Outcome:    billing.OutcomeInvalid,
			Err:        fmt.Errorf("%w: payment intent object", billing.ErrInvalidWebhookPayload),
		}
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	res, err := p.engine.Reconcile(rctx, pi.ID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, upgrade.ErrProviderUnavailable) {
			err = fmt.Errorf("%w: %w", upgrade.ErrProviderUnavailable, err)
		}
		p.metrics.RecordWebhookError(providerName, "reconcile_failed")
		p.logger.Error("payment reconciliation failed",
			upgrade.Field{Key: "provider", Value: providerName},
			upgrade.Field{Key: "payment_id", Value: pi.ID},
			upgrade.Field{Key: "event_id", Value: event.ID},
			upgrade.Field{Key: "event_type", Value: string(event.Type)},
			upgrade.Field{Key: "live_mode", Value: event.Livemode},
			upgrade.Field{Key: "error", Value: err},
		)
		return billing.WebhookResult{StatusCode: http.StatusOK, Outcome: billing.OutcomeFailed, PaymentID: pi.ID, Err: err}
	}
	return billing.WebhookResult{
		StatusCode: http.StatusOK,
		Outcome:    string(res.Outcome),
		PaymentID:  res.PaymentID,
		UserID:     res.UserID,
	}
}
