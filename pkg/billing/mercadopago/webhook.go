package mercadopago

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mihaimyh/goupgrade/pkg/billing"
	"github.com/mihaimyh/goupgrade/pkg/billing/internal"
	"github.com/mihaimyh/goupgrade/pkg/upgrade"
)

type ackResponse struct {
	Received  bool   `json:"received"`
	Timestamp string `json:"timestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		_ = internal.WriteJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		p.metrics.RecordWebhookError(providerName, "method_not_allowed")
		return
	}

	body, err := internal.ReadBodyStrict(w, r, internal.DefaultBodyLimit)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			_ = internal.WriteJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "payload too large"})
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
			return
		}
		_ = internal.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid payload"})
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return
	}

	result := p.Process(r.Context(), billing.WebhookEvent{
		Provider:        providerName,
		SignatureHeader: r.Header.Get(signatureHeader),
		RequestID:       r.Header.Get(requestIDHeader),
		ReceivedAt:      p.now(),
		RawBody:         body,
	})

	if result.Acknowledged() {
		_ = internal.WriteJSON(w, result.StatusCode, ackResponse{
			Received:  true,
			Timestamp: p.now().Format(time.RFC3339),
		})
		return
	}
	msg := "invalid payload"
	if result.StatusCode == http.StatusUnauthorized {
		msg = "invalid signature"
	}
	_ = internal.WriteJSON(w, result.StatusCode, errorResponse{Error: msg})
}

// Process handles one notification whose body has already been read.
//
// Only a malformed body (400) or a bad signature (401) produce a non-2xx
// status. Once authenticated the delivery is always acknowledged, and
// reconciliation failures are reported in Err and the logs only.
func (p *Provider) Process(ctx context.Context, event billing.WebhookEvent) billing.WebhookResult {
	start := time.Now()

	n, err := parseNotification(event.RawBody)
	if err != nil {
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return billing.WebhookResult{
			StatusCode: http.StatusBadRequest,
			Outcome:    billing.OutcomeInvalid,
			Err:        fmt.Errorf("%w: %w", billing.ErrInvalidWebhookPayload, err),
		}
	}
	event.Type = n.eventType()
	event.Action = n.Action
	event.DataID = string(n.Data.ID)
	event.LiveMode = n.LiveMode

	if !p.verifier.verifyID(event.SignatureHeader, event.RequestID, event.DataID) {
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		p.logger.Warn("webhook signature rejected",
			upgrade.Field{Key: "provider", Value: providerName},
			upgrade.Field{Key: "request_id", Value: event.RequestID},
			upgrade.Field{Key: "data_id", Value: event.DataID},
		)
		return billing.WebhookResult{
			StatusCode: http.StatusUnauthorized,
			Outcome:    billing.OutcomeUnauthorized,
			PaymentID:  event.DataID,
			Err:        billing.ErrInvalidWebhookSignature,
		}
	}

	eventType := event.Type
	if eventType == "" {
		eventType = "UNKNOWN"
	}
	defer func() {
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(start))
	}()

	if event.Type != eventTypePayment {
		p.metrics.RecordWebhookEvent(providerName, eventType, billing.OutcomeIgnored)
		p.logger.Debug("webhook ignored",
			upgrade.Field{Key: "type", Value: eventType},
			upgrade.Field{Key: "action", Value: event.Action},
		)
		return billing.WebhookResult{StatusCode: http.StatusOK, Outcome: billing.OutcomeIgnored}
	}

	if event.DataID == "" {
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return billing.WebhookResult{
			StatusCode: http.StatusBadRequest,
			Outcome:    billing.OutcomeInvalid,
			Err:        fmt.Errorf("%w: payment notification without data.id", billing.ErrInvalidWebhookPayload),
		}
	}

	return p.reconcile(ctx, event, eventType)
}

func (p *Provider) reconcile(ctx context.Context, event billing.WebhookEvent, eventType string) billing.WebhookResult {
	// The provider hanging up must not abort a reconciliation that is already running.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	res, err := p.engine.Reconcile(rctx, event.DataID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, upgrade.ErrProviderUnavailable) {
			err = fmt.Errorf("%w: %w", upgrade.ErrProviderUnavailable, err)
		}
		p.metrics.RecordWebhookEvent(providerName, eventType, billing.OutcomeFailed)
		p.metrics.RecordWebhookError(providerName, "reconcile_failed")
		p.logger.Error("payment reconciliation failed",
			upgrade.Field{Key: "provider", Value: providerName},
			upgrade.Field{Key: "payment_id", Value: event.DataID},
			upgrade.Field{Key: "action", Value: event.Action},
			upgrade.Field{Key: "request_id", Value: event.RequestID},
			upgrade.Field{Key: "live_mode", Value: event.LiveMode},
			upgrade.Field{Key: "error", Value: err},
		)
		return billing.WebhookResult{
			StatusCode: http.StatusOK,
			Outcome:    billing.OutcomeFailed,
			PaymentID:  event.DataID,
			Err:        err,
		}
	}

	p.metrics.RecordWebhookEvent(providerName, eventType, string(res.Outcome))
	return billing.WebhookResult{
		StatusCode: http.StatusOK,
		Outcome:    string(res.Outcome),
		PaymentID:  res.PaymentID,
		UserID:     res.UserID,
	}
}
