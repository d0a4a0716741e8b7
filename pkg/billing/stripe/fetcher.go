package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/goupgrade/pkg/billing"
	"github.com/mihaimyh/goupgrade/pkg/upgrade"
)

const (
	paymentIntentsEndpoint = "/v1/payment_intents/{id}"
	defaultFetchTimeout    = 10 * time.Second
)

// FetcherConfig configures the PaymentIntent lookup client.
type FetcherConfig struct {
	// APIKey is the secret API key (STRIPE_API_KEY, required)
	APIKey string

	// Timeout bounds each lookup. Default: 10s
	Timeout time.Duration

	Metrics billing.Metrics
}

// Fetcher reads PaymentIntents and maps them onto payment records.
type Fetcher struct {
	client  *stripe.Client
	timeout time.Duration
	metrics billing.Metrics
}

// NewFetcher creates a Fetcher.
func NewFetcher(config FetcherConfig) (*Fetcher, error) {
	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: stripe API key is required", billing.ErrProviderNotConfigured)
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Fetcher{client: stripe.NewClient(apiKey), timeout: timeout, metrics: metrics}, nil
}

// FetchPayment implements upgrade.StatusFetcher.
func (f *Fetcher) FetchPayment(ctx context.Context, paymentID string) (*upgrade.PaymentRecord, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, fmt.Errorf("%w: payment id is required", upgrade.ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	start := time.Now()
	pi, err := f.client.V1PaymentIntents.Retrieve(ctx, paymentID, nil)
	f.metrics.RecordAPICallDuration(providerName, paymentIntentsEndpoint, time.Since(start))
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			f.metrics.RecordAPICall(providerName, paymentIntentsEndpoint, fmt.Sprintf("%d", stripeErr.HTTPStatusCode))
			if stripeErr.HTTPStatusCode == http.StatusNotFound {
				return nil, fmt.Errorf("%w: %w: payment intent %s", upgrade.ErrProviderUnavailable, upgrade.ErrPaymentNotFound, paymentID)
			}
			return nil, fmt.Errorf("%w: payment intent %s: %w", billing.ErrProviderAPIError, paymentID, err)
		}
		f.metrics.RecordAPICall(providerName, paymentIntentsEndpoint, "transport_error")
		return nil, fmt.Errorf("%w: payment intent %s: %w", upgrade.ErrProviderUnavailable, paymentID, err)
	}
	f.metrics.RecordAPICall(providerName, paymentIntentsEndpoint, "200")
	rec := toRecord(pi)
	f.metrics.RecordPaymentStatus(providerName, string(rec.Status))
	return rec, nil
}

// toRecord maps a PaymentIntent. Amounts are taken as two-decimal minor units.
func toRecord(pi *stripe.PaymentIntent) *upgrade.PaymentRecord {
	rec := &upgrade.PaymentRecord{
		ID:                pi.ID,
		Status:            mapStatus(pi.Status),
		StatusDetail:      string(pi.Status),
		Amount:            decimal.New(pi.Amount, -2),
		Currency:          strings.ToUpper(string(pi.Currency)),
		ExternalReference: pi.Metadata["external_reference"],
		Payer: upgrade.PayerMetadata{
			UserID: strings.TrimSpace(pi.Metadata["user_id"]),
			Email:  pi.ReceiptEmail,
		},
	}
	if pi.Created > 0 {
		rec.DateCreated = time.Unix(pi.Created, 0).UTC()
	}
	for _, t := range pi.PaymentMethodTypes {
		if m, err := upgrade.ParseMethod(t); err == nil {
			rec.Method = m
			break
		}
	}
	return rec
}

func mapStatus(s stripe.PaymentIntentStatus) upgrade.Status {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return upgrade.StatusApproved
	case stripe.PaymentIntentStatusProcessing:
		return upgrade.StatusInProcess
	case stripe.PaymentIntentStatusCanceled, stripe.PaymentIntentStatusRequiresPaymentMethod:
		return upgrade.StatusRejected
	default:
		return upgrade.StatusPending
	}
}
