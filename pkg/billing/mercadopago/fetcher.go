package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mihaimyh/goupgrade/pkg/billing"
	"github.com/mihaimyh/goupgrade/pkg/upgrade"
)

const (
	// DefaultAPIBase is the production API host.
	DefaultAPIBase = "https://api.mercadopago.com"

	defaultFetchTimeout = 10 * time.Second
	paymentsEndpoint    = "/v1/payments/{id}"
	maxErrorBody        = 4 * 1024
)

// FetcherConfig configures the payment lookup client.
type FetcherConfig struct {
	// AccessToken authenticates lookups (ACCESS_TOKEN, required)
	AccessToken string

	// APIBase is the API host (API_BASE). Default: https://api.mercadopago.com
	APIBase string

	// Timeout bounds each lookup. Default: 10s
	Timeout time.Duration

	// HTTPClient is an optional HTTP client. Its own Timeout is left untouched.
	HTTPClient *http.Client

	Metrics billing.Metrics
}

// Fetcher reads canonical payment records from the payments API.
type Fetcher struct {
	token   string
	base    string
	timeout time.Duration
	client  *http.Client
	metrics billing.Metrics
}

// NewFetcher creates a Fetcher.
func NewFetcher(config FetcherConfig) (*Fetcher, error) {
	token := strings.TrimSpace(config.AccessToken)
	if token == "" {
		return nil, fmt.Errorf("%w: access token is required", billing.ErrProviderNotConfigured)
	}
	base := strings.TrimRight(strings.TrimSpace(config.APIBase), "/")
	if base == "" {
		base = DefaultAPIBase
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("%w: invalid API base %q", billing.ErrProviderNotConfigured, base)
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultFetchTimeout
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}
	return &Fetcher{
		token:   token,
		base:    base,
		timeout: config.Timeout,
		client:  client,
		metrics: metrics,
	}, nil
}

// paymentResponse is the subset of the payment resource reconciliation needs.
type paymentResponse struct {
	ID                flexibleID             `json:"id"`
	Status            string                 `json:"status"`
	StatusDetail      string                 `json:"status_detail"`
	TransactionAmount decimal.Decimal        `json:"transaction_amount"`
	CurrencyID        string                 `json:"currency_id"`
	PaymentMethodID   string                 `json:"payment_method_id"`
	PaymentTypeID     string                 `json:"payment_type_id"`
	ExternalReference string                 `json:"external_reference"`
	DateCreated       string                 `json:"date_created"`
	Metadata          map[string]interface{} `json:"metadata"`
	Payer             struct {
		Email string `json:"email"`
	} `json:"payer"`
}

// FetchPayment implements upgrade.StatusFetcher.
func (f *Fetcher) FetchPayment(ctx context.Context, paymentID string) (*upgrade.PaymentRecord, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, fmt.Errorf("%w: payment id is required", upgrade.ErrValidation)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.base+"/v1/payments/"+url.PathEscape(paymentID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := f.client.Do(req)
	f.metrics.RecordAPICallDuration(providerName, paymentsEndpoint, time.Since(start))
	if err != nil {
		status := "transport_error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			status = "timeout"
		}
		f.metrics.RecordAPICall(providerName, paymentsEndpoint, status)
		return nil, fmt.Errorf("%w: payment %s: %w", upgrade.ErrProviderUnavailable, paymentID, err)
	}
	defer resp.Body.Close()
	f.metrics.RecordAPICall(providerName, paymentsEndpoint, fmt.Sprintf("%d", resp.StatusCode))

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %w: payment %s", upgrade.ErrProviderUnavailable, upgrade.ErrPaymentNotFound, paymentID)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: payment %s: status %d: %s",
			billing.ErrProviderAPIError, paymentID, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var payload paymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: payment %s: decode response: %w", upgrade.ErrProviderUnavailable, paymentID, err)
	}
	if payload.ID == "" {
		payload.ID = flexibleID(paymentID)
	}
	rec := payload.toRecord()
	f.metrics.RecordPaymentStatus(providerName, string(rec.Status))
	return rec, nil
}

func (p *paymentResponse) toRecord() *upgrade.PaymentRecord {
	rec := &upgrade.PaymentRecord{
		ID:                string(p.ID),
		Status:            mapStatus(p.Status),
		StatusDetail:      p.StatusDetail,
		Amount:            p.TransactionAmount,
		Currency:          p.CurrencyID,
		Method:            mapMethod(p.PaymentTypeID, p.PaymentMethodID),
		ExternalReference: p.ExternalReference,
		Payer: upgrade.PayerMetadata{
			UserID: metadataString(p.Metadata, "user_id"),
			Email:  p.Payer.Email,
		},
	}
	if t, err := time.Parse(time.RFC3339, p.DateCreated); err == nil {
		rec.DateCreated = t.UTC()
	}
	return rec
}

// mapStatus folds the provider's wider status set onto the four the engine applies.
// Refund and chargeback states pass through and are rejected by the engine.
func mapStatus(raw string) upgrade.Status {
	switch strings.ToLower(raw) {
	case "authorized":
		return upgrade.StatusPending
	case "in_mediation":
		return upgrade.StatusInProcess
	case "cancelled":
		return upgrade.StatusRejected
	default:
		return upgrade.Status(strings.ToLower(raw))
	}
}

func mapMethod(paymentType, paymentMethod string) upgrade.Method {
	if m, err := upgrade.ParseMethod(paymentMethod); err == nil {
		return m
	}
	if m, err := upgrade.ParseMethod(paymentType); err == nil {
		return m
	}
	return ""
}

func metadataString(md map[string]interface{}, key string) string {
	v, ok := md[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return decimal.NewFromFloat(t).String()
	default:
		return fmt.Sprint(t)
	}
}
