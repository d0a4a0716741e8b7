// Package stripe reconciles Stripe PaymentIntents against user accounts
// using the same engine as the Mercado Pago provider.
package stripe

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mihaimyh/goupgrade/pkg/billing"
	"github.com/mihaimyh/goupgrade/pkg/billing/internal"
	"github.com/mihaimyh/goupgrade/pkg/upgrade"
)

const (
	providerName             = "stripe"
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config // Base config (Engine, WebhookSecret, etc.)

	// RateLimitRequests per RateLimitWindow per client IP. Default: 100 per minute
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	engine        *upgrade.Engine
	webhookSecret string
	limiter       *internal.RateLimiter
	metrics       billing.Metrics
	logger        upgrade.Logger
	timeout       time.Duration
	now           func() time.Time
}

// NewProvider creates a new Stripe billing provider
func NewProvider(config Config) (*Provider, error) {
	if config.Engine == nil || config.Engine.Fetcher() == nil {
		return nil, fmt.Errorf("%w: engine with a status fetcher is required", billing.ErrProviderNotConfigured)
	}
	secret := strings.TrimSpace(config.WebhookSecret)
	if secret == "" && config.Production {
		return nil, fmt.Errorf("%w: webhook secret is required in production", billing.ErrProviderNotConfigured)
	}

	if config.Logger == nil {
		config.Logger = &upgrade.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &billing.NoopMetrics{}
	}
	if config.ReconcileTimeout <= 0 {
		config.ReconcileTimeout = billing.DefaultReconcileTimeout
	}
	if config.RateLimitRequests <= 0 {
		config.RateLimitRequests = defaultRateLimitRequests
	}
	if config.RateLimitWindow <= 0 {
		config.RateLimitWindow = defaultRateLimitWindow
	}

	return &Provider{
		engine:        config.Engine,
		webhookSecret: secret,
		limiter:       internal.NewRateLimiter(config.RateLimitRequests, config.RateLimitWindow),
		metrics:       config.Metrics,
		logger:        config.Logger,
		timeout:       config.ReconcileTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	return p.limiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

// FetchPayment retrieves a PaymentIntent through the engine's fetcher
func (p *Provider) FetchPayment(ctx context.Context, paymentID string) (*upgrade.PaymentRecord, error) {
	return p.engine.Fetcher().FetchPayment(ctx, paymentID)
}

// SyncPayment re-reads a PaymentIntent and applies it
func (p *Provider) SyncPayment(ctx context.Context, paymentID string) (*upgrade.Result, error) {
	res, err := p.engine.Reconcile(ctx, paymentID)
	if err != nil {
		p.metrics.RecordPaymentSync(providerName, "error")
		return nil, err
	}
	p.metrics.RecordPaymentSync(providerName, "success")
	return res, nil
}

var _ billing.Provider = (*Provider)(nil)
