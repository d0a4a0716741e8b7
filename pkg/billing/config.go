package billing

import (
	"time"

	"github.com/mihaimyh/goupgrade/pkg/upgrade"
)

// DefaultReconcileTimeout bounds fetch plus apply for one webhook delivery.
const DefaultReconcileTimeout = 10 * time.Second

// Config defines the configuration all providers accept
type Config struct {
	// Engine fetches and applies payments (required). It must be built with
	// a StatusFetcher for this provider.
	Engine *upgrade.Engine

	// WebhookSecret verifies inbound notifications (WEBHOOK_SECRET).
	// Empty disables verification, which is only allowed outside production.
	WebhookSecret string

	// Production refuses to start without a WebhookSecret.
	Production bool

	// ReconcileTimeout bounds fetch plus apply for one delivery. Default: 10s
	ReconcileTimeout time.Duration

	// Metrics is an optional metrics collector.
	// Use billing/metrics/prometheus.DefaultMetrics(namespace) for Prometheus metrics.
	Metrics Metrics

	Logger upgrade.Logger
}
