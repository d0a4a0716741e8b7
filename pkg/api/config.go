package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mihaimyh/goupgrade/pkg/upgrade"
)

// Submitter forwards a created intent to the payment provider's checkout.
// Errors wrapping upgrade.ErrProviderUnavailable are reported as 502.
type Submitter interface {
	SubmitIntent(ctx context.Context, intent *upgrade.PaymentIntent) error
}

// Config holds configuration for the payments API handler
type Config struct {
	// Factory builds payment intents from the catalog (required)
	Factory *upgrade.IntentFactory

	// Store holds user accounts (required). CreatePayment creates a
	// standard account for unknown payers.
	Store upgrade.Store

	// GetAccountID extracts the account id for GetAccount (required)
	// e.g. a router path parameter
	GetAccountID func(*http.Request) string

	// Submitter optionally forwards intents to the provider.
	// If nil, intents are returned to the client for checkout.
	Submitter Submitter

	// Validator checks request bodies. If nil, a default validator is used.
	Validator *validator.Validate

	// OnError handles errors (validation, internal, etc.)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)

	Logger upgrade.Logger
	Clock  upgrade.Clock
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Factory == nil {
		return fmt.Errorf("factory is required")
	}
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.GetAccountID == nil {
		return fmt.Errorf("getAccountID is required")
	}
	return nil
}

// NewHandler creates a new payments API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Validator == nil {
		config.Validator = validator.New(validator.WithRequiredStructEnabled())
	}
	if config.Logger == nil {
		config.Logger = &upgrade.NoopLogger{}
	}
	if config.Clock == nil {
		config.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Handler{
		config: config,
	}, nil
}

// Helper functions for common id extraction patterns

// FromHeader returns an extractor that reads the id from a header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromPathValue returns an extractor for routes registered on http.ServeMux
// with a {name} wildcard
func FromPathValue(name string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.PathValue(name)
	}
}

// FromContext returns an extractor that reads the id from request context
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if id, ok := r.Context().Value(key).(string); ok {
			return id
		}
		return ""
	}
}
