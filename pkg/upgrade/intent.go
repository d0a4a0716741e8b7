package upgrade

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultAppPrefix   = "upgrade"
	defaultWebhookPath = "/webhooks/mercadopago"
	defaultReturnPath  = "/payment/result"
)

// IntentConfig configures an IntentFactory.
type IntentConfig struct {
	// Catalog prices every plan (required)
	Catalog *Catalog

	// AppPrefix starts every external reference. Must not contain "_".
	// Default: "upgrade"
	AppPrefix string

	// BackendURL is the public base URL the provider posts notifications to (BACKEND_URL).
	BackendURL string

	// FrontendURL is where the payer returns after checkout (FRONTEND_URL).
	FrontendURL string

	// WebhookPath is appended to BackendURL. Default: "/webhooks/mercadopago"
	WebhookPath string

	Logger  Logger
	Metrics Metrics
	Clock   Clock
}

// Validate checks that the configuration is valid
func (c *IntentConfig) Validate() error {
	if c.Catalog == nil {
		return fmt.Errorf("catalog is required")
	}
	if strings.Contains(c.AppPrefix, "_") {
		return fmt.Errorf("app prefix %q must not contain an underscore", c.AppPrefix)
	}
	return nil
}

// CreateIntentRequest is what a client asks for. Amount is advisory and only logged.
type CreateIntentRequest struct {
	PlanID string
	Payer  Payer
	Method string
	Card   *CardDetails
	Amount *decimal.Decimal
}

// IntentFactory builds PaymentIntents from the catalog plus client payer data.
type IntentFactory struct {
	catalog         *Catalog
	prefix          string
	notificationURL string
	returnURL       string
	logger          Logger
	metrics         Metrics
	now             Clock
}

// NewIntentFactory creates an IntentFactory with the given configuration
func NewIntentFactory(config IntentConfig) (*IntentFactory, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.AppPrefix == "" {
		config.AppPrefix = defaultAppPrefix
	}
	if config.WebhookPath == "" {
		config.WebhookPath = defaultWebhookPath
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Clock == nil {
		config.Clock = systemClock
	}

	f := &IntentFactory{
		catalog: config.Catalog,
		prefix:  config.AppPrefix,
		logger:  config.Logger,
		metrics: config.Metrics,
		now:     config.Clock,
	}
	if config.BackendURL != "" {
		f.notificationURL = strings.TrimRight(config.BackendURL, "/") + config.WebhookPath
	}
	if config.FrontendURL != "" {
		f.returnURL = strings.TrimRight(config.FrontendURL, "/") + defaultReturnPath
	}
	return f, nil
}

// Prefix returns the external reference prefix, which the engine needs to parse references back.
func (f *IntentFactory) Prefix() string {
	return f.prefix
}

// Create builds a PaymentIntent. It has no side effects beyond logging and metrics.
func (f *IntentFactory) Create(_ context.Context, req CreateIntentRequest) (*PaymentIntent, error) {
	intent, err := f.build(req)
	if err != nil {
		f.metrics.RecordIntentRejected(rejectReason(err))
		return nil, err
	}
	f.metrics.RecordIntentCreated(string(intent.Method), intent.PlanID)
	f.logger.Info("payment intent created",
		Field{"intent_id", intent.ID},
		Field{"user_id", intent.PayerRef},
		Field{"plan_id", intent.PlanID},
		Field{"method", string(intent.Method)},
		Field{"external_reference", intent.ExternalReference},
	)
	return intent, nil
}

func (f *IntentFactory) build(req CreateIntentRequest) (*PaymentIntent, error) {
	method, err := ParseMethod(req.Method)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, req.Method)
	}

	userID := strings.TrimSpace(req.Payer.UserID)
	if userID == "" {
		return nil, fmt.Errorf("%w: payer id is required", ErrValidation)
	}

	plan, err := f.catalog.Lookup(req.PlanID)
	if err != nil {
		return nil, err
	}

	var card *CardDetails
	if method == MethodCard {
		if req.Card == nil || strings.TrimSpace(req.Card.Token) == "" {
			return nil, ErrMissingCardToken
		}
		if strings.TrimSpace(req.Card.IdentificationType) == "" || strings.TrimSpace(req.Card.IdentificationNumber) == "" {
			return nil, fmt.Errorf("%w: card identification is required", ErrValidation)
		}
		c := *req.Card
		if c.Installments <= 0 {
			c.Installments = 1
		}
		card = &c
	}

	if req.Amount != nil && !req.Amount.Equal(plan.Price) {
		f.logger.Warn("client amount ignored",
			Field{"user_id", userID},
			Field{"plan_id", plan.ID},
			Field{"client_amount", req.Amount.String()},
			Field{"catalog_amount", plan.Price.String()},
		)
	}

	now := f.now()
	return &PaymentIntent{
		ID:                uuid.NewString(),
		Method:            method,
		PlanID:            plan.ID,
		Title:             plan.Title,
		Amount:            plan.Price,
		Currency:          plan.Currency,
		PayerRef:          userID,
		PayerEmail:        req.Payer.Email,
		ExternalReference: FormatExternalReference(f.prefix, userID, now),
		Metadata:          IntentMetadata{UserID: userID, PlanID: plan.ID},
		NotificationURL:   f.notificationURL,
		ReturnURL:         f.returnURL,
		Card:              card,
		CreatedAt:         now,
	}, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidPaymentType):
		return "invalid_payment_type"
	case errors.Is(err, ErrMissingCardToken):
		return "missing_card_token"
	case errors.Is(err, ErrPlanNotFound):
		return "plan_not_found"
	default:
		return "validation"
	}
}
