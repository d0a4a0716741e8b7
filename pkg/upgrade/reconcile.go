package upgrade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const defaultMaxConflictRetries = 8

// Outcome says what applying a payment did to the account.
type Outcome string

const (
	// OutcomeApplied means an approved payment was recorded and the plan upgraded.
	OutcomeApplied Outcome = "applied"
	// OutcomeRecorded means a non-approved payment was appended to history only.
	OutcomeRecorded Outcome = "recorded"
	// OutcomeDuplicate means the payment was already in history; nothing changed.
	OutcomeDuplicate Outcome = "duplicate"
)

// Result is the account after reconciliation and what happened to it.
type Result struct {
	UserID    string
	PaymentID string
	Status    Status
	Outcome   Outcome
	Account   *UserAccount
}

// EngineConfig configures the reconciliation Engine.
type EngineConfig struct {
	// Store holds user accounts (required)
	Store Store

	// Fetcher retrieves payments for Reconcile. Apply works without it.
	Fetcher StatusFetcher

	// ReferencePrefix is the external reference prefix used by the IntentFactory.
	// Default: "upgrade"
	ReferencePrefix string

	// MaxConflictRetries bounds how often a lost compare-and-swap is retried. Default: 8
	MaxConflictRetries int

	// TimeSource, when set, stamps expiries with storage time instead of Clock.
	TimeSource TimeSource

	Logger  Logger
	Metrics Metrics
	Clock   Clock
}

// Engine applies provider-confirmed payments to user accounts idempotently.
type Engine struct {
	store      Store
	fetcher    StatusFetcher
	prefix     string
	maxRetries int
	timeSource TimeSource
	logger     Logger
	metrics    Metrics
	clock      Clock
}

// NewEngine creates a reconciliation Engine.
func NewEngine(config EngineConfig) (*Engine, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("invalid config: store is required")
	}
	if config.ReferencePrefix == "" {
		config.ReferencePrefix = defaultAppPrefix
	}
	if config.MaxConflictRetries <= 0 {
		config.MaxConflictRetries = defaultMaxConflictRetries
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
	return &Engine{
		store:      config.Store,
		fetcher:    config.Fetcher,
		prefix:     config.ReferencePrefix,
		maxRetries: config.MaxConflictRetries,
		timeSource: config.TimeSource,
		logger:     config.Logger,
		metrics:    config.Metrics,
		clock:      config.Clock,
	}, nil
}

// Fetcher returns the StatusFetcher Reconcile uses, or nil.
func (e *Engine) Fetcher() StatusFetcher {
	return e.fetcher
}

// Reconcile fetches paymentID from the provider and applies it.
func (e *Engine) Reconcile(ctx context.Context, paymentID string) (*Result, error) {
	if e.fetcher == nil {
		return nil, fmt.Errorf("reconcile %s: no status fetcher configured", paymentID)
	}
	start := time.Now()
	defer func() {
		e.metrics.RecordReconciliationDuration(time.Since(start))
	}()

	rec, err := e.fetcher.FetchPayment(ctx, paymentID)
	if err != nil {
		e.metrics.RecordReconciliation("unknown", "error")
		return nil, fmt.Errorf("fetch payment %s: %w", paymentID, err)
	}
	return e.Apply(ctx, rec)
}

// Apply records rec on the account it belongs to.
//
// An approved payment upgrades the account to PRO with an expiry of one year
// from now. The expiry is reset, not extended, when the account already has
// PRO time left. Any other status is appended to history without touching the
// plan. A payment already in history leaves the account unchanged, whatever
// its new status: a payment first seen as pending and later approved is not
// upgraded by the approval.
func (e *Engine) Apply(ctx context.Context, rec *PaymentRecord) (*Result, error) {
	if rec == nil || strings.TrimSpace(rec.ID) == "" {
		return nil, fmt.Errorf("%w: payment record without id", ErrValidation)
	}
	if !rec.Status.Valid() {
		e.metrics.RecordReconciliation(string(rec.Status), "error")
		return nil, fmt.Errorf("%w: payment %s has unknown status %q", ErrValidation, rec.ID, rec.Status)
	}

	userID, err := e.resolveUser(rec)
	if err != nil {
		e.metrics.RecordReconciliation(string(rec.Status), "error")
		return nil, err
	}

	res, err := e.applyWithRetry(ctx, userID, rec)
	if err != nil {
		e.metrics.RecordReconciliation(string(rec.Status), "error")
		return nil, err
	}
	e.metrics.RecordReconciliation(string(rec.Status), string(res.Outcome))
	e.logger.Info("payment reconciled",
		Field{"payment_id", rec.ID},
		Field{"user_id", userID},
		Field{"status", string(rec.Status)},
		Field{"outcome", string(res.Outcome)},
		Field{"plan", string(res.Account.Plan)},
	)
	return res, nil
}

func (e *Engine) resolveUser(rec *PaymentRecord) (string, error) {
	if id := strings.TrimSpace(rec.Payer.UserID); id != "" {
		return id, nil
	}
	if rec.ExternalReference != "" {
		if id, err := ParseExternalReference(e.prefix, rec.ExternalReference); err == nil {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: payment %s has no user metadata and external reference %q does not parse",
		ErrUserNotFound, rec.ID, rec.ExternalReference)
}

func (e *Engine) applyWithRetry(ctx context.Context, userID string, rec *PaymentRecord) (*Result, error) {
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		current, err := e.store.GetAccount(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrAccountNotFound) {
				return nil, fmt.Errorf("%w: %s (payment %s)", ErrUserNotFound, userID, rec.ID)
			}
			return nil, fmt.Errorf("load account %s: %w", userID, err)
		}

		res := &Result{UserID: userID, PaymentID: rec.ID, Status: rec.Status}
		if current.HasPayment(rec.ID) {
			res.Outcome = OutcomeDuplicate
			res.Account = current
			return res, nil
		}

		now := e.now(ctx)
		next := current.Clone()
		next.PaymentHistory = append(next.PaymentHistory, PaymentEntry{
			PaymentID:    rec.ID,
			Status:       rec.Status,
			StatusDetail: rec.StatusDetail,
			Amount:       rec.Amount,
			Currency:     rec.Currency,
			Method:       rec.Method,
			DateCreated:  rec.DateCreated,
			AppliedAt:    now,
		})
		res.Outcome = OutcomeRecorded
		if rec.Status == StatusApproved {
			expiry := now.Add(PlanExpiryPeriod)
			next.PlanExpiry = &expiry
			res.Outcome = OutcomeApplied
		}
		next.Plan = next.EffectivePlan(now)
		next.UpdatedAt = now

		err = e.store.CompareAndSwap(ctx, userID, current.Version, next)
		if errors.Is(err, ErrVersionConflict) {
			e.metrics.RecordVersionConflict()
			e.logger.Debug("account version conflict, retrying",
				Field{"user_id", userID},
				Field{"payment_id", rec.ID},
				Field{"attempt", attempt + 1},
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store account %s: %w", userID, err)
		}

		next.Version = current.Version + 1
		if current.Plan != next.Plan {
			e.metrics.RecordPlanChange(string(current.Plan), string(next.Plan))
		}
		res.Account = next
		return res, nil
	}
	return nil, fmt.Errorf("%w: user %s payment %s after %d attempts",
		ErrConflictRetriesExhausted, userID, rec.ID, e.maxRetries+1)
}

func (e *Engine) now(ctx context.Context) time.Time {
	if e.timeSource != nil {
		if t, err := e.timeSource.Now(ctx); err == nil {
			return t.UTC()
		}
	}
	return e.clock()
}

// Normalize rewrites Plan from PlanExpiry for readers that do not go through the engine.
func Normalize(a *UserAccount, now time.Time) *UserAccount {
	if a == nil {
		return nil
	}
	a.Plan = a.EffectivePlan(now)
	return a
}
