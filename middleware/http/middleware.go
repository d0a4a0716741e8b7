// Package http provides HTTP middleware for plan gating
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mihaimyh/goupgrade/pkg/upgrade"
)

// UserIDExtractor extracts the user ID from an HTTP request
// Return empty string if user is not authenticated
type UserIDExtractor func(r *http.Request) string

// Config holds middleware configuration
type Config struct {
	// Accounts reads user accounts (required)
	Accounts upgrade.AccountReader

	// GetUserID extracts user ID from request (required)
	GetUserID UserIDExtractor

	// Plan is the plan the route requires
	// Default: PlanPro
	Plan upgrade.Plan

	// Clock decides plan expiry. Default: time.Now
	Clock upgrade.Clock

	// OnPlanRequired is called when the user's effective plan does not cover Plan
	// If nil, returns 402 Payment Required
	OnPlanRequired func(w http.ResponseWriter, r *http.Request, account *upgrade.UserAccount)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that admits only users whose
// effective plan covers config.Plan. The account is stored in the request
// context for the next handler.
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.Accounts == nil {
		panic("goupgrade/http: Config.Accounts is required")
	}
	if config.GetUserID == nil {
		panic("goupgrade/http: Config.GetUserID is required")
	}
	if config.Plan == "" {
		config.Plan = upgrade.PlanPro
	}
	if config.Clock == nil {
		config.Clock = func() time.Time { return time.Now().UTC() }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			acct, err := upgrade.CheckPlan(r.Context(), config.Accounts, userID, config.Plan, config.Clock())
			switch {
			case errors.Is(err, upgrade.ErrPlanRequired):
				if config.OnPlanRequired != nil {
					config.OnPlanRequired(w, r, acct)
				} else {
					http.Error(w, "Payment Required", http.StatusPaymentRequired)
				}
				return
			case err != nil:
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), acct)))
		})
	}
}

// HandlerFunc creates an HTTP middleware that gates on plan (HandlerFunc version)
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

// RequestIDHeader carries the request id in and out
const RequestIDHeader = "X-Request-ID"

// RequestID tags every request with an id, reusing an inbound X-Request-ID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), RequestIDKey, id)))
	})
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// UserIDKey is the context key for user ID
	UserIDKey ContextKey = "upgrade:userID"

	// AccountKey is the context key for the gated account
	AccountKey ContextKey = "upgrade:account"

	// RequestIDKey is the context key for the request id
	RequestIDKey ContextKey = "upgrade:requestID"
)

// FromContext returns an UserIDExtractor that gets user ID from request context
func FromContext(key ContextKey) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// FromHeader returns an UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// WithUserID adds user ID to request context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithAccount adds the account to request context
func WithAccount(ctx context.Context, account *upgrade.UserAccount) context.Context {
	return context.WithValue(ctx, AccountKey, account)
}

// AccountFromContext returns the account stored by Middleware, or nil
func AccountFromContext(ctx context.Context) *upgrade.UserAccount {
	acct, _ := ctx.Value(AccountKey).(*upgrade.UserAccount)
	return acct
}

// RequestIDFromContext returns the id stored by RequestID, or ""
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
