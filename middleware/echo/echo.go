// Package echo provides Echo middleware for plan gating
package echo

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/goupgrade/pkg/upgrade"
)

// AccountKey is the Echo context key the gated account is stored under
const AccountKey = "upgrade:account"

// UserIDExtractor extracts the user ID from an Echo context
// Return empty string if user is not authenticated
type UserIDExtractor func(c echo.Context) string

// Config holds middleware configuration
type Config struct {
	// Accounts reads user accounts (required)
	Accounts upgrade.AccountReader

	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// Plan is the plan the route requires
	// Default: PlanPro
	Plan upgrade.Plan

	Clock upgrade.Clock

	// OnPlanRequired is called when the effective plan does not cover Plan
	// If nil, returns 402 JSON with the current plan
	OnPlanRequired func(c echo.Context, account *upgrade.UserAccount) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that admits only users whose
// effective plan covers cfg.Plan
func Middleware(cfg Config) echo.MiddlewareFunc {
	if cfg.Accounts == nil {
		panic("goupgrade/echo: Config.Accounts is required")
	}
	if cfg.GetUserID == nil {
		panic("goupgrade/echo: Config.GetUserID is required")
	}
	if cfg.Plan == "" {
		cfg.Plan = upgrade.PlanPro
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return defaultUnauthorized(c)
			}

			acct, err := upgrade.CheckPlan(c.Request().Context(), cfg.Accounts, userID, cfg.Plan, cfg.Clock())
			if errors.Is(err, upgrade.ErrPlanRequired) {
				if cfg.OnPlanRequired != nil {
					return cfg.OnPlanRequired(c, acct)
				}
				return defaultPlanRequired(c, acct, cfg.Plan)
			}
			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return defaultError(c, err)
			}

			c.Set(AccountKey, acct)
			return next(c)
		}
	}
}

// Account returns the account stored by Middleware, or nil
func Account(c echo.Context) *upgrade.UserAccount {
	acct, _ := c.Get(AccountKey).(*upgrade.UserAccount)
	return acct
}

// Default error handlers

func defaultUnauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
}

func defaultPlanRequired(c echo.Context, acct *upgrade.UserAccount, required upgrade.Plan) error {
	return c.JSON(http.StatusPaymentRequired, map[string]interface{}{
		"error":    "Plan required",
		"required": required,
		"plan":     acct.Plan,
	})
}

func defaultError(c echo.Context, _ error) error {
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Echo context values
// set by auth middleware via c.Set("UserID", "...").
func FromContext(key string) UserIDExtractor {
	return func(c echo.Context) string {
		if str, ok := c.Get(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Param(paramName)
	}
}
