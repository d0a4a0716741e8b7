// Package gin provides Gin middleware for plan gating
package gin

import (
	"errors"
	"net/http"
	"time"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/goupgrade/pkg/upgrade"
)

// AccountKey is the Gin context key the gated account is stored under
const AccountKey = "upgrade:account"

// UserIDExtractor extracts the user ID from a Gin context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *gongin.Context) string

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
	OnPlanRequired func(c *gongin.Context, account *upgrade.UserAccount)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that admits only users whose effective
// plan covers cfg.Plan
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Accounts == nil {
		panic("goupgrade/gin: Config.Accounts is required")
	}
	if cfg.GetUserID == nil {
		panic("goupgrade/gin: Config.GetUserID is required")
	}

	if cfg.Plan == "" {
		cfg.Plan = upgrade.PlanPro
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "Unauthorized"})
			}
			c.Abort()
			return
		}

		acct, err := upgrade.CheckPlan(c.Request.Context(), cfg.Accounts, userID, cfg.Plan, cfg.Clock())
		if errors.Is(err, upgrade.ErrPlanRequired) {
			if cfg.OnPlanRequired != nil {
				cfg.OnPlanRequired(c, acct)
			} else {
				c.JSON(http.StatusPaymentRequired, gongin.H{
					"error":    "Plan required",
					"required": cfg.Plan,
					"plan":     acct.Plan,
				})
			}
			c.Abort()
			return
		}
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.JSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
			}
			c.Abort()
			return
		}

		c.Set(AccountKey, acct)
		c.Next()
	}
}

// Account returns the account stored by Middleware, or nil
func Account(c *gongin.Context) *upgrade.UserAccount {
	if val, exists := c.Get(AccountKey); exists {
		if acct, ok := val.(*upgrade.UserAccount); ok {
			return acct
		}
	}
	return nil
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Gin context values
// set by auth middleware via c.Set("UserID", "...").
func FromContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetString(key)
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.Param(paramName)
	}
}
