// Package fiber provides Fiber middleware for plan gating
package fiber

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/goupgrade/pkg/upgrade"
)

// AccountKey is the Fiber locals key the gated account is stored under
const AccountKey = "upgrade:account"

// UserIDExtractor extracts the user ID from a Fiber context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *fiber.Ctx) string

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
	OnPlanRequired func(c *fiber.Ctx, account *upgrade.UserAccount) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that admits only users whose
// effective plan covers cfg.Plan
func Middleware(cfg Config) fiber.Handler {
	if cfg.Accounts == nil {
		panic("goupgrade/fiber: Config.Accounts is required")
	}
	if cfg.GetUserID == nil {
		panic("goupgrade/fiber: Config.GetUserID is required")
	}
	if cfg.Plan == "" {
		cfg.Plan = upgrade.PlanPro
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}

	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return defaultUnauthorized(c)
		}

		acct, err := upgrade.CheckPlan(c.UserContext(), cfg.Accounts, userID, cfg.Plan, cfg.Clock())
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

		c.Locals(AccountKey, acct)
		return c.Next()
	}
}

// Account returns the account stored by Middleware, or nil
func Account(c *fiber.Ctx) *upgrade.UserAccount {
	acct, _ := c.Locals(AccountKey).(*upgrade.UserAccount)
	return acct
}

// Default error handlers

func defaultUnauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
}

func defaultPlanRequired(c *fiber.Ctx, acct *upgrade.UserAccount, required upgrade.Plan) error {
	return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
		"error":    "Plan required",
		"required": required,
		"plan":     acct.Plan,
	})
}

func defaultError(c *fiber.Ctx, _ error) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
}

// Convenience extractors for User ID

// FromLocals returns a UserIDExtractor that gets user ID from Fiber locals
// set by auth middleware via c.Locals("UserID", "...").
func FromLocals(key string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		if str, ok := c.Locals(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Params(paramName)
	}
}
