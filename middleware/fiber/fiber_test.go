package fiber

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/goupgrade/pkg/upgrade"
	"github.com/mihaimyh/goupgrade/storage/memory"
)

type failingReader struct{}

func (failingReader) GetAccount(context.Context, string) (*upgrade.UserAccount, error) {
	return nil, errors.New("connection refused")
}

// Test helper to create a store with one pro and one standard user
func setupTestStore(t *testing.T) *memory.Storage {
	t.Helper()

	store := memory.New()
	ctx := context.Background()
	expiry := time.Now().UTC().Add(time.Hour)
	pro := upgrade.NewAccount("pro-user")
	pro.Plan = upgrade.PlanPro
	pro.PlanExpiry = &expiry
	if err := store.CompareAndSwap(ctx, "pro-user", 0, pro); err != nil {
		t.Fatalf("Failed to seed account: %v", err)
	}
	if err := store.CompareAndSwap(ctx, "std-user", 0, upgrade.NewAccount("std-user")); err != nil {
		t.Fatalf("Failed to seed account: %v", err)
	}
	return store
}

func newTestApp(cfg Config) *fiber.App {
	app := fiber.New()
	app.Use(Middleware(cfg))
	app.Get("/api/pro", func(c *fiber.Ctx) error {
		return c.SendString(string(Account(c).Plan))
	})
	return app
}

func get(t *testing.T, app *fiber.App, userID string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/pro", http.NoBody)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to execute request: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestMiddleware_Success(t *testing.T) {
	app := newTestApp(Config{Accounts: setupTestStore(t), GetUserID: FromHeader("X-User-ID")})

	status, body := get(t, app, "pro-user")
	if status != http.StatusOK {
		t.Errorf("Expected status 200, got %d", status)
	}
	if body != "pro" {
		t.Errorf("Expected 'pro', got %s", body)
	}
}

func TestMiddleware_PlanRequired(t *testing.T) {
	app := newTestApp(Config{Accounts: setupTestStore(t), GetUserID: FromHeader("X-User-ID")})

	for _, userID := range []string{"std-user", "unknown"} {
		if status, _ := get(t, app, userID); status != http.StatusPaymentRequired {
			t.Errorf("%s: expected status 402, got %d", userID, status)
		}
	}
}

func TestMiddleware_Unauthorized(t *testing.T) {
	app := newTestApp(Config{Accounts: setupTestStore(t), GetUserID: FromHeader("X-User-ID")})

	if status, _ := get(t, app, ""); status != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", status)
	}
}

func TestMiddleware_StorageError(t *testing.T) {
	app := newTestApp(Config{Accounts: failingReader{}, GetUserID: FromHeader("X-User-ID")})

	if status, _ := get(t, app, "pro-user"); status != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", status)
	}
}

func TestMiddleware_CustomPlanRequired(t *testing.T) {
	app := newTestApp(Config{
		Accounts:  setupTestStore(t),
		GetUserID: FromHeader("X-User-ID"),
		Plan:      upgrade.PlanPro,
		OnPlanRequired: func(c *fiber.Ctx, account *upgrade.UserAccount) error {
			return c.Status(fiber.StatusForbidden).SendString(string(account.Plan))
		},
	})

	status, body := get(t, app, "std-user")
	if status != http.StatusForbidden || body != "standard" {
		t.Errorf("Expected 403 standard, got %d %s", status, body)
	}
}
