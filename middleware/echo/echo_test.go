package echo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

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

func newTestServer(cfg Config) *echo.Echo {
	e := echo.New()
	e.Use(Middleware(cfg))
	e.GET("/api/pro", func(c echo.Context) error {
		return c.String(http.StatusOK, string(Account(c).Plan))
	})
	return e
}

func serve(e *echo.Echo, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/pro", http.NoBody)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_Success(t *testing.T) {
	e := newTestServer(Config{Accounts: setupTestStore(t), GetUserID: FromHeader("X-User-ID")})

	rec := serve(e, "pro-user")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "pro" {
		t.Errorf("Expected 'pro', got %s", rec.Body.String())
	}
}

func TestMiddleware_PlanRequired(t *testing.T) {
	e := newTestServer(Config{Accounts: setupTestStore(t), GetUserID: FromHeader("X-User-ID")})

	for _, userID := range []string{"std-user", "unknown"} {
		if rec := serve(e, userID); rec.Code != http.StatusPaymentRequired {
			t.Errorf("%s: expected status 402, got %d", userID, rec.Code)
		}
	}
}

func TestMiddleware_Unauthorized(t *testing.T) {
	e := newTestServer(Config{Accounts: setupTestStore(t), GetUserID: FromHeader("X-User-ID")})

	if rec := serve(e, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rec.Code)
	}
}

func TestMiddleware_Error(t *testing.T) {
	var captured error
	e := newTestServer(Config{
		Accounts:  failingReader{},
		GetUserID: FromHeader("X-User-ID"),
		OnError: func(c echo.Context, err error) error {
			captured = err
			return c.NoContent(http.StatusServiceUnavailable)
		},
	})

	rec := serve(e, "pro-user")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", rec.Code)
	}
	if captured == nil {
		t.Error("Expected OnError to receive the storage error")
	}
}

func TestMiddleware_FromContext(t *testing.T) {
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("UserID", "pro-user")
			return next(c)
		}
	})
	e.Use(Middleware(Config{Accounts: setupTestStore(t), GetUserID: FromContext("UserID")}))
	e.GET("/api/pro", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	if rec := serve(e, ""); rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
}
