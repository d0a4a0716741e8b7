package gin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gongin "github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/goupgrade/pkg/upgrade"
	"github.com/mihaimyh/goupgrade/storage/memory"
)

func setupRouter(t *testing.T, cfg Config) *gongin.Engine {
	t.Helper()
	gongin.SetMode(gongin.TestMode)

	if cfg.Accounts == nil {
		store := memory.New()
		expiry := time.Now().Add(time.Hour)
		pro := upgrade.NewAccount("pro-user")
		pro.Plan, pro.PlanExpiry = upgrade.PlanPro, &expiry
		require.NoError(t, store.CompareAndSwap(context.Background(), "pro-user", 0, pro))
		require.NoError(t, store.CompareAndSwap(context.Background(), "std-user", 0, upgrade.NewAccount("std-user")))
		cfg.Accounts = store
	}
	if cfg.GetUserID == nil {
		cfg.GetUserID = FromHeader("X-User-ID")
	}

	r := gongin.New()
	r.Use(Middleware(cfg))
	r.GET("/pro", func(c *gongin.Context) {
		c.String(http.StatusOK, string(Account(c).Plan))
	})
	return r
}

func doGet(r http.Handler, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/pro", http.NoBody)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware(t *testing.T) {
	r := setupRouter(t, Config{})

	w := doGet(r, "pro-user")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pro", w.Body.String())

	assert.Equal(t, http.StatusPaymentRequired, doGet(r, "std-user").Code)
	assert.Equal(t, http.StatusPaymentRequired, doGet(r, "ghost").Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(r, "").Code)
}

func TestMiddleware_CustomPlanRequired(t *testing.T) {
	r := setupRouter(t, Config{
		OnPlanRequired: func(c *gongin.Context, account *upgrade.UserAccount) {
			c.JSON(http.StatusForbidden, gongin.H{"upgrade": account.ID})
		},
	})

	w := doGet(r, "std-user")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"upgrade":"std-user"}`, w.Body.String())
}

func TestMiddleware_PanicsWithoutExtractor(t *testing.T) {
	assert.Panics(t, func() { Middleware(Config{Accounts: memory.New()}) })
}
