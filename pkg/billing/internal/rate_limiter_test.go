package internal

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRateLimiter_BurstThenRefuse(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !limiter.Allow("10.0.0.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if limiter.Allow("10.0.0.1") {
		t.Error("Expected fourth request to be refused")
	}
	if !limiter.Allow("10.0.0.2") {
		t.Error("Expected another client to have its own bucket")
	}
}

func TestRateLimiter_Refills(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(2, time.Second)
	limiter.now = func() time.Time { return now }

	limiter.Allow("ip")
	limiter.Allow("ip")
	if limiter.Allow("ip") {
		t.Fatal("Expected bucket to be empty")
	}

	now = now.Add(time.Second)
	if !limiter.Allow("ip") {
		t.Error("Expected bucket to refill after the window")
	}
}

func TestRateLimiter_EvictsIdleClients(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(10, time.Second)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 50; i++ {
		limiter.Allow("192.168.1." + strings.Repeat("1", i%5+1))
	}
	if limiter.Tracked() == 0 {
		t.Fatal("Expected tracked clients")
	}

	now = now.Add(5 * time.Second)
	limiter.Allow("10.0.0.1")
	if got := limiter.Tracked(); got != 1 {
		t.Errorf("Expected idle clients to be evicted, %d remain", got)
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req.RemoteAddr = "203.0.113.9:5555"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", rec.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:1234"
	if ip := GetClientIP(req); ip != "198.51.100.7" {
		t.Errorf("Expected RemoteAddr host, got %q", ip)
	}

	req.Header.Set("X-Forwarded-For", " 203.0.113.1 , 10.0.0.1")
	if ip := GetClientIP(req); ip != "203.0.113.1" {
		t.Errorf("Expected first forwarded hop, got %q", ip)
	}
}

func TestReadBodyStrict(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("a", 20)))
	if _, err := ReadBodyStrict(httptest.NewRecorder(), req, 10); err == nil || !strings.Contains(err.Error(), "payload too large") {
		t.Errorf("Expected payload too large, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if _, err := ReadBodyStrict(httptest.NewRecorder(), req, 10); err != ErrEmptyBody {
		t.Errorf("Expected ErrEmptyBody, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{}"))
	body, err := ReadBodyStrict(httptest.NewRecorder(), req, 10)
	if err != nil || string(body) != "{}" {
		t.Errorf("Expected body, got %q, %v", body, err)
	}
}
