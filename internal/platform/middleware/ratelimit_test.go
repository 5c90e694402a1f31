package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// hit runs one request through h as the given tenant and client address.
func hit(h echo.HandlerFunc, tenant, ip string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/queue/tokens", nil)
	req.Header.Set(echo.HeaderXRealIP, ip)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	if tenant != "" {
		c.Set("jwt_tenant_id", tenant)
	}
	return rec, h(c)
}

func limited(cfg RateLimitConfig) echo.HandlerFunc {
	return RateLimit(cfg)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
}

func TestRateLimit_BurstThenReject(t *testing.T) {
	h := limited(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 3})

	for i := 0; i < 3; i++ {
		rec, err := hit(h, "", "10.0.0.1")
		if err != nil || rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d (%v)", i+1, rec.Code, err)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "1" {
			t.Errorf("request %d: expected X-RateLimit-Limit 1, got %q", i+1, got)
		}
	}

	rec, err := hit(h, "", "10.0.0.1")
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
	ra, convErr := strconv.Atoi(rec.Header().Get("Retry-After"))
	if convErr != nil || ra < 1 {
		t.Errorf("expected a positive Retry-After, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestRateLimit_SeparateBuckets(t *testing.T) {
	h := limited(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	if _, err := hit(h, "city_general", "10.0.0.1"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := hit(h, "city_general", "10.0.0.1"); err == nil {
		t.Fatal("expected the same tenant and address to be limited")
	}
	// Same address, other hospital.
	if _, err := hit(h, "rural_clinic", "10.0.0.1"); err != nil {
		t.Errorf("expected a separate bucket per tenant, got %v", err)
	}
	// Same hospital, other reception desk.
	if _, err := hit(h, "city_general", "10.0.0.2"); err != nil {
		t.Errorf("expected a separate bucket per address, got %v", err)
	}
}

func TestRateLimit_DefaultConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 100 {
		t.Errorf("expected RequestsPerSecond 100, got %f", cfg.RequestsPerSecond)
	}
	if cfg.BurstSize != 200 {
		t.Errorf("expected BurstSize 200, got %d", cfg.BurstSize)
	}
	if cfg.MaxKeys != 10000 {
		t.Errorf("expected MaxKeys 10000, got %d", cfg.MaxKeys)
	}
}

func TestRetryAfter_ZeroRate(t *testing.T) {
	l := rate.NewLimiter(0, 1)
	now := time.Now()
	l.AllowN(now, 1)
	if ra := retryAfter(l, now); ra != 1 {
		t.Errorf("expected retryAfter 1 for zero rate, got %d", ra)
	}
}

func TestRetryAfter_SlowRefill(t *testing.T) {
	l := rate.NewLimiter(0.25, 1)
	now := time.Now()
	l.AllowN(now, 1)
	if ra := retryAfter(l, now); ra != 4 {
		t.Errorf("expected retryAfter 4 at 0.25 rps, got %d", ra)
	}
}

func TestLimiterStore_ReusesLimiter(t *testing.T) {
	store := newLimiterStore(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})

	l1 := store.get("key1")
	if l1 == nil {
		t.Fatal("expected non-nil limiter")
	}
	if l2 := store.get("key1"); l1 != l2 {
		t.Error("expected same limiter for same key")
	}
	if l3 := store.get("key2"); l1 == l3 {
		t.Error("expected different limiter for different key")
	}
}

func TestLimiterStore_BoundedKeys(t *testing.T) {
	store := newLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, MaxKeys: 2})
	store.get("a")
	store.get("b")
	store.get("c")
	if n := store.limiters.Len(); n != 2 {
		t.Errorf("expected 2 tracked keys, got %d", n)
	}
}
