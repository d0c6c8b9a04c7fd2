package inboundlimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"feedpoller/pkg/ratelimit"
)

func testConfig() *ratelimit.RateLimitConfig {
	return &ratelimit.RateLimitConfig{
		Enabled:                        true,
		DefaultIPLimit:                 2,
		DefaultIPWindow:                time.Minute,
		MaxActiveKeys:                  100,
		CircuitBreakerFailureThreshold: 5,
		CircuitBreakerResetTimeout:     time.Second,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareAllowsWithinLimit(t *testing.T) {
	limiter := New(testConfig(), nil, nil)
	handler := limiter.Middleware(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
}

func TestMiddlewareDeniesOverLimit(t *testing.T) {
	limiter := New(testConfig(), nil, nil)
	handler := limiter.Middleware(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.2:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.2:12345"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 once over limit, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on denial")
	}
}

func TestMiddlewareTracksKeysIndependently(t *testing.T) {
	limiter := New(testConfig(), nil, nil)
	handler := limiter.Middleware(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.0.0.3:12345"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.4:9999"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected a different client IP to have its own budget, got %d", rec.Code)
	}
}

func TestMiddlewarePassesThroughWhenDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	cfg.DefaultIPLimit = 0
	limiter := New(cfg, nil, nil)
	handler := limiter.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.5:1"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected disabled limiter to pass every request through, got %d", rec.Code)
	}
}

func TestClientIPFallsBackToRemoteAddrWithoutPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "no-port-here"

	if got := clientIP(req); got != "no-port-here" {
		t.Errorf("expected raw RemoteAddr fallback, got %q", got)
	}
}
