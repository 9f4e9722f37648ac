package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"auth": {RatePerSecond: 1, Burst: 1},
	})
	handler := limiter.Middleware("auth")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/token", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
	if res.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestRateLimiterSeparatesRouteClasses(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"public": {RatePerSecond: 1, Burst: 1},
		"auth":   {RatePerSecond: 1, Burst: 1},
	})
	public := limiter.Middleware("public")(okHandler())
	auth := limiter.Middleware("auth")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/tokens", nil)
	res := httptest.NewRecorder()
	public.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected public request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	auth.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/token", nil))
	if res.Code != http.StatusOK {
		t.Fatalf("expected auth bucket to be independent, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesClients(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"public": {RatePerSecond: 1, Burst: 1},
	})
	handler := limiter.Middleware("public")(okHandler())

	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		req := httptest.NewRequest(http.MethodGet, "/tokens", nil)
		req.Header.Set("X-Forwarded-For", ip+", 192.168.0.1")
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("expected client %s to have its own bucket, got %d", ip, res.Code)
		}
	}
}

func TestRateLimiterUnknownKeyPassesThrough(t *testing.T) {
	limiter := NewRateLimiter(nil)
	handler := limiter.Middleware("jobs")(okHandler())
	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("expected unlimited route to pass, got %d", res.Code)
		}
	}
}

func TestRateLimiterSweepsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{"public": {RatePerSecond: 1, Burst: 1}})
	now := time.Unix(1700000000, 0)
	limiter.clockNow = func() time.Time { return now }

	limiter.obtainLimiter("public|a", limiter.limits["public"])
	now = now.Add(10 * time.Minute)
	limiter.obtainLimiter("public|b", limiter.limits["public"])

	if _, ok := limiter.visitors["public|a"]; ok {
		t.Fatalf("expected idle visitor to be swept")
	}
	if _, ok := limiter.visitors["public|b"]; !ok {
		t.Fatalf("expected active visitor to remain")
	}
}
