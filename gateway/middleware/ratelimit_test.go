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
		"invoices": {RatePerSecond: 1, Burst: 1},
	}, nil)

	handler := limiter.Middleware("invoices")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/invoices", nil)
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
	if res.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After 1, got %q", res.Header().Get("Retry-After"))
	}
}

func TestRateLimiterSeparatesRoutes(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"invoices": {RatePerSecond: 1, Burst: 1},
		"track":    {RatePerSecond: 1, Burst: 1},
	}, nil)

	invoices := limiter.Middleware("invoices")(okHandler())
	track := limiter.Middleware("track")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/invoices", nil)
	req.Header.Set("X-API-Key", "tenant-A")
	res := httptest.NewRecorder()
	invoices.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected invoice request to succeed, got %d", res.Code)
	}

	trackReq := httptest.NewRequest(http.MethodGet, "/v1/track", nil)
	trackReq.Header.Set("X-API-Key", "tenant-A")
	trackRes := httptest.NewRecorder()
	track.ServeHTTP(trackRes, trackReq)
	if trackRes.Code != http.StatusOK {
		t.Fatalf("expected first track request to succeed, got %d", trackRes.Code)
	}

	trackRes = httptest.NewRecorder()
	track.ServeHTTP(trackRes, trackReq)
	if trackRes.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second track request to hit limit, got %d", trackRes.Code)
	}
}

func TestRateLimiterPrefersAPIKeyOverIP(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"track": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("track")(okHandler())

	for _, tenant := range []string{"tenant-A", "tenant-B"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/track", nil)
		req.Header.Set("X-API-Key", tenant)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("expected %s request to succeed, got %d", tenant, res.Code)
		}
	}
}

func TestRateLimiterUnknownRoutePassesThrough(t *testing.T) {
	limiter := NewRateLimiter(nil, nil)
	handler := limiter.Middleware("ledger")(okHandler())
	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/ledger", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("request %d: got %d", i, res.Code)
		}
	}
}

func TestRateLimiterSweepsIdleClients(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"lookup": {RequestsPerMinute: 30, Burst: 5},
	}, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	handler := limiter.Middleware("lookup")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/resolve", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if limiter.size() != 1 {
		t.Fatalf("expected one bucket, got %d", limiter.size())
	}

	now = now.Add(10 * time.Minute)
	other := httptest.NewRequest(http.MethodGet, "/v1/resolve", nil)
	other.RemoteAddr = "198.51.100.4:5555"
	handler.ServeHTTP(httptest.NewRecorder(), other)
	if limiter.size() != 1 {
		t.Fatalf("expected idle bucket to be swept, got %d", limiter.size())
	}
}

func TestClientID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if got := clientID(req); got != "192.0.2.1" {
		t.Fatalf("remote addr: got %q", got)
	}
	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	if got := clientID(req); got != "203.0.113.9" {
		t.Fatalf("forwarded: got %q", got)
	}
	req.Header.Set("X-Real-IP", "198.51.100.7")
	if got := clientID(req); got != "198.51.100.7" {
		t.Fatalf("real ip: got %q", got)
	}
}
