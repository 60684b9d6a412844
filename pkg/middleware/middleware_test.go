package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nakliyeci/carrier-jobs/pkg/logger"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		trust      bool
		header     string
		remoteAddr string
		want       string
	}{
		{"forwarded trusted", true, "203.0.113.1, 198.51.100.2", "198.51.100.10:1234", "203.0.113.1"},
		{"forwarded ignored", false, "203.0.113.1", "198.51.100.10:1234", "198.51.100.10"},
		{"invalid forwarded", true, "garbage", "198.51.100.10:1234", "198.51.100.10"},
		{"remote without port", true, "", "203.0.113.9", "203.0.113.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &RateLimiterMiddleware{trustForwardedFor: tt.trust}
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.header != "" {
				req.Header.Set("X-Forwarded-For", tt.header)
			}
			if got := m.clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimiterRejectsBurst(t *testing.T) {
	m := NewRateLimiterMiddleware(&RateLimiterConfig{
		GlobalMaxTokens:  100,
		GlobalRefillRate: 100,
		IPMaxTokens:      1,
		IPRefillRate:     0.001,
	}, logger.NewNopLogger())
	defer m.Stop()

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	if first.Code != http.StatusNoContent {
		t.Fatalf("first request status = %d", first.Code)
	}

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestRequestIDGeneratedAndPropagated(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rec.Header().Get("X-Request-ID") != seen {
		t.Fatalf("generated id not propagated: ctx=%q header=%q", seen, rec.Header().Get("X-Request-ID"))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "abc" {
		t.Errorf("incoming id = %q, want abc", seen)
	}
}
