package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter_PerKeyBurst(t *testing.T) {
	rl := NewRateLimiter(3)
	defer rl.Close()
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return fixed }

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("expected request %d to be allowed", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("expected fourth request to be limited")
	}
	if !rl.Allow("10.0.0.2") {
		t.Fatal("expected other keys to have their own bucket")
	}

	fixed = fixed.Add(20 * time.Second)
	if !rl.Allow("10.0.0.1") {
		t.Fatal("expected a token to be refilled after 20s")
	}
}

func TestRateLimiter_EvictsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1)
	defer rl.Close()
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return fixed }

	rl.Allow("a")
	fixed = fixed.Add(idleBucketTTL + time.Second)
	rl.evictIdle()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.buckets["a"]; ok {
		t.Fatal("expected idle bucket to be evicted")
	}
}

func TestMiddleware_Returns429(t *testing.T) {
	rl := NewRateLimiter(1)
	defer rl.Close()
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/veriff", nil)
		req.RemoteAddr = "192.0.2.1:4321"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected [200 429], got %v", codes)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded for", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, "10.0.0.9:80", "203.0.113.5"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.7"}, "10.0.0.9:80", "198.51.100.7"},
		{"remote addr", nil, "192.0.2.10:5555", "192.0.2.10"},
		{"remote without port", nil, "192.0.2.10", "192.0.2.10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
