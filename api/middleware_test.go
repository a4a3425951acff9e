package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_PerClientBuckets(t *testing.T) {
	limited := 0
	rl := NewRateLimiter(1, 2, func() { limited++ })
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	// burst of 2, then empty
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))

	// other clients are independent
	assert.True(t, rl.Allow("10.0.0.2"))

	// one token per second refills
	now = now.Add(time.Second)
	assert.True(t, rl.Allow("10.0.0.1"))

	// idle buckets are swept
	now = now.Add(10 * time.Minute)
	rl.Allow("10.0.0.3")
	rl.mu.Lock()
	assert.Len(t, rl.buckets, 1)
	rl.mu.Unlock()
	assert.Equal(t, 0, limited)
}

func TestRateLimiter_Middleware(t *testing.T) {
	limited := 0
	rl := NewRateLimiter(1, 1, func() { limited++ })
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(forwardedFor string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.9:5000"
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	// a rotating X-Forwarded-For does not buy a fresh bucket
	assert.Equal(t, http.StatusNoContent, send("203.0.113.7"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.8"))
	assert.Equal(t, 1, limited)
}

func TestRouter_RateLimitKeysOnProxyOnlyWhenTrusted(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		second     int
	}{
		{"untrusted headers share one bucket", false, http.StatusTooManyRequests},
		{"trusted proxy separates clients", true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestServer(t)
			router := NewRouter(s.handler, RouterOptions{
				RateRPS:    0.001,
				RateBurst:  1,
				TrustProxy: tt.trustProxy,
				Logger:     zerolog.Nop(),
			})
			send := func(forwardedFor string) int {
				req := httptest.NewRequest(http.MethodGet, "/api/rewards/catalog", nil)
				req.RemoteAddr = "10.0.0.1:5000"
				req.Header.Set("X-Forwarded-For", forwardedFor)
				rec := httptest.NewRecorder()
				router.ServeHTTP(rec, req)
				return rec.Code
			}

			assert.Equal(t, http.StatusOK, send("203.0.113.7"))
			assert.Equal(t, tt.second, send("203.0.113.8"))
		})
	}
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	h := middleware.RequestID(AccessLog(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"path":"/api/x"`)
	assert.Contains(t, buf.String(), `"request_id":"`)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:4321"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	assert.Equal(t, "192.0.2.1", clientIP(req))
}
