package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type manualClock struct{ now time.Time }

func (c *manualClock) Now() time.Time { return c.now }

func TestKeyedLimiterRefillsOverWindow(t *testing.T) {
	clock := &manualClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	limiter := newKeyedLimiter(2, time.Minute, clock.Now)

	ok, _ := limiter.allow("op-1")
	require.True(t, ok)
	ok, _ = limiter.allow("op-1")
	require.True(t, ok)
	ok, wait := limiter.allow("op-1")
	require.False(t, ok)
	require.InDelta(t, 30*time.Second, wait, float64(time.Second))

	ok, _ = limiter.allow("op-2")
	require.True(t, ok, "buckets are per key")

	clock.now = clock.now.Add(30 * time.Second)
	ok, _ = limiter.allow("op-1")
	require.True(t, ok)
}

func TestKeyedLimiterDisabled(t *testing.T) {
	require.Nil(t, newKeyedLimiter(0, time.Minute, nil))
	var limiter *keyedLimiter
	ok, wait := limiter.allow("anyone")
	require.True(t, ok)
	require.Zero(t, wait)
}

func TestClientRateLimitSeparatesAuthenticatedTier(t *testing.T) {
	clock := &manualClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	handler := ClientRateLimit(1, 2, clock.Now)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		req.RemoteAddr = "203.0.113.7:51000"
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusNoContent, send("").Code)
	limited := send("")
	require.Equal(t, http.StatusTooManyRequests, limited.Code)
	require.Equal(t, "60", limited.Header().Get("Retry-After"))
	require.Equal(t, "rate_limited", gjson.Get(limited.Body.String(), "error").String())

	require.Equal(t, http.StatusNoContent, send("tok").Code)
	require.Equal(t, http.StatusNoContent, send("tok").Code)
	require.Equal(t, http.StatusTooManyRequests, send("tok").Code)
}

func TestClientAddressStripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:443"
	require.Equal(t, "198.51.100.4", clientAddress(req))
	req.RemoteAddr = "unix"
	require.Equal(t, "unix", clientAddress(req))
}
