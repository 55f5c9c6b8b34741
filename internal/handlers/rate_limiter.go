package handlers

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tripdesk/api/internal/platform/httpx"
)

// keyedLimiter keeps one token bucket per operator. A bucket holds limit tokens and refills
// completely over window. Idle buckets are dropped once they would be full again.
type keyedLimiter struct {
	limit  int
	every  rate.Limit
	window time.Duration
	clock  func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastPrune time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newKeyedLimiter(limit int, window time.Duration, clock func() time.Time) *keyedLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &keyedLimiter{
		limit:   limit,
		every:   rate.Limit(float64(limit) / window.Seconds()),
		window:  window,
		clock:   clock,
		buckets: make(map[string]*bucket),
	}
}

// allow consumes a token for key. When none is left it reports how long until one is.
func (l *keyedLimiter) allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPrune) >= l.window {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) >= l.window {
				delete(l.buckets, k)
			}
		}
		l.lastPrune = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.every, l.limit)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	if b.limiter.AllowN(now, 1) {
		return true, 0
	}
	missing := 1 - b.limiter.TokensAt(now)
	return false, time.Duration(missing / float64(l.every) * float64(time.Second))
}

func writeRateLimited(w http.ResponseWriter, r *http.Request, wait time.Duration, message string) {
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", message, http.StatusTooManyRequests))
}

// ClientRateLimit throttles requests per client address over one minute windows. Requests that
// carry a bearer token draw from the authenticated allowance. A non-positive limit disables that
// tier.
func ClientRateLimit(perMinute, authenticatedPerMinute int, clock func() time.Time) func(http.Handler) http.Handler {
	anonymous := newKeyedLimiter(perMinute, time.Minute, clock)
	authenticated := newKeyedLimiter(authenticatedPerMinute, time.Minute, clock)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := anonymous
			if strings.HasPrefix(strings.ToLower(r.Header.Get("Authorization")), "bearer ") {
				limiter = authenticated
			}
			if ok, wait := limiter.allow(clientAddress(r)); !ok {
				writeRateLimited(w, r, wait, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
