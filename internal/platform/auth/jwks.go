package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"go.uber.org/zap"
)

var (
	// ErrUnknownKey is returned when the key set has no key for the token's kid.
	ErrUnknownKey = errors.New("auth: signing key not found")
	// ErrKeySetUnavailable wraps failures to download or decode the key set.
	ErrKeySetUnavailable = errors.New("auth: key set unavailable")
)

const (
	defaultKeySetTTL      = 15 * time.Minute
	defaultKeySetTimeout  = 5 * time.Second
	unknownKidRefetchWait = 30 * time.Second
)

// KeySet caches the JSON Web Keys published at a JWKS URL. Keys are refetched when the
// Cache-Control max-age lapses, or when an unseen kid shows up after a short cool-down.
type KeySet struct {
	url     string
	client  *http.Client
	logger  *zap.Logger
	now     func() time.Time
	ttl     time.Duration
	timeout time.Duration

	mu        sync.Mutex
	keys      map[string]jose.JSONWebKey
	expires   time.Time
	fetchedAt time.Time
}

// KeySetOption configures a KeySet.
type KeySetOption func(*KeySet)

// WithKeySetHTTPClient replaces the HTTP client.
func WithKeySetHTTPClient(client *http.Client) KeySetOption {
	return func(k *KeySet) {
		if client != nil {
			k.client = client
		}
	}
}

// WithKeySetLogger sets the logger.
func WithKeySetLogger(logger *zap.Logger) KeySetOption {
	return func(k *KeySet) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// WithKeySetTTL is used when the response carries no max-age.
func WithKeySetTTL(d time.Duration) KeySetOption {
	return func(k *KeySet) {
		if d > 0 {
			k.ttl = d
		}
	}
}

// WithKeySetClock replaces time.Now.
func WithKeySetClock(now func() time.Time) KeySetOption {
	return func(k *KeySet) {
		if now != nil {
			k.now = now
		}
	}
}

// NewKeySet returns a lazily populated KeySet for url.
func NewKeySet(url string, opts ...KeySetOption) *KeySet {
	k := &KeySet{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  zap.NewNop(),
		now:     time.Now,
		ttl:     defaultKeySetTTL,
		timeout: defaultKeySetTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	return k
}

// Key returns the public key for kid.
func (k *KeySet) Key(ctx context.Context, kid string) (any, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	stale := len(k.keys) == 0 || !now.Before(k.expires)
	if !stale {
		if jwk, ok := k.keys[kid]; ok {
			return jwk.Key, nil
		}
		if now.Sub(k.fetchedAt) < unknownKidRefetchWait {
			return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
		}
	}
	if err := k.fetch(ctx); err != nil {
		return nil, err
	}
	if jwk, ok := k.keys[kid]; ok {
		return jwk.Key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
}

// fetch runs with k.mu held.
func (k *KeySet) fetch(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrKeySetUnavailable, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrKeySetUnavailable, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() && jwk.IsPublic() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: no usable keys", ErrKeySetUnavailable)
	}

	ttl := k.ttl
	if maxAge, ok := maxAgeOf(resp.Header.Get("Cache-Control")); ok {
		ttl = maxAge
	}
	k.keys = keys
	k.fetchedAt = k.now()
	k.expires = k.fetchedAt.Add(ttl)
	k.logger.Debug("auth: key set refreshed", zap.Int("keys", len(keys)), zap.Duration("ttl", ttl))
	return nil
}

func maxAgeOf(cacheControl string) (time.Duration, bool) {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		seconds, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	return 0, false
}
