package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const (
	schedulerEmail = "scheduler@tripdesk-prod.iam.gserviceaccount.com"
	googleIssuer   = "https://accounts.google.com"
	iapIssuer      = "https://cloud.google.com/iap"
)

type keyServer struct {
	key      *rsa.PrivateKey
	url      string
	requests atomic.Int32
}

func newKeyServer(t *testing.T, maxAge string) *keyServer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ks := &keyServer{key: key}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ks.requests.Add(1)
		if maxAge != "" {
			w.Header().Set("Cache-Control", "public, max-age="+maxAge)
		}
		set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &key.PublicKey,
			KeyID:     "scheduler-key",
			Algorithm: jwt.SigningMethodRS256.Alg(),
			Use:       "sig",
		}}}
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(server.Close)
	ks.url = server.URL
	return ks
}

func (ks *keyServer) sign(t *testing.T, now time.Time, mutate func(jwt.MapClaims)) string {
	t.Helper()
	claims := jwt.MapClaims{
		"aud":            "https://api.tripdesk.example/internal",
		"iss":            googleIssuer,
		"sub":            "1094",
		"email":          schedulerEmail,
		"email_verified": true,
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
	}
	if mutate != nil {
		mutate(claims)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "scheduler-key"
	signed, err := token.SignedString(ks.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func fixedJWTClock(t *testing.T) time.Time {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	original := jwt.TimeFunc
	jwt.TimeFunc = func() time.Time { return now }
	t.Cleanup(func() { jwt.TimeFunc = original })
	return now
}

func newValidator(ks *keyServer, now time.Time, allowed []string, logger *zap.Logger) *ServiceTokenValidator {
	keys := NewKeySet(ks.url, WithKeySetClock(func() time.Time { return now }))
	return NewServiceTokenValidator(keys, ServicePolicy{
		Audience:      "https://api.tripdesk.example/internal",
		Issuers:       []string{googleIssuer, iapIssuer},
		AllowedEmails: allowed,
	}, logger)
}

func callInternal(v *ServiceTokenValidator, header, token string) (*httptest.ResponseRecorder, *ServiceIdentity) {
	var seen *ServiceIdentity
	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ServiceIdentityFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))
	req := httptest.NewRequest(http.MethodPost, "/internal/counters/rebuild", nil)
	if token != "" {
		req.Header.Set(header, token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, seen
}

func TestServiceTokenAcceptsAllowedScheduler(t *testing.T) {
	now := fixedJWTClock(t)
	ks := newKeyServer(t, "600")
	v := newValidator(ks, now, []string{"Scheduler@tripdesk-prod.iam.gserviceaccount.com"}, nil)

	rr, identity := callInternal(v, "Authorization", "Bearer "+ks.sign(t, now, nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if identity == nil || identity.Email != schedulerEmail || identity.Subject != "1094" {
		t.Fatalf("unexpected identity %+v", identity)
	}
}

func TestServiceTokenAcceptsIAPAssertion(t *testing.T) {
	now := fixedJWTClock(t)
	ks := newKeyServer(t, "600")
	v := newValidator(ks, now, nil, nil)

	token := ks.sign(t, now, func(c jwt.MapClaims) { c["iss"] = iapIssuer })
	rr, _ := callInternal(v, iapAssertionHeader, token)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
}

func TestServiceTokenRejections(t *testing.T) {
	now := fixedJWTClock(t)
	ks := newKeyServer(t, "600")

	cases := []struct {
		name       string
		allowed    []string
		token      string
		wantStatus int
		wantReason string
	}{
		{name: "missing", wantStatus: http.StatusUnauthorized, wantReason: "token_missing"},
		{
			name:       "audience",
			token:      ks.sign(t, now, func(c jwt.MapClaims) { c["aud"] = "https://other.example" }),
			wantStatus: http.StatusUnauthorized,
			wantReason: "audience_mismatch",
		},
		{
			name:       "issuer",
			token:      ks.sign(t, now, func(c jwt.MapClaims) { c["iss"] = "https://evil.example" }),
			wantStatus: http.StatusUnauthorized,
			wantReason: "issuer_mismatch",
		},
		{
			name:       "expired",
			token:      ks.sign(t, now, func(c jwt.MapClaims) { c["exp"] = now.Add(-time.Minute).Unix() }),
			wantStatus: http.StatusUnauthorized,
			wantReason: "token_invalid",
		},
		{
			name:       "not allowlisted",
			allowed:    []string{"deployer@tripdesk-prod.iam.gserviceaccount.com"},
			token:      ks.sign(t, now, nil),
			wantStatus: http.StatusForbidden,
			wantReason: "caller_not_allowed",
		},
		{
			name:       "unverified email",
			allowed:    []string{schedulerEmail},
			token:      ks.sign(t, now, func(c jwt.MapClaims) { c["email_verified"] = false }),
			wantStatus: http.StatusForbidden,
			wantReason: "caller_not_allowed",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			core, logs := observer.New(zap.InfoLevel)
			v := newValidator(ks, now, tc.allowed, zap.New(core))

			token := tc.token
			if token != "" {
				token = "Bearer " + token
			}
			rr, _ := callInternal(v, "Authorization", token)
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rr.Code)
			}
			entries := logs.FilterMessage("auth: service token rejected").All()
			if len(entries) != 1 {
				t.Fatalf("expected one rejection log, got %d", len(entries))
			}
			if reason := entries[0].ContextMap()["reason"]; reason != tc.wantReason {
				t.Fatalf("expected reason %q, got %v", tc.wantReason, reason)
			}
		})
	}
}

func TestServiceTokenKeySetUnavailable(t *testing.T) {
	now := fixedJWTClock(t)
	ks := newKeyServer(t, "600")
	token := ks.sign(t, now, nil)

	keys := NewKeySet("http://127.0.0.1:1/certs", WithKeySetClock(func() time.Time { return now }))
	v := NewServiceTokenValidator(keys, ServicePolicy{Audience: "https://api.tripdesk.example/internal"}, nil)

	rr, _ := callInternal(v, "Authorization", "Bearer "+token)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestServiceTokenWithoutAudienceIsUnavailable(t *testing.T) {
	now := fixedJWTClock(t)
	ks := newKeyServer(t, "600")
	v := NewServiceTokenValidator(NewKeySet(ks.url), ServicePolicy{}, nil)

	rr, _ := callInternal(v, "Authorization", "Bearer "+ks.sign(t, now, nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestKeySetCachesUntilMaxAge(t *testing.T) {
	ks := newKeyServer(t, "60")
	now := time.Unix(1_700_000_000, 0)
	keys := NewKeySet(ks.url, WithKeySetClock(func() time.Time { return now }))
	ctx := context.Background()

	key, err := keys.Key(ctx, "scheduler-key")
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if _, ok := key.(*rsa.PublicKey); !ok {
		t.Fatalf("expected *rsa.PublicKey, got %T", key)
	}
	if _, err := keys.Key(ctx, "scheduler-key"); err != nil {
		t.Fatalf("cached Key: %v", err)
	}
	if got := ks.requests.Load(); got != 1 {
		t.Fatalf("expected 1 fetch before expiry, got %d", got)
	}

	if _, err := keys.Key(ctx, "rotated-key"); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
	if got := ks.requests.Load(); got != 1 {
		t.Fatalf("unknown kid within cool-down must not refetch, got %d fetches", got)
	}

	now = now.Add(61 * time.Second)
	if _, err := keys.Key(ctx, "scheduler-key"); err != nil {
		t.Fatalf("Key after expiry: %v", err)
	}
	if got := ks.requests.Load(); got != 2 {
		t.Fatalf("expected refetch after max-age, got %d fetches", got)
	}
}

func TestMaxAgeOf(t *testing.T) {
	if d, ok := maxAgeOf("public, max-age=22015, must-revalidate"); !ok || d != 22015*time.Second {
		t.Fatalf("unexpected %v %v", d, ok)
	}
	if _, ok := maxAgeOf("no-store"); ok {
		t.Fatalf("no-store has no max-age")
	}
}
