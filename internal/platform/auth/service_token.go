package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const iapAssertionHeader = "X-Goog-Iap-Jwt-Assertion"

// ServicePolicy lists what a Google-signed token must carry to reach internal routes.
type ServicePolicy struct {
	Audience string
	Issuers  []string
	// AllowedEmails restricts callers to these service accounts. Empty admits any verified caller.
	AllowedEmails []string
}

// ServiceTokenValidator verifies Google OIDC and IAP tokens sent by Cloud Scheduler and
// other service accounts.
type ServiceTokenValidator struct {
	keys   *KeySet
	policy ServicePolicy
	logger *zap.Logger
}

type serviceClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// NewServiceTokenValidator returns a validator enforcing policy.
func NewServiceTokenValidator(keys *KeySet, policy ServicePolicy, logger *zap.Logger) *ServiceTokenValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy.Audience = strings.TrimSpace(policy.Audience)
	policy.Issuers = lo.Compact(lo.Map(policy.Issuers, func(s string, _ int) string { return strings.TrimSpace(s) }))
	policy.AllowedEmails = lo.Compact(lo.Map(policy.AllowedEmails, func(s string, _ int) string {
		return strings.ToLower(strings.TrimSpace(s))
	}))
	return &ServiceTokenValidator{keys: keys, policy: policy, logger: logger}
}

// Middleware rejects requests whose token fails the policy and stores the ServiceIdentity otherwise.
func (v *ServiceTokenValidator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		identity, reason, err := v.verify(ctx, r)
		if err != nil {
			v.logger.Info("auth: service token rejected", zap.String("reason", reason), zap.Error(err))
			status, code := http.StatusUnauthorized, "invalid_token"
			switch reason {
			case "token_missing":
				code = "unauthenticated"
			case "audience_not_configured", "key_set_unavailable":
				status, code = http.StatusServiceUnavailable, "verification_unavailable"
			case "caller_not_allowed":
				status, code = http.StatusForbidden, "caller_not_allowed"
			}
			writeAuthError(ctx, w, status, code, "service token rejected: "+reason)
			return
		}
		v.logger.Debug("auth: service token accepted", zap.String("email", identity.Email))
		next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
	})
}

func (v *ServiceTokenValidator) verify(ctx context.Context, r *http.Request) (*ServiceIdentity, string, error) {
	if v.policy.Audience == "" {
		return nil, "audience_not_configured", errors.New("no audience configured")
	}
	raw := serviceToken(r)
	if raw == "" {
		return nil, "token_missing", errors.New("no bearer or IAP assertion")
	}

	claims := &serviceClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg(), jwt.SigningMethodES256.Alg()}))
	_, err := parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid")
		}
		return v.keys.Key(ctx, kid)
	})
	if err != nil {
		if errors.Is(err, ErrKeySetUnavailable) {
			return nil, "key_set_unavailable", err
		}
		return nil, "token_invalid", err
	}

	if len(v.policy.Issuers) > 0 && !lo.Contains(v.policy.Issuers, claims.Issuer) {
		return nil, "issuer_mismatch", errors.New("unexpected issuer " + claims.Issuer)
	}
	if !claims.VerifyAudience(v.policy.Audience, true) {
		return nil, "audience_mismatch", errors.New("token audience does not match")
	}
	email := strings.ToLower(strings.TrimSpace(claims.Email))
	if len(v.policy.AllowedEmails) > 0 && !(claims.EmailVerified && lo.Contains(v.policy.AllowedEmails, email)) {
		return nil, "caller_not_allowed", errors.New("service account not allowed: " + email)
	}
	return &ServiceIdentity{Subject: claims.Subject, Email: email, Issuer: claims.Issuer}, "", nil
}

func serviceToken(r *http.Request) string {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	return strings.TrimSpace(r.Header.Get(iapAssertionHeader))
}
