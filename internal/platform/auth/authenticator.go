package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"go.uber.org/zap"

	"github.com/tripdesk/api/internal/platform/httpx"
	"github.com/tripdesk/api/internal/platform/requestctx"
)

const (
	roleClaim     = "role"
	nameClaim     = "name"
	emailClaim    = "email"
	verifyTimeout = 5 * time.Second
)

var (
	// ErrTokenExpired marks an expired Firebase ID token.
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	// ErrTokenInvalid marks a Firebase ID token that failed verification.
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// ProfileLoader reads the Firebase user record. It fills in name and email when the token omits
// them and rejects disabled accounts.
type ProfileLoader interface {
	GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
}

// Authenticator turns Firebase bearer tokens into an Identity on the request context.
type Authenticator struct {
	verifier     TokenVerifier
	profiles     ProfileLoader
	roleClaim    string
	fallbackRole string
	timeout      time.Duration
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithProfileLoader enables the user record lookup for tokens missing profile claims.
func WithProfileLoader(loader ProfileLoader) Option {
	return func(a *Authenticator) { a.profiles = loader }
}

// WithRoleClaim changes the custom claim holding roles.
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithFallbackRole is granted to tokens without a role claim. An empty role rejects them instead.
func WithFallbackRole(role string) Option {
	return func(a *Authenticator) { a.fallbackRole = normaliseRole(role) }
}

// WithVerificationTimeout bounds token verification and the profile lookup.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator builds an Authenticator. Tokens without roles are treated as operators.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:     verifier,
		roleClaim:    roleClaim,
		fallbackRole: RoleOperator,
		timeout:      verifyTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth rejects requests without a valid token. When roles are given the identity
// must hold at least one of them.
func (a *Authenticator) RequireFirebaseAuth(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.verifier == nil {
				writeAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
				return
			}

			identity, err := a.identify(ctx, token)
			switch {
			case errors.Is(err, errAccountDisabled):
				writeAuthError(ctx, w, http.StatusForbidden, "account_disabled", "operator account is disabled")
				return
			case err != nil:
				writeVerificationError(ctx, w, err)
				return
			}

			if len(identity.Roles) == 0 {
				writeAuthError(ctx, w, http.StatusUnauthorized, "missing_role", "no roles associated with identity")
				return
			}
			if len(roles) > 0 && !identity.HasAnyRole(roles...) {
				writeAuthError(ctx, w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

var errAccountDisabled = errors.New("auth: account disabled")

func (a *Authenticator) identify(ctx context.Context, raw string) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	token, err := a.verifier.VerifyIDToken(ctx, raw)
	if err != nil {
		return nil, err
	}
	identity := &Identity{
		UID:   token.UID,
		Email: stringClaim(token.Claims, emailClaim),
		Name:  stringClaim(token.Claims, nameClaim),
		Roles: rolesFromClaim(token.Claims, a.roleClaim),
	}
	if len(identity.Roles) == 0 && a.fallbackRole != "" {
		identity.Roles = []string{a.fallbackRole}
	}

	if a.profiles != nil && (identity.Email == "" || identity.Name == "") {
		record, err := a.profiles.GetUser(ctx, identity.UID)
		switch {
		case err != nil:
			requestctx.Logger(ctx).Warn("auth: profile lookup failed", zap.String("uid", identity.UID), zap.Error(err))
		case record == nil:
		case record.Disabled:
			return nil, errAccountDisabled
		case record.UserInfo != nil:
			if identity.Email == "" {
				identity.Email = strings.TrimSpace(record.Email)
			}
			if identity.Name == "" {
				identity.Name = strings.TrimSpace(record.DisplayName)
			}
		}
	}
	return identity, nil
}

func writeAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

func writeVerificationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		writeAuthError(ctx, w, http.StatusUnauthorized, "token_expired", "firebase id token expired")
	default:
		writeAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "firebase id token invalid")
	}
}
