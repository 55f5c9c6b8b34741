package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tripdesk/api/internal/platform/auth"
	"github.com/tripdesk/api/internal/platform/httpx"
	"github.com/tripdesk/api/internal/services"
)

type operatorContextKey struct{}

// AccessGuard authenticates Firebase users and provisions their operator account before any
// back-office handler runs. Deactivated operators are turned away with 403.
type AccessGuard struct {
	authn     *auth.Authenticator
	operators services.OperatorService
}

// NewAccessGuard constructs the guard. A nil authenticator skips token checks, leaving identity
// injection to the caller (tests and local tooling).
func NewAccessGuard(authn *auth.Authenticator, operators services.OperatorService) *AccessGuard {
	return &AccessGuard{authn: authn, operators: operators}
}

// Require returns middleware enforcing authentication, the optional roles and an active operator account.
func (g *AccessGuard) Require(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		provision := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity, ok := auth.IdentityFromContext(ctx)
			if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
				return
			}
			if len(roles) > 0 && !identity.HasAnyRole(roles...) {
				httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "operator lacks required role", http.StatusForbidden))
				return
			}
			if g.operators == nil {
				next.ServeHTTP(w, r)
				return
			}
			account, err := g.operators.EnsureOperator(ctx, operatorIdentity(identity))
			if err != nil {
				switch {
				case errors.Is(err, services.ErrOperatorInactive):
					httpx.WriteError(ctx, w, httpx.NewError("operator_inactive", "operator account is deactivated", http.StatusForbidden))
				default:
					writeOperatorError(ctx, w, err)
				}
				return
			}
			next.ServeHTTP(w, r.WithContext(withOperator(ctx, account)))
		})
		if g.authn == nil {
			return provision
		}
		return g.authn.RequireFirebaseAuth(roles...)(provision)
	}
}

func operatorIdentity(identity *auth.Identity) services.OperatorIdentity {
	role := auth.RoleOperator
	if identity.IsAdmin() {
		role = auth.RoleAdmin
	}
	return services.OperatorIdentity{
		UID:      strings.TrimSpace(identity.UID),
		Email:    strings.TrimSpace(identity.Email),
		FullName: strings.TrimSpace(identity.Name),
		Role:     role,
	}
}

func withOperator(ctx context.Context, account services.OperatorAccount) context.Context {
	return context.WithValue(ctx, operatorContextKey{}, account)
}

func operatorFromContext(ctx context.Context) (services.OperatorAccount, bool) {
	account, ok := ctx.Value(operatorContextKey{}).(services.OperatorAccount)
	return account, ok
}

// requireActor resolves the acting operator id, writing 401 when the request carries no identity.
func requireActor(ctx context.Context, w http.ResponseWriter) (string, bool) {
	if account, ok := operatorFromContext(ctx); ok && account.ID != "" {
		return account.ID, true
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return strings.TrimSpace(identity.UID), true
}

// guard applies the access middleware when configured.
func guard(r chi.Router, g *AccessGuard, roles ...string) {
	if g == nil {
		return
	}
	r.Use(g.Require(roles...))
}
