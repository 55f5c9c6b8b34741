package auth

import (
	"context"
	"strings"
)

// Roles stored in the "role" custom claim of operator accounts.
const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Identity is the Firebase user behind a back-office request.
type Identity struct {
	UID   string
	Email string
	Name  string
	Roles []string
}

// HasRole reports whether role was granted, ignoring case.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	if role == "" {
		return false
	}
	for _, granted := range i.Roles {
		if normaliseRole(granted) == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether at least one of roles was granted.
func (i *Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the identity may manage other operators.
func (i *Identity) IsAdmin() bool { return i.HasRole(RoleAdmin) }

// ServiceIdentity is the Google service account that called an internal route.
type ServiceIdentity struct {
	Subject string
	Email   string
	Issuer  string
}

type identityKey struct{}

type serviceIdentityKey struct{}

// WithIdentity stores the operator identity on ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}

// WithServiceIdentity stores the verified service account on ctx.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityKey{}, identity)
}

// ServiceIdentityFromContext returns the identity stored by WithServiceIdentity.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
