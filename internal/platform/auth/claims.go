package auth

import (
	"strings"

	"github.com/samber/lo"
)

// rolesFromClaim accepts "admin", ["operator","admin"] or {"admin": true}.
func rolesFromClaim(claims map[string]any, key string) []string {
	var raw []string
	switch v := claims[key].(type) {
	case string:
		raw = []string{v}
	case []string:
		raw = v
	case []any:
		raw = lo.FilterMap(v, func(item any, _ int) (string, bool) {
			s, ok := item.(string)
			return s, ok
		})
	case map[string]any:
		for role, granted := range v {
			if on, ok := granted.(bool); ok && on {
				raw = append(raw, role)
			}
		}
	}
	roles := lo.Uniq(lo.Map(raw, func(role string, _ int) string { return normaliseRole(role) }))
	return lo.Compact(roles)
}

func stringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}

// bearerToken extracts the credential of an "Authorization: Bearer <token>" header.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
