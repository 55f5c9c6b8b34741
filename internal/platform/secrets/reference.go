package secrets

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	referenceScheme = "secret"
	legacyPrefix    = "sm://"
	latestVersion   = "latest"
)

// Reference is a parsed secret://name?version=N&project=P pointer.
type Reference struct {
	Name    string
	Version string
	Project string

	canonical string
}

// Canonical returns the reference without query parameters. Caches and fallback files key on it.
func (r Reference) Canonical() string { return r.canonical }

func (r Reference) versionOr(def string) string {
	if r.Version != "" {
		return r.Version
	}
	return def
}

// ParseReference accepts secret:// references and the older sm:// spelling.
func ParseReference(raw string) (Reference, error) {
	raw = normalizeScheme(raw)
	if raw == "" {
		return Reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != referenceScheme {
		return Reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return Reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}
	query := u.Query()
	return Reference{
		Name:      name,
		Version:   strings.TrimSpace(query.Get("version")),
		Project:   strings.TrimSpace(query.Get("project")),
		canonical: referenceScheme + "://" + name,
	}, nil
}

func normalizeScheme(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, legacyPrefix) {
		return referenceScheme + "://" + strings.TrimPrefix(raw, legacyPrefix)
	}
	return raw
}

func versionedKey(canonical, version string) string {
	return canonical + "#" + version
}
