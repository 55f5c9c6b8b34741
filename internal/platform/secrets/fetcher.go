// Package secrets resolves secret:// configuration references against Google Secret Manager,
// falling back to a local file when the manager is unreachable.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	meterName           = "github.com/tripdesk/api/internal/platform/secrets"

	sourceCache    = "cache"
	sourceRemote   = "remote"
	sourceFallback = "fallback"
	sourceError    = "error"
)

// ErrNotFound reports that neither Secret Manager nor the local file holds the secret.
var ErrNotFound = errors.New("secrets: secret not found")

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret references. Values are cached per reference and version.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	logger     *zap.Logger

	env         string
	project     string
	projects    map[string]string
	versionPins map[string]string
	cacheTTL    time.Duration
	now         func() time.Time

	local *localFile

	mu    sync.RWMutex
	cache map[string]cached

	resolutions metric.Int64Counter
	latency     metric.Float64Histogram
}

type cached struct {
	value   string
	expires time.Time
}

type settings struct {
	logger      *zap.Logger
	env         string
	project     string
	projects    map[string]string
	versionPins map[string]string
	fallback    string
	cacheTTL    time.Duration
	meter       metric.Meter
	client      secretManagerClient
	clientOpts  []option.ClientOption
}

// Option customises a Fetcher.
type Option func(*settings)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithEnvironment picks the entry of the project map used for unqualified references.
func WithEnvironment(env string) Option {
	return func(s *settings) { s.env = strings.ToLower(strings.TrimSpace(env)) }
}

// WithDefaultProject is used when the project map has no entry for the environment.
func WithDefaultProject(projectID string) Option {
	return func(s *settings) { s.project = strings.TrimSpace(projectID) }
}

// WithProjectMap maps environment labels to Secret Manager projects.
func WithProjectMap(m map[string]string) Option {
	return func(s *settings) {
		for env, project := range m {
			s.projects[strings.ToLower(env)] = strings.TrimSpace(project)
		}
	}
}

// WithVersionPins overrides "latest" for canonical references. Keys may carry an "env:" prefix.
func WithVersionPins(pins map[string]string) Option {
	return func(s *settings) {
		for ref, version := range pins {
			s.versionPins[ref] = strings.TrimSpace(version)
		}
	}
}

// WithFallbackFile changes the local secrets file. An empty path disables it.
func WithFallbackFile(path string) Option {
	return func(s *settings) { s.fallback = strings.TrimSpace(path) }
}

// WithCacheTTL expires cached values so rotated secrets are picked up. Zero caches forever.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *settings) { s.cacheTTL = ttl }
}

// WithMeter replaces the global OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(s *settings) { s.meter = m }
}

// WithSecretManagerClient injects a client instead of dialling one.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(s *settings) { s.client = client }
}

// WithClientOptions is forwarded to secretmanager.NewClient.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(s *settings) { s.clientOpts = append(s.clientOpts, opts...) }
}

// NewFetcher builds a Fetcher. A Secret Manager client that cannot be created is logged and the
// fetcher serves from the local file only.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	s := settings{
		logger:      zap.NewNop(),
		env:         strings.ToLower(strings.TrimSpace(os.Getenv("API_SECURITY_ENVIRONMENT"))),
		projects:    map[string]string{},
		versionPins: map[string]string{},
		fallback:    defaultFallbackPath,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.env == "" {
		s.env = defaultEnvironment
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.meter == nil {
		s.meter = otel.GetMeterProvider().Meter(meterName)
	}

	f := &Fetcher{
		client:      s.client,
		logger:      s.logger,
		env:         s.env,
		project:     s.project,
		projects:    s.projects,
		versionPins: s.versionPins,
		cacheTTL:    s.cacheTTL,
		now:         time.Now,
		local:       &localFile{path: s.fallback},
		cache:       make(map[string]cached),
	}

	var err error
	if f.resolutions, err = s.meter.Int64Counter("secrets.resolutions",
		metric.WithDescription("Secret resolutions by source")); err != nil {
		s.logger.Warn("secrets: resolution counter unavailable", zap.Error(err))
	}
	if f.latency, err = s.meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of Secret Manager reads")); err != nil {
		s.logger.Warn("secrets: latency histogram unavailable", zap.Error(err))
	}

	if f.client == nil {
		client, err := secretManagerClientFactory(ctx, s.clientOpts...)
		if err != nil {
			s.logger.Warn("secrets: secret manager unavailable; serving local fallback only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client when the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the value behind ref. Remote permission and availability failures fall back to
// the local file; a remote NotFound does not.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	ref, err := ParseReference(raw)
	if err != nil {
		return "", err
	}
	version := f.version(ref)
	key := versionedKey(ref.Canonical(), version)

	if value, ok := f.cached(key); ok {
		f.count(ctx, sourceCache)
		return value, nil
	}

	if project := f.projectFor(ref); project != "" && f.client != nil {
		value, err := f.fetchRemote(ctx, project, ref.Name, version)
		switch {
		case err == nil:
			f.remember(key, value)
			f.count(ctx, sourceRemote)
			return value, nil
		case status.Code(err) == codes.NotFound:
			f.count(ctx, sourceError)
			return "", fmt.Errorf("%w: %s version %s", ErrNotFound, ref.Canonical(), version)
		case !recoverable(err):
			f.count(ctx, sourceError)
			return "", fmt.Errorf("secrets: fetch %s: %w", ref.Canonical(), err)
		}
		f.logger.Debug("secrets: secret manager unreachable, trying local file",
			zap.String("ref", ref.Canonical()), zap.Error(err))
	}

	value, ok, err := f.local.lookup(ref, version)
	if err != nil {
		f.count(ctx, sourceError)
		return "", err
	}
	if !ok {
		f.count(ctx, sourceError)
		return "", fmt.Errorf("%w: %s has no local fallback", ErrNotFound, ref.Canonical())
	}
	f.remember(key, value)
	f.count(ctx, sourceFallback)
	return value, nil
}

func (f *Fetcher) fetchRemote(ctx context.Context, project, name, version string) (string, error) {
	start := f.now()
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, name, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if f.latency != nil {
		f.latency.Record(ctx, float64(f.now().Sub(start))/float64(time.Millisecond))
	}
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secrets: empty payload for %s", resource)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) version(ref Reference) string {
	if ref.Version != "" {
		return ref.Version
	}
	if pin := f.versionPins[f.env+":"+ref.Canonical()]; pin != "" {
		return pin
	}
	if pin := f.versionPins[ref.Canonical()]; pin != "" {
		return pin
	}
	return latestVersion
}

func (f *Fetcher) projectFor(ref Reference) string {
	if ref.Project != "" {
		return ref.Project
	}
	if project := f.projects[f.env]; project != "" {
		return project
	}
	return f.project
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[key]
	if !ok {
		return "", false
	}
	if !entry.expires.IsZero() && !f.now().Before(entry.expires) {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) remember(key, value string) {
	entry := cached{value: value}
	if f.cacheTTL > 0 {
		entry.expires = f.now().Add(f.cacheTTL)
	}
	f.mu.Lock()
	f.cache[key] = entry
	f.mu.Unlock()
}

func (f *Fetcher) count(ctx context.Context, source string) {
	if f.resolutions == nil {
		return
	}
	f.resolutions.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func recoverable(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}
