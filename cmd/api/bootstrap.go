package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/tripdesk/api/internal/di"
	"github.com/tripdesk/api/internal/platform/auth"
	"github.com/tripdesk/api/internal/platform/config"
	"github.com/tripdesk/api/internal/platform/geocoding"
	"github.com/tripdesk/api/internal/platform/jobs"
	"github.com/tripdesk/api/internal/platform/secrets"
	platformstorage "github.com/tripdesk/api/internal/platform/storage"
	"github.com/tripdesk/api/internal/repositories"
	"github.com/tripdesk/api/internal/services"
)

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// buildInfrastructure connects the optional cloud adapters. The returned func releases them.
// newURLSigner prefers a local service account key and falls back to IAM signing. It returns nil
// when neither is configured.
func newURLSigner(ctx context.Context, cfg config.Config, clientOpts []option.ClientOption) (platformstorage.Signer, error) {
	if cfg.Firebase.CredentialsFile != "" {
		return platformstorage.LoadKeySigner(cfg.Firebase.CredentialsFile)
	}
	if email := strings.TrimSpace(cfg.Storage.SignerEmail); email != "" {
		return platformstorage.NewIAMSigner(ctx, email, clientOpts...)
	}
	return nil, nil
}

func buildInfrastructure(ctx context.Context, logger *zap.Logger, cfg config.Config, fetcher *secrets.Fetcher) (di.Infrastructure, func(), error) {
	var infra di.Infrastructure
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var clientOpts []option.ClientOption
	if cfg.Firebase.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
	}

	if endpoint := strings.TrimSpace(cfg.Geocoding.Endpoint); endpoint != "" {
		geocoder, err := geocoding.NewClient(endpoint,
			geocoding.WithUserAgent(cfg.Geocoding.UserAgent),
			geocoding.WithEmail(cfg.Geocoding.Email),
			geocoding.WithTimeout(cfg.Geocoding.Timeout),
			geocoding.WithMinInterval(cfg.Geocoding.MinInterval),
		)
		if err != nil {
			return di.Infrastructure{}, closeAll, fmt.Errorf("geocoding client: %w", err)
		}
		infra.Geocoder = geocoder
	} else {
		logger.Info("geocoding disabled; no endpoint configured")
	}

	if bucket := strings.TrimSpace(cfg.Storage.MediaBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx, clientOpts...)
		if err != nil {
			return di.Infrastructure{}, closeAll, fmt.Errorf("storage client: %w", err)
		}
		closers = append(closers, func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		})
		probe, err := platformstorage.NewBucketProbe(storageClient, bucket)
		if err != nil {
			closeAll()
			return di.Infrastructure{}, func() {}, fmt.Errorf("storage probe: %w", err)
		}
		infra.HealthChecks = append(infra.HealthChecks, repositories.DependencyCheck{
			Name:    "mediaBucket",
			Timeout: 2 * time.Second,
			Check:   probe.Ping,
		})

		signer, err := newURLSigner(ctx, cfg, clientOpts)
		if err != nil {
			closeAll()
			return di.Infrastructure{}, func() {}, fmt.Errorf("storage signer: %w", err)
		}
		if signer != nil {
			signedURLClient, err := platformstorage.NewClient(signer)
			if err != nil {
				closeAll()
				return di.Infrastructure{}, func() {}, fmt.Errorf("signed url client: %w", err)
			}
			infra.Signer = signedURLClient
		}
	}

	if topicID := strings.TrimSpace(cfg.PubSub.Topic); topicID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID, clientOpts...)
		if err != nil {
			closeAll()
			return di.Infrastructure{}, func() {}, fmt.Errorf("pubsub client: %w", err)
		}
		topic := pubsubClient.Topic(topicID)
		closers = append(closers, func() {
			topic.Stop()
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		})
		publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			closeAll()
			return di.Infrastructure{}, func() {}, fmt.Errorf("order event publisher: %w", err)
		}
		infra.Events = publisher
	}

	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		infra.HealthChecks = append(infra.HealthChecks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil || errors.Is(err, secrets.ErrNotFound) {
					return nil
				}
				return err
			},
		})
	}

	return infra, closeAll, nil
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	oidc := cfg.Security.OIDC
	if strings.TrimSpace(oidc.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(oidc.Audience) == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	if len(oidc.AllowedEmails) == 0 {
		logger.Warn("auth: no service account allowlist; any Google-signed caller may reach internal routes")
	}

	keys := auth.NewKeySet(oidc.JWKSURL, auth.WithKeySetLogger(logger))
	validator := auth.NewServiceTokenValidator(keys, auth.ServicePolicy{
		Audience:      oidc.Audience,
		Issuers:       oidc.Issuers,
		AllowedEmails: oidc.AllowedEmails,
	}, logger)
	return validator.Middleware
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	projectMap := secretProjectMapFromEnv(env)
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	versionPins := secretVersionPinsFromEnv(env)
	credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if len(versionPins) > 0 {
		opts = append(opts, secrets.WithVersionPins(versionPins))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists config fields that must resolve to a value. A MySQL DSN carries
// credentials and is expected to come from Secret Manager.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if env == nil {
		return required
	}
	if strings.EqualFold(strings.TrimSpace(env["API_STORE_DRIVER"]), config.StoreDriverMySQL) {
		required = append(required, "Store.DSN")
	}
	if strings.TrimSpace(env["API_GEOCODING_EMAIL"]) != "" {
		required = append(required, "Geocoding.Email")
	}
	return uniqueStrings(required)
}

func secretProjectMapFromEnv(env map[string]string) map[string]string {
	raw := ""
	if env != nil {
		raw = env["API_SECRET_PROJECT_IDS"]
	}
	raw = strings.TrimSpace(raw)
	projects := make(map[string]string)
	if raw == "" {
		return projects
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		envLabel := strings.ToLower(strings.TrimSpace(parts[0]))
		project := strings.TrimSpace(parts[1])
		if envLabel == "" || project == "" {
			continue
		}
		projects[envLabel] = project
	}
	return projects
}

func secretVersionPinsFromEnv(env map[string]string) map[string]string {
	raw := ""
	if env != nil {
		raw = env["API_SECRET_VERSION_PINS"]
	}
	raw = strings.TrimSpace(raw)
	pins := make(map[string]string)
	if raw == "" {
		return pins
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		ref := strings.TrimSpace(parts[0])
		version := strings.TrimSpace(parts[1])
		if ref == "" || version == "" {
			continue
		}
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		if strings.HasPrefix(ref, "sm://") {
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		} else if !strings.HasPrefix(ref, "secret://") {
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
