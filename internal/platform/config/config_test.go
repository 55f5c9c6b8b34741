package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func loadMap(t *testing.T, env map[string]string, opts ...Option) (Config, error) {
	t.Helper()
	opts = append([]Option{WithEnvMap(env), WithoutSystemEnv(), WithEnvFile("")}, opts...)
	return Load(context.Background(), opts...)
}

func staticResolver(values map[string]string) SecretResolver {
	return SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := values[ref]; ok {
			return v, nil
		}
		return "", errors.New("secret not found")
	})
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadMap(t, map[string]string{"API_FIREBASE_PROJECT_ID": "td-dev"})
	require.NoError(t, err)

	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	require.Equal(t, "td-dev", cfg.Firestore.ProjectID, "firestore project follows firebase")
	require.Equal(t, "td-dev", cfg.PubSub.ProjectID, "pubsub project follows firebase")
	require.Empty(t, cfg.PubSub.Topic)
	require.Equal(t, StoreDriverSQLite, cfg.Store.Driver)
	require.Equal(t, defaultStoreDSN, cfg.Store.DSN)
	require.True(t, cfg.Store.AutoMigrate)
	require.Equal(t, "counter", cfg.Stats.PopularTripsStrategy)
	loc, err := cfg.Stats.Location()
	require.NoError(t, err)
	require.Equal(t, time.UTC, loc)
	require.Equal(t, 3, cfg.Lifecycle.MaxAttempts)
	require.Equal(t, defaultGeocodingEndpoint, cfg.Geocoding.Endpoint)
	require.Equal(t, time.Second, cfg.Geocoding.MinInterval)
	require.Equal(t, 120, cfg.RateLimits.DefaultPerMinute)
	require.Equal(t, 240, cfg.RateLimits.AuthenticatedPerMinute)
	require.Equal(t, "local", cfg.Security.Environment)
	require.Equal(t, defaultOIDCJWKSURL, cfg.Security.OIDC.JWKSURL)
	require.Equal(t, []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}, cfg.Security.OIDC.Issuers)
	require.Empty(t, cfg.Security.OIDC.AllowedEmails)
	require.Equal(t, defaultIdempotencyHeader, cfg.Idempotency.Header)
	require.Equal(t, defaultIdempotencyTTL, cfg.Idempotency.TTL)
	require.Equal(t, defaultIdempotencyBatchSize, cfg.Idempotency.CleanupBatchSize)
}

func TestLoadOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                  "9090",
		"API_SERVER_IDLE_TIMEOUT":          "2m",
		"API_FIREBASE_PROJECT_ID":          "td-prod",
		"API_FIRESTORE_PROJECT_ID":         "td-fire",
		"API_PUBSUB_PROJECT_ID":            "td-events",
		"API_PUBSUB_ORDER_EVENTS_TOPIC":    "order-events",
		"API_STORE_DRIVER":                 "MySQL",
		"API_STORE_DSN":                    "secret://store/dsn",
		"API_STORE_MAX_OPEN_CONNS":         "40",
		"API_STORE_AUTO_MIGRATE":           "off",
		"API_STORAGE_MEDIA_BUCKET":         "tripdesk-media",
		"API_STORAGE_UPLOAD_URL_TTL":       "5m",
		"API_STATS_POPULAR_TRIPS_STRATEGY": "LIVE",
		"API_STATS_TIME_ZONE":              "America/Sao_Paulo",
		"API_LIFECYCLE_MAX_ATTEMPTS":       "5",
		"API_LIFECYCLE_INITIAL_BACKOFF":    "10ms",
		"API_LIFECYCLE_MAX_BACKOFF":        "1s",
		"API_GEOCODING_EMAIL":              "sm://geo/email",
		"API_RATELIMIT_EXPORT_BURST":       "3",
		"API_SECURITY_ENVIRONMENT":         "Prod",
		"API_SECURITY_OIDC_AUDIENCES":      "prod=https://service.example.com, stg=https://stg.example.com, broken",
		"API_SECURITY_OIDC_ALLOWED_EMAILS": "scheduler@td-prod.iam.gserviceaccount.com, ,ops@tripdesk.example",
		"API_IDEMPOTENCY_HEADER":           "X-Idem-Key",
		"API_IDEMPOTENCY_TTL":              "48h",
	}
	resolver := staticResolver(map[string]string{
		"secret://store/dsn": "app:pw@tcp(db:3306)/tripdesk?parseTime=true",
		"secret://geo/email": "ops@tripdesk.example",
	})

	cfg, err := loadMap(t, env, WithSecretResolver(resolver))
	require.NoError(t, err)

	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, 2*time.Minute, cfg.Server.IdleTimeout)
	require.Equal(t, "td-fire", cfg.Firestore.ProjectID)
	require.Equal(t, PubSubConfig{ProjectID: "td-events", Topic: "order-events"}, cfg.PubSub)
	require.Equal(t, StoreDriverMySQL, cfg.Store.Driver)
	require.Equal(t, "app:pw@tcp(db:3306)/tripdesk?parseTime=true", cfg.Store.DSN)
	require.Equal(t, 40, cfg.Store.MaxOpenConns)
	require.False(t, cfg.Store.AutoMigrate)
	require.Equal(t, StorageConfig{MediaBucket: "tripdesk-media", UploadURLTTL: 5 * time.Minute}, cfg.Storage)
	require.Equal(t, "live", cfg.Stats.PopularTripsStrategy)
	loc, err := cfg.Stats.Location()
	require.NoError(t, err)
	require.Equal(t, "America/Sao_Paulo", loc.String())
	require.Equal(t, LifecycleConfig{MaxAttempts: 5, InitialBackoff: 10 * time.Millisecond, MaxBackoff: time.Second}, cfg.Lifecycle)
	require.Equal(t, "ops@tripdesk.example", cfg.Geocoding.Email, "legacy sm:// scheme resolves")
	require.Equal(t, 3, cfg.RateLimits.ExportBurst)
	require.Equal(t, "https://service.example.com", cfg.Security.OIDC.Audience, "audience picked by environment")
	require.Len(t, cfg.Security.OIDC.Audiences, 2)
	require.Equal(t, []string{"scheduler@td-prod.iam.gserviceaccount.com", "ops@tripdesk.example"}, cfg.Security.OIDC.AllowedEmails)
	require.Equal(t, "X-Idem-Key", cfg.Idempotency.Header)
	require.Equal(t, 48*time.Hour, cfg.Idempotency.TTL)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "# local overrides\nAPI_SERVER_PORT=7070\nexport API_FIREBASE_PROJECT_ID=td-dot\nAPI_STATS_TIME_ZONE='Asia/Tokyo'\nnot a setting\n"
	require.NoError(t, os.WriteFile(envPath, []byte(content), 0o600))
	t.Setenv("API_SERVER_PORT", "6060")

	cfg, err := Load(context.Background(), WithEnvFile(envPath))
	require.NoError(t, err)
	require.Equal(t, "6060", cfg.Server.Port, "process env wins over dotenv")
	require.Equal(t, "td-dot", cfg.Firebase.ProjectID)
	require.Equal(t, "Asia/Tokyo", cfg.Stats.TimeZone)

	cfg, err = Load(context.Background(), WithEnvFile(envPath), WithEnvMap(map[string]string{"API_SERVER_PORT": "5050"}))
	require.NoError(t, err)
	require.Equal(t, "5050", cfg.Server.Port, "explicit map wins over process env")
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvFile(filepath.Join(t.TempDir(), "absent.env")),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{"API_FIREBASE_PROJECT_ID": "td-dev"}),
	)
	require.NoError(t, err)
}

func TestLoadReportsMissingProject(t *testing.T) {
	_, err := loadMap(t, map[string]string{})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	require.Equal(t, []string{"Firebase.ProjectID", "Firestore.ProjectID"}, validation.Fields())
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	_, err := loadMap(t, map[string]string{
		"API_FIREBASE_PROJECT_ID":          "td-dev",
		"API_STORE_DRIVER":                 "postgres",
		"API_STATS_POPULAR_TRIPS_STRATEGY": "hybrid",
		"API_STATS_TIME_ZONE":              "Mars/Olympus",
		"API_LIFECYCLE_MAX_ATTEMPTS":       "0",
		"API_LIFECYCLE_INITIAL_BACKOFF":    "500ms",
		"API_LIFECYCLE_MAX_BACKOFF":        "100ms",
	})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	require.ElementsMatch(t, []string{
		"Store.Driver",
		"Stats.PopularTripsStrategy",
		"Stats.TimeZone",
		"Lifecycle.MaxAttempts",
		"Lifecycle.Backoff",
	}, validation.Fields())
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	_, err := loadMap(t, map[string]string{
		"API_FIREBASE_PROJECT_ID":       "td-dev",
		"API_SERVER_READ_TIMEOUT":       "fifteen",
		"API_STORE_MAX_OPEN_CONNS":      "many",
		"API_STORE_AUTO_MIGRATE":        "sometimes",
		"API_RATELIMIT_DEFAULT_PER_MIN": "120.5",
	})
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	require.Equal(t, []string{
		"API_SERVER_READ_TIMEOUT",
		"API_STORE_MAX_OPEN_CONNS",
		"API_STORE_AUTO_MIGRATE",
		"API_RATELIMIT_DEFAULT_PER_MIN",
	}, validation.Fields())
}

func TestLoadFirestoreDriverIgnoresDSN(t *testing.T) {
	cfg, err := loadMap(t, map[string]string{
		"API_FIREBASE_PROJECT_ID": "td-dev",
		"API_STORE_DRIVER":        "firestore",
		"API_STORE_DSN":           " ",
	})
	require.NoError(t, err)
	require.Equal(t, StoreDriverFirestore, cfg.Store.Driver)
}

func TestLoadSecretErrors(t *testing.T) {
	env := map[string]string{
		"API_FIREBASE_PROJECT_ID": "td-dev",
		"API_STORE_DSN":           "sm://missing",
	}

	_, err := loadMap(t, env)
	var secretErr *SecretError
	require.ErrorAs(t, err, &secretErr)
	require.Equal(t, "secret://missing", secretErr.Ref)
	require.ErrorIs(t, err, errSecretResolverNotConfigured)

	_, err = loadMap(t, env, WithSecretResolver(staticResolver(nil)))
	require.ErrorAs(t, err, &secretErr)
	require.EqualError(t, secretErr.Unwrap(), "secret not found")
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{"API_FIREBASE_PROJECT_ID": "td-dev"}

	_, err := loadMap(t, env, WithRequiredSecrets("Geocoding.Email", "Store.DSN", " Geocoding.Email "))
	var missing *MissingSecretsError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, []string{"Geocoding.Email"}, missing.Names())
	require.Equal(t, []string{redactSecretName("Geocoding.Email")}, missing.RedactedNames())
	require.NotContains(t, missing.Error(), "Geocoding")
}

func TestLoadMissingRequiredSecretsPanics(t *testing.T) {
	env := map[string]string{"API_FIREBASE_PROJECT_ID": "td-dev"}

	defer func() {
		missing, ok := recover().(*MissingSecretsError)
		require.True(t, ok, "expected *MissingSecretsError panic")
		require.Equal(t, []string{"Geocoding.Email"}, missing.Names())
	}()
	_, _ = loadMap(t, env, WithRequiredSecrets("Geocoding.Email"), WithPanicOnMissingSecrets())
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env.test")
	content := "API_FIREBASE_PROJECT_ID=dot-project\nAPI_SECRET_FALLBACK_FILE=.dot.local\n"
	require.NoError(t, os.WriteFile(envPath, []byte(content), 0o600))
	t.Setenv("API_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("API_SECRET_PROJECT_IDS", "prod=project-prod")

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(map[string]string{
		"API_FIREBASE_PROJECT_ID": "override-project",
		"API_SECRET_VERSION_PINS": "secret://store/dsn=5",
	}))
	require.NoError(t, err)
	require.Equal(t, "override-project", values["API_FIREBASE_PROJECT_ID"])
	require.Equal(t, ".dot.local", values["API_SECRET_FALLBACK_FILE"])
	require.Equal(t, "prod=project-prod", values["API_SECRET_PROJECT_IDS"])
	require.Equal(t, "secret://store/dsn=5", values["API_SECRET_VERSION_PINS"])
}
