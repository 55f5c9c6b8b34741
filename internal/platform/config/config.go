// Package config assembles runtime settings from a dotenv file, the process environment and
// Secret Manager references.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultStoreDriver          = "sqlite"
	defaultStoreDSN             = "file:tripdesk.db?_foreign_keys=on&_busy_timeout=5000"
	defaultStoreMaxOpenConns    = 20
	defaultStoreMaxIdleConns    = 5
	defaultStoreConnMaxLifetime = 30 * time.Minute
	defaultUploadURLTTL         = 15 * time.Minute
	defaultStatsStrategy        = "counter"
	defaultStatsTimeZone        = "UTC"
	defaultLifecycleAttempts    = 3
	defaultLifecycleInitial     = 20 * time.Millisecond
	defaultLifecycleMax         = 200 * time.Millisecond
	defaultGeocodingEndpoint    = "https://nominatim.openstreetmap.org/search"
	defaultGeocodingUserAgent   = "tripdesk-api/1.0"
	defaultGeocodingTimeout     = 5 * time.Second
	defaultGeocodingMinInterval = time.Second
	defaultRateLimitDefault     = 120
	defaultRateLimitAuth        = 240
	defaultRateLimitExportBurst = 10
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultSecurityIAPIssuer    = "https://cloud.google.com/iap"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Store drivers accepted by Store.Driver.
const (
	StoreDriverSQLite    = "sqlite"
	StoreDriverMySQL     = "mysql"
	StoreDriverFirestore = "firestore"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Store       StoreConfig
	Storage     StorageConfig
	PubSub      PubSubConfig
	Stats       StatsConfig
	Lifecycle   LifecycleConfig
	Geocoding   GeocodingConfig
	RateLimits  RateLimitConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StoreConfig selects the entity store backend. DSN is ignored by the firestore driver.
type StoreConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// StorageConfig names the bucket holding service images. SignerEmail enables IAM-based URL signing
// when no key file is configured.
type StorageConfig struct {
	MediaBucket  string
	UploadURLTTL time.Duration
	SignerEmail  string
}

// PubSubConfig routes domain events. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID string
	Topic     string
}

// StatsConfig tunes the ranking and reporting queries.
type StatsConfig struct {
	PopularTripsStrategy string
	TimeZone             string
}

// Location resolves the reporting time zone.
func (c StatsConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.TimeZone)
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// LifecycleConfig bounds conflict retries of order mutations.
type LifecycleConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// GeocodingConfig points at a Nominatim-compatible search endpoint. An empty endpoint disables geocoding.
// MinInterval spaces outgoing lookups; zero disables the spacing.
type GeocodingConfig struct {
	Endpoint    string
	UserAgent   string
	Email       string
	Timeout     time.Duration
	MinInterval time.Duration
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute       int
	AuthenticatedPerMinute int
	ExportBurst            int
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification.
type OIDCConfig struct {
	JWKSURL       string
	Audience      string
	Audiences     map[string]string
	Issuers       []string
	AllowedEmails []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// ValidationError lists settings that are missing, malformed or out of range. Malformed values are
// named by their environment variable, the rest by config field.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns the offending names in the order they were found.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Load resolves the configuration. Explicit values from WithEnvMap win over the process
// environment, which wins over the dotenv file.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	env, err := newEnvironment(options)
	if err != nil {
		return Config{}, err
	}

	r := &reader{env: env}
	cfg := Config{
		Server: ServerConfig{
			Port:         r.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  r.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: r.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  r.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       r.str("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: r.str("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    r.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: r.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Store: StoreConfig{
			Driver:          r.lower("API_STORE_DRIVER", defaultStoreDriver),
			DSN:             r.str("API_STORE_DSN", defaultStoreDSN),
			MaxOpenConns:    r.integer("API_STORE_MAX_OPEN_CONNS", defaultStoreMaxOpenConns),
			MaxIdleConns:    r.integer("API_STORE_MAX_IDLE_CONNS", defaultStoreMaxIdleConns),
			ConnMaxLifetime: r.duration("API_STORE_CONN_MAX_LIFETIME", defaultStoreConnMaxLifetime),
			AutoMigrate:     r.boolean("API_STORE_AUTO_MIGRATE", true),
		},
		Storage: StorageConfig{
			MediaBucket:  r.str("API_STORAGE_MEDIA_BUCKET", ""),
			UploadURLTTL: r.duration("API_STORAGE_UPLOAD_URL_TTL", defaultUploadURLTTL),
			SignerEmail:  r.str("API_STORAGE_SIGNER_EMAIL", ""),
		},
		PubSub: PubSubConfig{
			ProjectID: r.str("API_PUBSUB_PROJECT_ID", ""),
			Topic:     r.str("API_PUBSUB_ORDER_EVENTS_TOPIC", ""),
		},
		Stats: StatsConfig{
			PopularTripsStrategy: r.lower("API_STATS_POPULAR_TRIPS_STRATEGY", defaultStatsStrategy),
			TimeZone:             r.str("API_STATS_TIME_ZONE", defaultStatsTimeZone),
		},
		Lifecycle: LifecycleConfig{
			MaxAttempts:    r.integer("API_LIFECYCLE_MAX_ATTEMPTS", defaultLifecycleAttempts),
			InitialBackoff: r.duration("API_LIFECYCLE_INITIAL_BACKOFF", defaultLifecycleInitial),
			MaxBackoff:     r.duration("API_LIFECYCLE_MAX_BACKOFF", defaultLifecycleMax),
		},
		Geocoding: GeocodingConfig{
			Endpoint:    r.str("API_GEOCODING_ENDPOINT", defaultGeocodingEndpoint),
			UserAgent:   r.str("API_GEOCODING_USER_AGENT", defaultGeocodingUserAgent),
			Email:       r.str("API_GEOCODING_EMAIL", ""),
			Timeout:     r.duration("API_GEOCODING_TIMEOUT", defaultGeocodingTimeout),
			MinInterval: r.duration("API_GEOCODING_MIN_INTERVAL", defaultGeocodingMinInterval),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute:       r.integer("API_RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			AuthenticatedPerMinute: r.integer("API_RATELIMIT_AUTH_PER_MIN", defaultRateLimitAuth),
			ExportBurst:            r.integer("API_RATELIMIT_EXPORT_BURST", defaultRateLimitExportBurst),
		},
		Security: SecurityConfig{
			Environment: r.lower("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment),
			OIDC: OIDCConfig{
				JWKSURL:       r.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:      r.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences:     r.pairs("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:       r.list("API_SECURITY_OIDC_ISSUERS"),
				AllowedEmails: r.list("API_SECURITY_OIDC_ALLOWED_EMAILS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           r.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              r.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  r.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: r.integer("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}
	applyDerivedDefaults(&cfg)

	secrets := &secretFields{resolver: options.secret, resolved: make(map[string]string)}
	for name, field := range map[string]*string{
		"Store.DSN":       &cfg.Store.DSN,
		"Geocoding.Email": &cfg.Geocoding.Email,
	} {
		if err := secrets.resolve(ctx, name, field); err != nil {
			return Config{}, err
		}
	}

	if invalid := append(r.malformed, validate(cfg)...); len(invalid) > 0 {
		return Config{}, &ValidationError{fields: invalid}
	}

	if missing := secrets.missing(options.requiredSecrets); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %v\n", missing)
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

// applyDerivedDefaults fills settings that fall back to other settings.
func applyDerivedDefaults(cfg *Config) {
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}
	oidc := &cfg.Security.OIDC
	if len(oidc.Issuers) == 0 {
		oidc.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}
	if oidc.Audience == "" {
		oidc.Audience = oidc.Audiences[cfg.Security.Environment]
	}
}

func validate(cfg Config) []string {
	var invalid []string
	check := func(ok bool, field string) {
		if !ok {
			invalid = append(invalid, field)
		}
	}

	check(cfg.Server.Port != "", "Server.Port")
	check(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	check(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	switch cfg.Store.Driver {
	case StoreDriverSQLite, StoreDriverMySQL:
		check(strings.TrimSpace(cfg.Store.DSN) != "", "Store.DSN")
	case StoreDriverFirestore:
	default:
		check(false, "Store.Driver")
	}
	check(cfg.Stats.PopularTripsStrategy == "counter" || cfg.Stats.PopularTripsStrategy == "live", "Stats.PopularTripsStrategy")
	_, err := cfg.Stats.Location()
	check(err == nil, "Stats.TimeZone")
	check(cfg.Lifecycle.MaxAttempts > 0, "Lifecycle.MaxAttempts")
	check(cfg.Lifecycle.InitialBackoff > 0 && cfg.Lifecycle.MaxBackoff >= cfg.Lifecycle.InitialBackoff, "Lifecycle.Backoff")
	check(strings.TrimSpace(cfg.Idempotency.Header) != "", "Idempotency.Header")
	check(cfg.Idempotency.TTL > 0, "Idempotency.TTL")
	check(cfg.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	check(cfg.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")
	return invalid
}
