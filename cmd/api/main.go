package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tripdesk/api/internal/di"
	"github.com/tripdesk/api/internal/handlers"
	"github.com/tripdesk/api/internal/platform/auth"
	"github.com/tripdesk/api/internal/platform/config"
	"github.com/tripdesk/api/internal/platform/idempotency"
	"github.com/tripdesk/api/internal/platform/observability"
)

const exportRateWindow = time.Minute

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	store, err := di.OpenStore(ctx, cfg, logger.Named("store"))
	if err != nil {
		logger.Fatal("failed to open entity store", zap.Error(err))
	}

	infra, closeInfra, err := buildInfrastructure(ctx, logger, cfg, fetcher)
	if err != nil {
		logger.Fatal("failed to initialise infrastructure", zap.Error(err))
	}
	defer closeInfra()
	infra.Build = buildInfo
	infra.Logger = logger

	container, err := di.NewContainer(ctx, cfg, store.Registry, infra)
	if err != nil {
		logger.Fatal("failed to build service container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("entity store close error", zap.Error(err))
		}
	}()

	idempotencyStore, err := store.IdempotencyStore(ctx)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithOptionalKey(),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.Sweep(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg)

	firebaseClient, err := auth.NewFirebaseClient(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase auth", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseClient, auth.WithProfileLoader(firebaseClient))

	svc := container.Services
	guard := handlers.NewAccessGuard(authenticator, svc.Operators)
	operatorHandlers := handlers.NewOperatorHandlers(guard, svc.Operators)
	customerHandlers := handlers.NewCustomerHandlers(guard, svc.Customers)
	locationHandlers := handlers.NewLocationHandlers(guard, svc.Locations)
	orderHandlers := handlers.NewOrderHandlers(guard, svc.Orders, svc.ImageUploads)
	statsHandlers := handlers.NewStatsHandlers(guard, svc.Stats)
	exportHandlers := handlers.NewExportHandlers(guard, svc.Exports,
		handlers.WithExportRateLimit(cfg.RateLimits.ExportBurst, exportRateWindow, time.Now),
	)
	maintenanceHandlers := handlers.NewMaintenanceHandlers(svc.Maintenance)
	if svc.ImageUploads == nil {
		logger.Warn("image uploads disabled; signer credentials or media bucket missing")
	}

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
		handlers.ClientRateLimit(cfg.RateLimits.DefaultPerMinute, cfg.RateLimits.AuthenticatedPerMinute, time.Now),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	var opts []handlers.Option
	opts = append(opts, handlers.WithMiddlewares(middlewares...))
	opts = append(opts, handlers.WithHealthHandlers(healthHandlers))
	opts = append(opts, handlers.WithMeRoutes(operatorHandlers.MeRoutes))
	opts = append(opts, handlers.WithCustomerRoutes(customerHandlers.Routes))
	opts = append(opts, handlers.WithLocationRoutes(locationHandlers.Routes))
	opts = append(opts, handlers.WithOrderRoutes(orderHandlers.Routes))
	opts = append(opts, handlers.WithOrderMiddlewares(idempotencyMiddleware))
	opts = append(opts, handlers.WithStatsRoutes(statsHandlers.Routes))
	opts = append(opts, handlers.WithOperatorRoutes(statsHandlers.SellerRoutes))
	opts = append(opts, handlers.WithExportRoutes(exportHandlers.Routes))
	opts = append(opts, handlers.WithAdminRoutes(operatorHandlers.AdminRoutes))
	opts = append(opts, handlers.WithInternalRoutes(maintenanceHandlers.Routes))
	if oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("store", cfg.Store.Driver))
	go func() {
		serverLogger.Info("tripdesk api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
