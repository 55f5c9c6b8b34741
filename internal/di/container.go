package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"

	"github.com/tripdesk/api/internal/platform/config"
	"github.com/tripdesk/api/internal/repositories"
	"github.com/tripdesk/api/internal/services"
)

const healthCheckTimeout = 1500 * time.Millisecond

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Customers    services.CustomerService
	Locations    services.LocationService
	Operators    services.OperatorService
	Orders       services.OrderService
	Stats        services.StatsService
	Maintenance  services.MaintenanceService
	Exports      services.ExportService
	ImageUploads services.ImageUploadService
	Counters     services.CounterService
	System       services.SystemService
}

// Infrastructure carries the optional adapters built outside the repository layer. Nil members
// disable the feature they back.
type Infrastructure struct {
	Geocoder     services.Geocoder
	Events       services.OrderEventPublisher
	Signer       services.UploadURLSigner
	HealthChecks []repositories.DependencyCheck
	Build        services.BuildInfo
	Logger       *zap.Logger
	Clock        func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply an in-memory sqlite registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases the repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services

	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	customerSvc, err := services.NewCustomerService(services.CustomerServiceDeps{
		Customers: reg.Customers(),
		Clock:     clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build customer service: %w", err)
	}
	svc.Customers = customerSvc

	locationSvc, err := services.NewLocationService(services.LocationServiceDeps{
		Locations: reg.Locations(),
		Geocoder:  infra.Geocoder,
		Clock:     clock,
		Logger:    serviceLogger(logger, "locations"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build location service: %w", err)
	}
	svc.Locations = locationSvc

	operatorSvc, err := services.NewOperatorService(services.OperatorServiceDeps{
		Operators: reg.Operators(),
		Clock:     clock,
		Logger:    serviceLogger(logger, "operators"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build operator service: %w", err)
	}
	svc.Operators = operatorSvc

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	aggregator, err := services.NewOrderAggregator(services.OrderAggregatorDeps{
		Orders:   reg.Orders(),
		Services: reg.Services(),
		Clock:    clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order aggregator: %w", err)
	}

	attributor, err := services.NewSalesAttributor(services.SalesAttributorDeps{
		Operators:    reg.Operators(),
		PopularTrips: reg.PopularTrips(),
		Clock:        clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build sales attributor: %w", err)
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        reg.Orders(),
		Services:      reg.Services(),
		ServiceImages: reg.ServiceImages(),
		Customers:     reg.Customers(),
		Locations:     reg.Locations(),
		Operators:     reg.Operators(),
		Aggregator:    aggregator,
		Attributor:    attributor,
		Counters:      counterSvc,
		UnitOfWork:    reg,
		MaxAttempts:   cfg.Lifecycle.MaxAttempts,
		Backoff: gax.Backoff{
			Initial:    cfg.Lifecycle.InitialBackoff,
			Max:        cfg.Lifecycle.MaxBackoff,
			Multiplier: 2,
		},
		Clock:  clock,
		Events: infra.Events,
		Logger: serviceLogger(logger, "orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	reportingLocation, err := cfg.Stats.Location()
	if err != nil {
		return Services{}, fmt.Errorf("build stats service: time zone %q: %w", cfg.Stats.TimeZone, err)
	}
	statsSvc, err := services.NewStatsService(services.StatsServiceDeps{
		Customers:            reg.Customers(),
		Orders:               reg.Orders(),
		Services:             reg.Services(),
		Locations:            reg.Locations(),
		PopularTrips:         reg.PopularTrips(),
		Operators:            reg.Operators(),
		PopularTripsStrategy: cfg.Stats.PopularTripsStrategy,
		ReportingLocation:    reportingLocation,
		Clock:                clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stats service: %w", err)
	}
	svc.Stats = statsSvc

	maintenanceSvc, err := services.NewMaintenanceService(services.MaintenanceServiceDeps{
		Services:     reg.Services(),
		PopularTrips: reg.PopularTrips(),
		Operators:    reg.Operators(),
		UnitOfWork:   reg,
		Clock:        clock,
		Events:       infra.Events,
		Logger:       serviceLogger(logger, "maintenance"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build maintenance service: %w", err)
	}
	svc.Maintenance = maintenanceSvc

	exportSvc, err := services.NewExportService(services.ExportServiceDeps{
		Orders:        reg.Orders(),
		Services:      reg.Services(),
		ServiceImages: reg.ServiceImages(),
		Customers:     reg.Customers(),
		Locations:     reg.Locations(),
		Operators:     reg.Operators(),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build export service: %w", err)
	}
	svc.Exports = exportSvc

	if infra.Signer != nil && cfg.Storage.MediaBucket != "" {
		uploadSvc, err := services.NewImageUploadService(services.ImageUploadServiceDeps{
			Services:  reg.Services(),
			Signer:    infra.Signer,
			Bucket:    cfg.Storage.MediaBucket,
			ExpiresIn: cfg.Storage.UploadURLTTL,
			Logger:    serviceLogger(logger, "uploads"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build image upload service: %w", err)
		}
		svc.ImageUploads = uploadSvc
	}

	checks := append([]repositories.DependencyCheck{{
		Name:     "store",
		Critical: true,
		Check:    reg.Ping,
	}}, infra.HealthChecks...)
	healthRepo, err := repositories.NewDependencyHealthRepository(checks,
		repositories.WithDependencyTimeout(healthCheckTimeout),
		repositories.WithDependencyClock(clock),
	)
	if err != nil {
		return Services{}, fmt.Errorf("build health repository: %w", err)
	}
	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
		Clock:            clock,
		Build:            infra.Build,
		Logger:           logger.Named("system"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}

// serviceLogger adapts a named zap logger to the services logging hook.
func serviceLogger(logger *zap.Logger, name string) func(context.Context, string, map[string]any) {
	named := logger.Named(name)
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		named.Debug(name+" log", zFields...)
	}
}
