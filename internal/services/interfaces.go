package services

import (
	"context"
	"time"

	"github.com/samber/mo"
	"github.com/shopspring/decimal"

	domain "github.com/tripdesk/api/internal/domain"
	"github.com/tripdesk/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Customer           = domain.Customer
	Location           = domain.Location
	Order              = domain.Order
	OrderDetails       = domain.OrderDetails
	Service            = domain.Service
	ServiceDetails     = domain.ServiceDetails
	ServiceImage       = domain.ServiceImage
	OperatorAccount    = domain.OperatorAccount
	PopularTrip        = domain.PopularTrip
	ProfitStats        = domain.ProfitStats
	DashboardMetrics   = domain.DashboardMetrics
	SystemHealthReport = domain.SystemHealthReport
	SignedUploadURL    = domain.SignedUploadURL
)

// OrderService is the lifecycle controller for orders and their services. Every mutation runs as one
// unit of work that is retried as a whole on concurrency conflicts.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (OrderDetails, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) error
	AddService(ctx context.Context, cmd AddServiceCommand) (ServiceMutationResult, error)
	UpdateService(ctx context.Context, cmd UpdateServiceCommand) (ServiceMutationResult, error)
	DeleteService(ctx context.Context, cmd DeleteServiceCommand) (Order, error)
	AddServiceImages(ctx context.Context, cmd AddServiceImagesCommand) ([]ServiceImage, error)
	DeleteServiceImage(ctx context.Context, cmd DeleteServiceImageCommand) error
}

// OrderAggregator recomputes persisted order totals from the order's current services.
type OrderAggregator interface {
	Recalculate(ctx context.Context, orderID string) (repositories.OrderTotals, error)
}

// SalesAttributor credits eligible new sales to the operator and route counters.
type SalesAttributor interface {
	Attribute(ctx context.Context, service Service, operatorID string) (Attribution, error)
}

// CustomerService manages the customer directory.
type CustomerService interface {
	CreateCustomer(ctx context.Context, cmd CreateCustomerCommand) (Customer, error)
	GetCustomer(ctx context.Context, customerID string) (Customer, error)
	SearchCustomers(ctx context.Context, filter CustomerSearchFilter) ([]Customer, error)
	UpdateCustomer(ctx context.Context, cmd UpdateCustomerCommand) (Customer, error)
	DeleteCustomer(ctx context.Context, customerID string) error
}

// LocationService manages route endpoints.
type LocationService interface {
	// CreateLocation returns the existing record when the place is already known; created reports which.
	CreateLocation(ctx context.Context, cmd CreateLocationCommand) (location Location, created bool, err error)
	ListLocations(ctx context.Context) ([]Location, error)
	GeocodeLocation(ctx context.Context, locationID string) (Location, error)
	GeocodeMissing(ctx context.Context) (GeocodeSummary, error)
	DeleteLocation(ctx context.Context, locationID string) error
}

// OperatorService manages staff accounts.
type OperatorService interface {
	EnsureOperator(ctx context.Context, identity OperatorIdentity) (OperatorAccount, error)
	GetOperator(ctx context.Context, operatorID string) (OperatorAccount, error)
	ListOperators(ctx context.Context, filter OperatorListFilter) ([]OperatorAccount, error)
	SetOperatorActive(ctx context.Context, cmd SetOperatorActiveCommand) (OperatorAccount, error)
	DeleteOperator(ctx context.Context, operatorID string) error
}

// StatsService answers the ranking and reporting queries.
type StatsService interface {
	PopularTrips(ctx context.Context, limit int) ([]PopularTrip, error)
	TopSellers(ctx context.Context, limit int) ([]OperatorAccount, error)
	ProfitStats(ctx context.Context, filter ProfitStatsFilter) (ProfitStats, error)
	DashboardMetrics(ctx context.Context) (DashboardMetrics, error)
}

// MaintenanceService rebuilds derived counters from the current service rows.
type MaintenanceService interface {
	RebuildCounters(ctx context.Context, cmd RebuildCountersCommand) (RebuildReport, error)
}

// ExportService assembles the eager-loaded dataset consumed by report renderers.
type ExportService interface {
	OrdersDataset(ctx context.Context, filter ExportFilter) ([]OrderDetails, error)
}

// ImageUploadService issues signed URLs for direct-to-bucket service image uploads.
type ImageUploadService interface {
	IssueUploadURL(ctx context.Context, cmd IssueUploadURLCommand) (SignedUploadURL, error)
}

// CounterService issues human-readable order numbers.
type CounterService interface {
	NextOrderNumber(ctx context.Context) (string, error)
}

// SystemService aggregates utility endpoints (health checks).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Commands and filters ------------------------------------------------------

type CreateOrderCommand struct {
	CustomerID string
	ActorID    string
}

type OrderListFilter struct {
	CustomerID string
	OperatorID string
	From       *time.Time
	To         *time.Time
	Pagination Pagination
}

type DeleteOrderCommand struct {
	OrderID string
	ActorID string
}

// ServiceInput is the full description of a new service. Fields carries the flat type-specific
// values; those that do not belong to ServiceType are rejected.
type ServiceInput struct {
	ServiceType string
	Name        string
	Description *string
	CostPrice   decimal.Decimal
	SalePrice   decimal.Decimal
	Calendar    domain.Calendar
	Fields      domain.ServiceFields
}

type AddServiceCommand struct {
	OrderID string
	ActorID string
	Service ServiceInput
}

// ServicePatch carries partial updates. None leaves a field untouched; Some(nil) clears an optional field.
type ServicePatch struct {
	ServiceType mo.Option[string]
	Name        mo.Option[string]
	Description mo.Option[*string]
	CostPrice   mo.Option[decimal.Decimal]
	SalePrice   mo.Option[decimal.Decimal]

	EventStart mo.Option[*time.Time]
	EventEnd   mo.Option[*time.Time]
	Color      mo.Option[*string]
	Icon       mo.Option[*string]

	OriginLocationID      mo.Option[*string]
	DestinationLocationID mo.Option[*string]
	Carrier               mo.Option[*string]
	ConfirmationCode      mo.Option[*string]
	DepartureAt           mo.Option[*time.Time]
	ArrivalAt             mo.Option[*time.Time]

	HotelName         mo.Option[*string]
	ReservationNumber mo.Option[*string]
	CheckInAt         mo.Option[*time.Time]
	CheckOutAt        mo.Option[*time.Time]

	WeightKg            mo.Option[*decimal.Decimal]
	AssociatedServiceID mo.Option[*string]
}

type UpdateServiceCommand struct {
	ServiceID string
	ActorID   string
	Patch     ServicePatch
}

type DeleteServiceCommand struct {
	ServiceID string
	ActorID   string
}

// ServiceMutationResult returns the mutated service with its parent order's refreshed totals.
type ServiceMutationResult struct {
	Service     Service
	Order       Order
	Attribution *Attribution
}

type AddServiceImagesCommand struct {
	ServiceID string
	ImageURLs []string
	ActorID   string
}

type DeleteServiceImageCommand struct {
	ImageID string
	ActorID string
}

// Attribution reports what the attribution engine did for one service.
type Attribution struct {
	Counted      bool
	SkipReason   string
	OperatorID   string
	RouteCounter *domain.PopularTripCounter
}

type CreateCustomerCommand struct {
	FullName    string
	DocumentID  *string
	PhoneNumber *string
	Email       *string
	Notes       *string
}

type CustomerSearchFilter struct {
	Query string
	Limit int
}

type UpdateCustomerCommand struct {
	CustomerID  string
	FullName    mo.Option[string]
	DocumentID  mo.Option[*string]
	PhoneNumber mo.Option[*string]
	Email       mo.Option[*string]
	Notes       mo.Option[*string]
}

type CreateLocationCommand struct {
	Country     string
	State       *string
	City        string
	AirportCode *string
	Latitude    *decimal.Decimal
	Longitude   *decimal.Decimal
	Geocode     bool
}

// GeocodeSummary reports a batch geocoding run over locations without coordinates.
type GeocodeSummary struct {
	Total           int
	Geocoded        int
	Failed          int
	FailedLocations []string
}

// OperatorIdentity is the authenticated principal an operator account is provisioned from.
type OperatorIdentity struct {
	UID      string
	Email    string
	FullName string
	Role     string
}

type OperatorListFilter struct {
	ActiveOnly bool
	Limit      int
}

type SetOperatorActiveCommand struct {
	OperatorID string
	Active     bool
	ActorID    string
}

type ProfitStatsFilter struct {
	GroupBy string
	From    *time.Time
	To      *time.Time
}

type RebuildCountersCommand struct {
	ActorID string
	DryRun  bool
}

// RebuildReport summarises a counter rebuild.
type RebuildReport struct {
	Routes        int
	RouteSales    int64
	Operators     int
	OperatorSales int64
	DryRun        bool
	CompletedAt   time.Time
}

type ExportFilter struct {
	DepartureFrom *time.Time
	DepartureTo   *time.Time
	ServiceType   *string
}

type IssueUploadURLCommand struct {
	ServiceID   string
	FileName    string
	ContentType string
	Size        int64
	ActorID     string
}
