package repositories

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tripdesk/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection. Both the
// SQL and the Firestore store implement it.
type Registry interface {
	Close(ctx context.Context) error
	Ping(ctx context.Context) error

	Customers() CustomerRepository
	Locations() LocationRepository
	Orders() OrderRepository
	Services() ServiceRepository
	ServiceImages() ServiceImageRepository
	PopularTrips() PopularTripRepository
	Operators() OperatorRepository
	Counters() CounterRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// The transaction travels on the context passed to fn; repositories called with that context join it.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CustomerRepository persists customer records.
type CustomerRepository interface {
	Insert(ctx context.Context, customer domain.Customer) error
	Update(ctx context.Context, customer domain.Customer) error
	FindByID(ctx context.Context, customerID string) (domain.Customer, error)
	FindByDocumentID(ctx context.Context, documentID string) (domain.Customer, error)
	Search(ctx context.Context, filter CustomerSearch) ([]domain.Customer, error)
	// Delete fails with a conflict error while orders still reference the customer.
	Delete(ctx context.Context, customerID string) error
	Count(ctx context.Context, created domain.RangeQuery[time.Time]) (int64, error)
}

// LocationRepository persists route endpoints.
type LocationRepository interface {
	Insert(ctx context.Context, location domain.Location) error
	Update(ctx context.Context, location domain.Location) error
	FindByID(ctx context.Context, locationID string) (domain.Location, error)
	FindByIDs(ctx context.Context, locationIDs []string) (map[string]domain.Location, error)
	// FindByPlace matches city, state and country case-insensitively.
	FindByPlace(ctx context.Context, city string, state *string, country string) (domain.Location, error)
	List(ctx context.Context) ([]domain.Location, error)
	// Delete clears service route references and removes the trip counters of the location.
	Delete(ctx context.Context, locationID string) error
}

// OrderRepository persists order headers and their totals.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// FindForUpdate reads the order and holds a write lock on it until the surrounding transaction ends.
	FindForUpdate(ctx context.Context, orderID string) (domain.Order, error)
	FindByIDs(ctx context.Context, orderIDs []string) (map[string]domain.Order, error)
	UpdateTotals(ctx context.Context, orderID string, totals OrderTotals) error
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	ListCreated(ctx context.Context, created domain.RangeQuery[time.Time]) ([]domain.Order, error)
	Count(ctx context.Context, created domain.RangeQuery[time.Time]) (int64, error)
	// Delete removes the order together with its services and their images.
	Delete(ctx context.Context, orderID string) error
}

// ServiceRepository persists order line items.
type ServiceRepository interface {
	Insert(ctx context.Context, service domain.Service) error
	Update(ctx context.Context, service domain.Service) error
	FindByID(ctx context.Context, serviceID string) (domain.Service, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Service, error)
	ListForExport(ctx context.Context, filter ServiceExportFilter) ([]domain.Service, error)
	// Delete removes the service and its images and clears luggage references to it.
	Delete(ctx context.Context, serviceID string) error
	// RouteTallies groups transport services with both endpoints by ordered route. A limit of zero returns every route.
	RouteTallies(ctx context.Context, limit int) ([]domain.RouteTally, error)
	OperatorTallies(ctx context.Context) ([]domain.OperatorTally, error)
}

// ServiceImageRepository persists image attachments.
type ServiceImageRepository interface {
	Insert(ctx context.Context, images []domain.ServiceImage) error
	FindByID(ctx context.Context, imageID string) (domain.ServiceImage, error)
	ListByServices(ctx context.Context, serviceIDs []string) ([]domain.ServiceImage, error)
	Delete(ctx context.Context, imageID string) error
}

// PopularTripRepository maintains the append-only route tallies.
type PopularTripRepository interface {
	// Increment atomically adds one sale to the ordered route, creating the counter at 1 when absent.
	Increment(ctx context.Context, originID, destinationID string, at time.Time) (domain.PopularTripCounter, error)
	Find(ctx context.Context, originID, destinationID string) (domain.PopularTripCounter, error)
	Top(ctx context.Context, limit int) ([]domain.PopularTripCounter, error)
	ReplaceAll(ctx context.Context, tallies []domain.RouteTally, at time.Time) error
}

// OperatorRepository persists staff accounts and their sales counters.
type OperatorRepository interface {
	Insert(ctx context.Context, operator domain.OperatorAccount) error
	Update(ctx context.Context, operator domain.OperatorAccount) error
	FindByID(ctx context.Context, operatorID string) (domain.OperatorAccount, error)
	List(ctx context.Context, filter OperatorListFilter) ([]domain.OperatorAccount, error)
	IncrementSales(ctx context.Context, operatorID string, delta int64, at time.Time) error
	TopSellers(ctx context.Context, limit int) ([]domain.OperatorAccount, error)
	// ResetSales sets every operator's counter to its tally, zeroing operators without one.
	ResetSales(ctx context.Context, tallies []domain.OperatorTally, at time.Time) error
	// Delete removes the account and clears the operator reference on its orders.
	Delete(ctx context.Context, operatorID string) error
}

// CounterRepository hands out sequence values. Next joins the transaction open on ctx, so a value
// is only consumed when the surrounding work commits.
type CounterRepository interface {
	Next(ctx context.Context, counterID string) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type CustomerSearch struct {
	Query string
	Limit int
}

type OrderListFilter struct {
	CustomerID string
	OperatorID string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// OrderTotals carries the aggregator output persisted on the order row.
type OrderTotals struct {
	TotalCostPrice decimal.Decimal
	TotalSalePrice decimal.Decimal
	UpdatedAt      time.Time
}

type ServiceExportFilter struct {
	Departure   domain.RangeQuery[time.Time]
	ServiceType *domain.ServiceType
}

type OperatorListFilter struct {
	ActiveOnly bool
	Limit      int
}
