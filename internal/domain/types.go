package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// Customer is the travelling client an order is sold to.
type Customer struct {
	ID          string
	FullName    string
	DocumentID  *string
	PhoneNumber *string
	Email       *string
	Notes       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Location is a geographic point used as a route endpoint.
type Location struct {
	ID          string
	Country     string
	State       *string
	City        string
	AirportCode *string
	Latitude    *decimal.Decimal
	Longitude   *decimal.Decimal
	CreatedAt   time.Time
}

// Order groups the services sold to one customer. Totals are maintained by the aggregator only.
type Order struct {
	ID             string
	OrderNumber    string
	OperatorID     *string
	CustomerID     string
	TotalCostPrice decimal.Decimal
	TotalSalePrice decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TotalProfit is always derived from the persisted totals.
func (o Order) TotalProfit() decimal.Decimal {
	return o.TotalSalePrice.Sub(o.TotalCostPrice)
}

// Calendar holds the optional agenda metadata shown for a service.
type Calendar struct {
	EventStart *time.Time
	EventEnd   *time.Time
	Color      *string
	Icon       *string
}

// Service is one sellable line item owned by an order.
type Service struct {
	ID          string
	OrderID     string
	Name        string
	Description *string
	CostPrice   decimal.Decimal
	SalePrice   decimal.Decimal
	Calendar    Calendar
	Payload     ServicePayload
	CreatedBy   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Type reports the service variant carried by the payload.
func (s Service) Type() ServiceType {
	if s.Payload == nil {
		return ServiceTypeOther
	}
	return s.Payload.Type()
}

// Route returns the origin and destination location identifiers for transport services.
func (s Service) Route() (origin *string, destination *string) {
	transport, ok := TransportOf(s.Payload)
	if !ok {
		return nil, nil
	}
	return transport.OriginLocationID, transport.DestinationLocationID
}

// ServiceImage is an attachment URL owned by a service.
type ServiceImage struct {
	ID        string
	ServiceID string
	ImageURL  string
	CreatedAt time.Time
}

// PopularTripCounter is the append-only tally of sales for an ordered route.
type PopularTripCounter struct {
	ID                    string
	OriginLocationID      string
	DestinationLocationID string
	SalesCount            int64
	UpdatedAt             time.Time
}

// RouteTally is a route count derived from current service rows.
type RouteTally struct {
	OriginLocationID      string
	DestinationLocationID string
	SalesCount            int64
}

// PopularTrip is a ranked route annotated with location detail.
type PopularTrip struct {
	ID                  string
	OriginLocation      Location
	DestinationLocation Location
	SalesCount          int64
}

// OperatorAccount is the staff account that sells services and accrues a sales counter.
type OperatorAccount struct {
	ID         string
	Email      string
	FullName   string
	Role       string
	SalesCount int64
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OperatorTally is a per-operator sales count derived from current service rows.
type OperatorTally struct {
	OperatorID string
	SalesCount int64
}

// ServiceDetails is a service with its resolved locations and attachments.
type ServiceDetails struct {
	Service
	OriginLocation      *Location
	DestinationLocation *Location
	Images              []ServiceImage
}

// OrderDetails is an order with its customer, operator and services eager-loaded.
type OrderDetails struct {
	Order
	Customer Customer
	Operator *OperatorAccount
	Services []ServiceDetails
}

// ProfitGrouping selects the time bucket used for profit statistics.
type ProfitGrouping string

const (
	ProfitGroupingDay   ProfitGrouping = "day"
	ProfitGroupingWeek  ProfitGrouping = "week"
	ProfitGroupingMonth ProfitGrouping = "month"
	ProfitGroupingYear  ProfitGrouping = "year"
)

// ProfitBucket aggregates order totals for one period.
type ProfitBucket struct {
	Period     string
	TotalCost  decimal.Decimal
	TotalSales decimal.Decimal
	OrderCount int64
}

// TotalProfit is derived from the bucket totals.
func (b ProfitBucket) TotalProfit() decimal.Decimal {
	return b.TotalSales.Sub(b.TotalCost)
}

// ProfitStats bundles per-period rows and the overall summary row.
type ProfitStats struct {
	GroupBy ProfitGrouping
	Buckets []ProfitBucket
	Summary ProfitBucket
}

// DashboardMetrics summarises headline counts for the back-office dashboard.
type DashboardMetrics struct {
	TotalCustomers  int64
	TotalOrders     int64
	TotalProfit     decimal.Decimal
	CustomersGrowth decimal.Decimal
	OrdersGrowth    decimal.Decimal
	GeneratedAt     time.Time
}

// Health status constants reported by the system service.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// SignedUploadURL returns signed URL payloads for direct-to-bucket uploads.
type SignedUploadURL struct {
	ObjectPath string
	URL        string
	PublicURL  string
	ExpiresAt  time.Time
	Method     string
	Headers    map[string]string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
