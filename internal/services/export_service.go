package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"

	domain "github.com/tripdesk/api/internal/domain"
	"github.com/tripdesk/api/internal/repositories"
)

var (
	// ErrExportInvalidInput signals invalid export filters.
	ErrExportInvalidInput = errors.New("export: invalid input")
	// ErrExportUnavailable indicates the persistence layer failed.
	ErrExportUnavailable = errors.New("export: repository unavailable")
)

// ExportServiceDeps bundles collaborators required to construct the export service.
type ExportServiceDeps struct {
	Orders        repositories.OrderRepository
	Services      repositories.ServiceRepository
	ServiceImages repositories.ServiceImageRepository
	Customers     repositories.CustomerRepository
	Locations     repositories.LocationRepository
	Operators     repositories.OperatorRepository
}

type exportService struct {
	orders   repositories.OrderRepository
	services repositories.ServiceRepository
	details  *orderDetailsLoader
}

// NewExportService constructs the export dataset builder.
func NewExportService(deps ExportServiceDeps) (ExportService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("export service: order repository is required")
	case deps.Services == nil:
		return nil, errors.New("export service: service repository is required")
	case deps.ServiceImages == nil:
		return nil, errors.New("export service: service image repository is required")
	case deps.Customers == nil:
		return nil, errors.New("export service: customer repository is required")
	case deps.Locations == nil:
		return nil, errors.New("export service: location repository is required")
	}
	return &exportService{
		orders:   deps.Orders,
		services: deps.Services,
		details: &orderDetailsLoader{
			customers: deps.Customers,
			operators: deps.Operators,
			services:  deps.Services,
			images:    deps.ServiceImages,
			locations: deps.Locations,
		},
	}, nil
}

// OrdersDataset returns every order with at least one matching service. Each order carries only the
// matching services, oldest order first.
func (s *exportService) OrdersDataset(ctx context.Context, filter ExportFilter) ([]OrderDetails, error) {
	if filter.DepartureFrom != nil && filter.DepartureTo != nil && filter.DepartureTo.Before(*filter.DepartureFrom) {
		return nil, fmt.Errorf("%w: to must not be before from", ErrExportInvalidInput)
	}
	repoFilter := repositories.ServiceExportFilter{
		Departure: domain.RangeQuery[time.Time]{From: filter.DepartureFrom, To: filter.DepartureTo},
	}
	if filter.ServiceType != nil && strings.TrimSpace(*filter.ServiceType) != "" {
		serviceType, err := domain.ParseServiceType(*filter.ServiceType)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrExportInvalidInput, err)
		}
		repoFilter.ServiceType = &serviceType
	}

	services, err := s.services.ListForExport(ctx, repoFilter)
	if err != nil {
		return nil, mapExportError(err)
	}
	if len(services) == 0 {
		return []OrderDetails{}, nil
	}

	byOrder := lo.GroupBy(services, func(svc Service) string { return svc.OrderID })
	found, err := s.orders.FindByIDs(ctx, lo.Keys(byOrder))
	if err != nil {
		return nil, mapExportError(err)
	}
	orders := lo.Values(found)
	slices.SortFunc(orders, func(a, b Order) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	details, err := s.details.load(ctx, orders, byOrder)
	if err != nil {
		return nil, mapExportError(err)
	}
	return details, nil
}

func mapExportError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return fmt.Errorf("%w: %v", ErrExportUnavailable, err)
	}
	return err
}
