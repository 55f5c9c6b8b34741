package services

import (
	"context"
	"errors"

	"github.com/samber/lo"

	domain "github.com/tripdesk/api/internal/domain"
	"github.com/tripdesk/api/internal/repositories"
)

// orderDetailsLoader eager-loads customers, operators, services, locations and images for a batch of
// orders with one query per relation.
type orderDetailsLoader struct {
	customers repositories.CustomerRepository
	operators repositories.OperatorRepository
	services  repositories.ServiceRepository
	images    repositories.ServiceImageRepository
	locations repositories.LocationRepository
}

// load resolves details for orders. When services is non-nil it is used as the full service set
// instead of reading each order's services from the repository.
func (l *orderDetailsLoader) load(ctx context.Context, orders []Order, services map[string][]Service) ([]OrderDetails, error) {
	if services == nil {
		services = make(map[string][]Service, len(orders))
		for _, order := range orders {
			items, err := l.services.ListByOrder(ctx, order.ID)
			if err != nil {
				return nil, err
			}
			services[order.ID] = items
		}
	}

	all := lo.Flatten(lo.Values(services))
	images, err := l.loadImages(ctx, all)
	if err != nil {
		return nil, err
	}
	locations, err := l.loadLocations(ctx, all)
	if err != nil {
		return nil, err
	}

	customers := make(map[string]Customer)
	operators := make(map[string]*OperatorAccount)
	details := make([]OrderDetails, 0, len(orders))
	for _, order := range orders {
		customer, ok := customers[order.CustomerID]
		if !ok {
			customer, err = l.customers.FindByID(ctx, order.CustomerID)
			if err != nil {
				return nil, err
			}
			customers[order.CustomerID] = customer
		}

		var operator *OperatorAccount
		if order.OperatorID != nil && l.operators != nil {
			cached, seen := operators[*order.OperatorID]
			if !seen {
				account, err := l.operators.FindByID(ctx, *order.OperatorID)
				switch {
				case err == nil:
					cached = &account
				case !isRepositoryNotFound(err):
					return nil, err
				}
				operators[*order.OperatorID] = cached
			}
			operator = cached
		}

		items := lo.Map(services[order.ID], func(svc Service, _ int) ServiceDetails {
			detail := ServiceDetails{Service: svc, Images: images[svc.ID]}
			origin, destination := svc.Route()
			detail.OriginLocation = lookupLocation(locations, origin)
			detail.DestinationLocation = lookupLocation(locations, destination)
			if detail.Images == nil {
				detail.Images = []ServiceImage{}
			}
			return detail
		})

		details = append(details, OrderDetails{
			Order:    order,
			Customer: customer,
			Operator: operator,
			Services: items,
		})
	}
	return details, nil
}

func (l *orderDetailsLoader) loadImages(ctx context.Context, services []Service) (map[string][]ServiceImage, error) {
	if len(services) == 0 {
		return map[string][]ServiceImage{}, nil
	}
	ids := lo.Map(services, func(svc Service, _ int) string { return svc.ID })
	images, err := l.images.ListByServices(ctx, ids)
	if err != nil {
		return nil, err
	}
	return lo.GroupBy(images, func(img ServiceImage) string { return img.ServiceID }), nil
}

func (l *orderDetailsLoader) loadLocations(ctx context.Context, services []Service) (map[string]domain.Location, error) {
	ids := lo.Uniq(lo.FlatMap(services, func(svc Service, _ int) []string {
		origin, destination := svc.Route()
		return lo.FilterMap([]*string{origin, destination}, func(id *string, _ int) (string, bool) {
			if id == nil {
				return "", false
			}
			return *id, true
		})
	}))
	if len(ids) == 0 {
		return map[string]domain.Location{}, nil
	}
	return l.locations.FindByIDs(ctx, ids)
}

func lookupLocation(locations map[string]domain.Location, id *string) *Location {
	if id == nil {
		return nil
	}
	loc, ok := locations[*id]
	if !ok {
		return nil
	}
	return &loc
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
