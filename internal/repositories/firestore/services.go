package firestore

import (
	"context"
	"sort"

	"cloud.google.com/go/firestore"
	"github.com/samber/lo"

	domain "github.com/tripdesk/api/internal/domain"
	pfirestore "github.com/tripdesk/api/internal/platform/firestore"
	"github.com/tripdesk/api/internal/repositories"
)

var transportTypes = []string{string(domain.ServiceTypeFlight), string(domain.ServiceTypeBus)}

// ServiceRepository implements repositories.ServiceRepository.
type ServiceRepository struct {
	store *Store
}

var _ repositories.ServiceRepository = (*ServiceRepository)(nil)

func (r *ServiceRepository) Insert(ctx context.Context, service domain.Service) error {
	_, err := r.store.serviceDocs.Create(ctx, service.ID, serviceToDocument(service))
	return err
}

func (r *ServiceRepository) Update(ctx context.Context, service domain.Service) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		current, err := r.store.serviceDocs.Get(ctx, service.ID)
		if err != nil {
			return err
		}
		doc := serviceToDocument(service)
		doc.OrderID = current.Data.OrderID
		doc.CreatedBy = current.Data.CreatedBy
		doc.CreatedAt = current.Data.CreatedAt
		_, err = r.store.serviceDocs.Set(ctx, service.ID, doc)
		return err
	})
}

func (r *ServiceRepository) FindByID(ctx context.Context, serviceID string) (domain.Service, error) {
	doc, err := r.store.serviceDocs.Get(ctx, serviceID)
	if err != nil {
		return domain.Service{}, err
	}
	return decodeService("services.find", doc)
}

func (r *ServiceRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Service, error) {
	docs, err := r.store.serviceDocs.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID)
	}, func(_ string, s serviceDocument) bool { return s.OrderID == orderID })
	if err != nil {
		return nil, err
	}
	services, err := decodeServices("services.list_by_order", docs)
	if err != nil {
		return nil, err
	}
	sortServices(services)
	return services, nil
}

func (r *ServiceRepository) ListForExport(ctx context.Context, filter repositories.ServiceExportFilter) ([]domain.Service, error) {
	docs, err := r.store.serviceDocs.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.ServiceType != nil {
			q = q.Where("serviceType", "==", string(*filter.ServiceType))
		}
		return applyRange(q, "departureAt", filter.Departure)
	}, nil)
	if err != nil {
		return nil, err
	}
	services, err := decodeServices("services.list_for_export", docs)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(services, func(i, j int) bool {
		if services[i].OrderID != services[j].OrderID {
			return services[i].OrderID < services[j].OrderID
		}
		return serviceLess(services[i], services[j])
	})
	return services, nil
}

func (r *ServiceRepository) Delete(ctx context.Context, serviceID string) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := r.store.serviceDocs.Get(ctx, serviceID); err != nil {
			return err
		}
		if err := r.store.images.deleteForServices(ctx, []string{serviceID}); err != nil {
			return err
		}
		luggage, err := r.store.serviceDocs.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("associatedServiceId", "==", serviceID)
		}, func(_ string, s serviceDocument) bool { return equalPtr(s.AssociatedServiceID, serviceID) })
		if err != nil {
			return err
		}
		for _, l := range luggage {
			doc := l.Data
			doc.AssociatedServiceID = nil
			if _, err := r.store.serviceDocs.Set(ctx, l.ID, doc); err != nil {
				return err
			}
		}
		return r.store.serviceDocs.Delete(ctx, serviceID)
	})
}

// RouteTallies counts in memory; Firestore aggregations cannot group.
func (r *ServiceRepository) RouteTallies(ctx context.Context, limit int) ([]domain.RouteTally, error) {
	eligible, err := r.eligible(ctx)
	if err != nil {
		return nil, err
	}
	type route struct{ origin, destination string }
	counts := lo.CountValuesBy(eligible, func(s serviceDocument) route {
		return route{*s.OriginLocationID, *s.DestinationLocationID}
	})
	tallies := lo.MapToSlice(counts, func(k route, n int) domain.RouteTally {
		return domain.RouteTally{OriginLocationID: k.origin, DestinationLocationID: k.destination, SalesCount: int64(n)}
	})
	sort.Slice(tallies, func(i, j int) bool {
		a, b := tallies[i], tallies[j]
		if a.SalesCount != b.SalesCount {
			return a.SalesCount > b.SalesCount
		}
		if a.OriginLocationID != b.OriginLocationID {
			return a.OriginLocationID < b.OriginLocationID
		}
		return a.DestinationLocationID < b.DestinationLocationID
	})
	if limit > 0 && len(tallies) > limit {
		tallies = tallies[:limit]
	}
	return tallies, nil
}

func (r *ServiceRepository) OperatorTallies(ctx context.Context) ([]domain.OperatorTally, error) {
	eligible, err := r.eligible(ctx)
	if err != nil {
		return nil, err
	}
	withOperator := lo.Filter(eligible, func(s serviceDocument, _ int) bool { return s.CreatedBy != nil })
	counts := lo.CountValuesBy(withOperator, func(s serviceDocument) string { return *s.CreatedBy })
	tallies := lo.MapToSlice(counts, func(id string, n int) domain.OperatorTally {
		return domain.OperatorTally{OperatorID: id, SalesCount: int64(n)}
	})
	sort.Slice(tallies, func(i, j int) bool { return tallies[i].OperatorID < tallies[j].OperatorID })
	return tallies, nil
}

// eligible returns services that qualify for attribution.
func (r *ServiceRepository) eligible(ctx context.Context) ([]serviceDocument, error) {
	docs, err := r.store.serviceDocs.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("serviceType", "in", transportTypes)
	}, nil)
	if err != nil {
		return nil, err
	}
	return lo.FilterMap(docs, func(d pfirestore.Document[serviceDocument], _ int) (serviceDocument, bool) {
		return d.Data, d.Data.OriginLocationID != nil && d.Data.DestinationLocationID != nil
	}), nil
}

func serviceLess(a, b domain.Service) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func sortServices(services []domain.Service) {
	sort.SliceStable(services, func(i, j int) bool { return serviceLess(services[i], services[j]) })
}

func decodeService(op string, doc pfirestore.Document[serviceDocument]) (domain.Service, error) {
	svc, err := serviceFromDocument(doc.ID, doc.Data)
	if err != nil {
		return domain.Service{}, pfirestore.WrapError(op, err)
	}
	return svc, nil
}

func decodeServices(op string, docs []pfirestore.Document[serviceDocument]) ([]domain.Service, error) {
	out := make([]domain.Service, 0, len(docs))
	for _, d := range docs {
		svc, err := decodeService(op, d)
		if err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, nil
}
