package firestore

import (
	"context"
	"sort"

	"cloud.google.com/go/firestore"

	domain "github.com/tripdesk/api/internal/domain"
	pfirestore "github.com/tripdesk/api/internal/platform/firestore"
	"github.com/tripdesk/api/internal/repositories"
)

// LocationRepository implements repositories.LocationRepository.
type LocationRepository struct {
	store *Store
}

var _ repositories.LocationRepository = (*LocationRepository)(nil)

func (r *LocationRepository) Insert(ctx context.Context, location domain.Location) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		doc := locationToDocument(location)
		if err := r.ensurePlaceFree(ctx, "locations.insert", location.ID, doc.DedupKey); err != nil {
			return err
		}
		_, err := r.store.locationDocs.Create(ctx, location.ID, doc)
		return err
	})
}

func (r *LocationRepository) Update(ctx context.Context, location domain.Location) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		current, err := r.store.locationDocs.Get(ctx, location.ID)
		if err != nil {
			return err
		}
		doc := locationToDocument(location)
		if err := r.ensurePlaceFree(ctx, "locations.update", location.ID, doc.DedupKey); err != nil {
			return err
		}
		doc.CreatedAt = current.Data.CreatedAt
		_, err = r.store.locationDocs.Set(ctx, location.ID, doc)
		return err
	})
}

func (r *LocationRepository) FindByID(ctx context.Context, locationID string) (domain.Location, error) {
	doc, err := r.store.locationDocs.Get(ctx, locationID)
	if err != nil {
		return domain.Location{}, err
	}
	return decodeLocation("locations.find", doc)
}

// FindByIDs skips identifiers that do not resolve.
func (r *LocationRepository) FindByIDs(ctx context.Context, locationIDs []string) (map[string]domain.Location, error) {
	out := make(map[string]domain.Location, len(locationIDs))
	for _, id := range locationIDs {
		if _, seen := out[id]; seen {
			continue
		}
		loc, err := r.FindByID(ctx, id)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = loc
	}
	return out, nil
}

func (r *LocationRepository) FindByPlace(ctx context.Context, city string, state *string, country string) (domain.Location, error) {
	key := domain.PlaceKey(city, state, country)
	docs, err := r.byPlace(ctx, key)
	if err != nil {
		return domain.Location{}, err
	}
	if len(docs) == 0 {
		return domain.Location{}, notFound("locations.find_by_place", "location %s not found", key)
	}
	return decodeLocation("locations.find_by_place", docs[0])
}

func (r *LocationRepository) List(ctx context.Context) ([]domain.Location, error) {
	docs, err := r.store.locationDocs.Query(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Location, 0, len(docs))
	for _, d := range docs {
		loc, err := decodeLocation("locations.list", d)
		if err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Country != out[j].Country {
			return out[i].Country < out[j].Country
		}
		if out[i].City != out[j].City {
			return out[i].City < out[j].City
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *LocationRepository) Delete(ctx context.Context, locationID string) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := r.store.locationDocs.Get(ctx, locationID); err != nil {
			return err
		}
		for _, field := range []string{"originLocationId", "destinationLocationId"} {
			field := field
			services, err := r.store.serviceDocs.Query(ctx, func(q firestore.Query) firestore.Query {
				return q.Where(field, "==", locationID)
			}, func(_ string, s serviceDocument) bool {
				return equalPtr(s.OriginLocationID, locationID) || equalPtr(s.DestinationLocationID, locationID)
			})
			if err != nil {
				return err
			}
			for _, svc := range services {
				doc := svc.Data
				if equalPtr(doc.OriginLocationID, locationID) {
					doc.OriginLocationID = nil
				}
				if equalPtr(doc.DestinationLocationID, locationID) {
					doc.DestinationLocationID = nil
				}
				if _, err := r.store.serviceDocs.Set(ctx, svc.ID, doc); err != nil {
					return err
				}
			}

			trips, err := r.store.tripDocs.Query(ctx, func(q firestore.Query) firestore.Query {
				return q.Where(field, "==", locationID)
			}, nil)
			if err != nil {
				return err
			}
			for _, trip := range trips {
				if err := r.store.tripDocs.Delete(ctx, trip.ID); err != nil {
					return err
				}
			}
		}
		return r.store.locationDocs.Delete(ctx, locationID)
	})
}

func (r *LocationRepository) byPlace(ctx context.Context, key string) ([]pfirestore.Document[locationDocument], error) {
	return r.store.locationDocs.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("dedupKey", "==", key).Limit(2)
	}, func(_ string, l locationDocument) bool { return l.DedupKey == key })
}

func (r *LocationRepository) ensurePlaceFree(ctx context.Context, op, locationID, key string) error {
	docs, err := r.byPlace(ctx, key)
	if err != nil {
		return err
	}
	for _, d := range docs {
		if d.ID != locationID {
			return conflict(op, "location %s already exists as %s", key, d.ID)
		}
	}
	return nil
}

func decodeLocation(op string, doc pfirestore.Document[locationDocument]) (domain.Location, error) {
	loc, err := locationFromDocument(doc.ID, doc.Data)
	if err != nil {
		return domain.Location{}, pfirestore.WrapError(op, err)
	}
	return loc, nil
}
