package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/tripdesk/api/internal/domain"
	"github.com/tripdesk/api/internal/repositories"
)

// PopularTripRepository implements repositories.PopularTripRepository. Counters are keyed by
// origin:destination so a route can only ever have one document.
type PopularTripRepository struct {
	store *Store
}

var _ repositories.PopularTripRepository = (*PopularTripRepository)(nil)

func (r *PopularTripRepository) Increment(ctx context.Context, originID, destinationID string, at time.Time) (domain.PopularTripCounter, error) {
	id := routeDocumentID(originID, destinationID)
	var counter domain.PopularTripCounter
	err := r.store.RunInTx(ctx, func(ctx context.Context) error {
		doc := popularTripDocument{
			OriginLocationID:      originID,
			DestinationLocationID: destinationID,
		}
		current, err := r.store.tripDocs.Get(ctx, id)
		switch {
		case err == nil:
			doc = current.Data
		case !isNotFound(err):
			return err
		}
		doc.SalesCount++
		doc.UpdatedAt = at.UTC()
		if _, err := r.store.tripDocs.Set(ctx, id, doc); err != nil {
			return err
		}
		counter = tripFromDocument(id, doc)
		return nil
	})
	return counter, err
}

func (r *PopularTripRepository) Find(ctx context.Context, originID, destinationID string) (domain.PopularTripCounter, error) {
	doc, err := r.store.tripDocs.Get(ctx, routeDocumentID(originID, destinationID))
	if err != nil {
		return domain.PopularTripCounter{}, err
	}
	return tripFromDocument(doc.ID, doc.Data), nil
}

func (r *PopularTripRepository) Top(ctx context.Context, limit int) ([]domain.PopularTripCounter, error) {
	docs, err := r.store.tripDocs.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.OrderBy("salesCount", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	}, nil)
	if err != nil {
		return nil, err
	}
	out := make([]domain.PopularTripCounter, 0, len(docs))
	for _, d := range docs {
		out = append(out, tripFromDocument(d.ID, d.Data))
	}
	return out, nil
}

// ReplaceAll rewrites every counter in one transaction, which bounds the rebuild to Firestore's
// per-transaction write limit.
func (r *PopularTripRepository) ReplaceAll(ctx context.Context, tallies []domain.RouteTally, at time.Time) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		existing, err := r.store.tripDocs.Query(ctx, nil, nil)
		if err != nil {
			return err
		}
		for _, d := range existing {
			if err := r.store.tripDocs.Delete(ctx, d.ID); err != nil {
				return err
			}
		}
		for _, tally := range tallies {
			doc := popularTripDocument{
				OriginLocationID:      tally.OriginLocationID,
				DestinationLocationID: tally.DestinationLocationID,
				SalesCount:            tally.SalesCount,
				UpdatedAt:             at.UTC(),
			}
			if _, err := r.store.tripDocs.Set(ctx, routeDocumentID(tally.OriginLocationID, tally.DestinationLocationID), doc); err != nil {
				return err
			}
		}
		return nil
	})
}
