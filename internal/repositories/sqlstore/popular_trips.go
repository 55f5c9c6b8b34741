package sqlstore

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/tripdesk/api/internal/domain"
	"github.com/tripdesk/api/internal/repositories"
)

const rebuildBatchSize = 200

// PopularTripRepository implements repositories.PopularTripRepository.
type PopularTripRepository struct {
	store *Store
}

var _ repositories.PopularTripRepository = (*PopularTripRepository)(nil)

// Increment performs a single INSERT .. ON CONFLICT/ON DUPLICATE KEY statement so concurrent sales on
// the same route neither lose an update nor trip the unique route index.
func (r *PopularTripRepository) Increment(ctx context.Context, originID, destinationID string, at time.Time) (domain.PopularTripCounter, error) {
	model := popularTripModel{
		ID:                    ulid.Make().String(),
		OriginLocationID:      originID,
		DestinationLocationID: destinationID,
		SalesCount:            1,
		UpdatedAt:             at.UTC(),
	}
	err := r.store.conn(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "origin_location_id"}, {Name: "destination_location_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"sales_count": gorm.Expr("sales_count + ?", 1),
				"updated_at":  at.UTC(),
			}),
		}).
		Create(&model).Error
	if err != nil {
		return domain.PopularTripCounter{}, wrapError("popular_trips.increment", err)
	}
	return r.Find(ctx, originID, destinationID)
}

func (r *PopularTripRepository) Find(ctx context.Context, originID, destinationID string) (domain.PopularTripCounter, error) {
	var model popularTripModel
	err := r.store.conn(ctx).
		Where("origin_location_id = ? AND destination_location_id = ?", originID, destinationID).
		Take(&model).Error
	if err != nil {
		return domain.PopularTripCounter{}, wrapError("popular_trips.find", err)
	}
	return model.toDomain(), nil
}

func (r *PopularTripRepository) Top(ctx context.Context, limit int) ([]domain.PopularTripCounter, error) {
	var models []popularTripModel
	query := r.store.conn(ctx).Order("sales_count DESC").Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, wrapError("popular_trips.top", err)
	}
	out := make([]domain.PopularTripCounter, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (r *PopularTripRepository) ReplaceAll(ctx context.Context, tallies []domain.RouteTally, at time.Time) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		db := r.store.conn(ctx)
		if err := db.Where("1 = 1").Delete(&popularTripModel{}).Error; err != nil {
			return wrapError("popular_trips.replace", err)
		}
		if len(tallies) == 0 {
			return nil
		}
		models := make([]popularTripModel, 0, len(tallies))
		for _, tally := range tallies {
			models = append(models, popularTripModel{
				ID:                    ulid.Make().String(),
				OriginLocationID:      tally.OriginLocationID,
				DestinationLocationID: tally.DestinationLocationID,
				SalesCount:            tally.SalesCount,
				UpdatedAt:             at.UTC(),
			})
		}
		err := db.Omit(clause.Associations).CreateInBatches(&models, rebuildBatchSize).Error
		return wrapError("popular_trips.replace", err)
	})
}
