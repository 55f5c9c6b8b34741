package sqlstore

import (
	"context"

	"gorm.io/gorm/clause"

	domain "github.com/tripdesk/api/internal/domain"
	"github.com/tripdesk/api/internal/repositories"
)

// LocationRepository implements repositories.LocationRepository.
type LocationRepository struct {
	store *Store
}

var _ repositories.LocationRepository = (*LocationRepository)(nil)

func (r *LocationRepository) Insert(ctx context.Context, location domain.Location) error {
	model := locationFromDomain(location)
	return wrapError("locations.insert", r.store.conn(ctx).Omit(clause.Associations).Create(&model).Error)
}

func (r *LocationRepository) Update(ctx context.Context, location domain.Location) error {
	model := locationFromDomain(location)
	res := r.store.conn(ctx).
		Model(&locationModel{ID: location.ID}).
		Select("country", "state", "city", "airport_code", "latitude", "longitude", "dedup_key").
		Updates(&model)
	if res.Error != nil {
		return wrapError("locations.update", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, location.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *LocationRepository) FindByID(ctx context.Context, locationID string) (domain.Location, error) {
	var model locationModel
	if err := r.store.conn(ctx).Where("id = ?", locationID).Take(&model).Error; err != nil {
		return domain.Location{}, wrapError("locations.find", err)
	}
	return model.toDomain(), nil
}

func (r *LocationRepository) FindByIDs(ctx context.Context, locationIDs []string) (map[string]domain.Location, error) {
	out := make(map[string]domain.Location, len(locationIDs))
	if len(locationIDs) == 0 {
		return out, nil
	}
	var models []locationModel
	if err := r.store.conn(ctx).Where("id IN ?", locationIDs).Find(&models).Error; err != nil {
		return nil, wrapError("locations.find_many", err)
	}
	for _, m := range models {
		out[m.ID] = m.toDomain()
	}
	return out, nil
}

func (r *LocationRepository) FindByPlace(ctx context.Context, city string, state *string, country string) (domain.Location, error) {
	var model locationModel
	key := domain.PlaceKey(city, state, country)
	if err := r.store.conn(ctx).Where("dedup_key = ?", key).Take(&model).Error; err != nil {
		return domain.Location{}, wrapError("locations.find_by_place", err)
	}
	return model.toDomain(), nil
}

func (r *LocationRepository) List(ctx context.Context) ([]domain.Location, error) {
	var models []locationModel
	if err := r.store.conn(ctx).Order("country ASC").Order("city ASC").Order("id ASC").Find(&models).Error; err != nil {
		return nil, wrapError("locations.list", err)
	}
	out := make([]domain.Location, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (r *LocationRepository) Delete(ctx context.Context, locationID string) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		db := r.store.conn(ctx)
		if err := db.Model(&serviceModel{}).Where("origin_location_id = ?", locationID).
			Update("origin_location_id", nil).Error; err != nil {
			return wrapError("locations.delete", err)
		}
		if err := db.Model(&serviceModel{}).Where("destination_location_id = ?", locationID).
			Update("destination_location_id", nil).Error; err != nil {
			return wrapError("locations.delete", err)
		}
		if err := db.Where("origin_location_id = ? OR destination_location_id = ?", locationID, locationID).
			Delete(&popularTripModel{}).Error; err != nil {
			return wrapError("locations.delete", err)
		}
		res := db.Where("id = ?", locationID).Delete(&locationModel{})
		if res.Error != nil {
			return wrapError("locations.delete", res.Error)
		}
		if res.RowsAffected == 0 {
			return notFound("locations.delete", "location %s not found", locationID)
		}
		return nil
	})
}
