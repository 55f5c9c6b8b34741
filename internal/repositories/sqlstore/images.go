package sqlstore

import (
	"context"

	"gorm.io/gorm/clause"

	domain "github.com/tripdesk/api/internal/domain"
	"github.com/tripdesk/api/internal/repositories"
)

// ServiceImageRepository implements repositories.ServiceImageRepository.
type ServiceImageRepository struct {
	store *Store
}

var _ repositories.ServiceImageRepository = (*ServiceImageRepository)(nil)

func (r *ServiceImageRepository) Insert(ctx context.Context, images []domain.ServiceImage) error {
	if len(images) == 0 {
		return nil
	}
	models := make([]serviceImageModel, 0, len(images))
	for _, img := range images {
		models = append(models, serviceImageModel{
			ID:        img.ID,
			ServiceID: img.ServiceID,
			ImageURL:  img.ImageURL,
			CreatedAt: img.CreatedAt.UTC(),
		})
	}
	return wrapError("service_images.insert", r.store.conn(ctx).Omit(clause.Associations).Create(&models).Error)
}

func (r *ServiceImageRepository) FindByID(ctx context.Context, imageID string) (domain.ServiceImage, error) {
	var model serviceImageModel
	if err := r.store.conn(ctx).Where("id = ?", imageID).Take(&model).Error; err != nil {
		return domain.ServiceImage{}, wrapError("service_images.find", err)
	}
	return model.toDomain(), nil
}

func (r *ServiceImageRepository) ListByServices(ctx context.Context, serviceIDs []string) ([]domain.ServiceImage, error) {
	if len(serviceIDs) == 0 {
		return nil, nil
	}
	var models []serviceImageModel
	err := r.store.conn(ctx).Where("service_id IN ?", serviceIDs).Order("created_at ASC").Order("id ASC").Find(&models).Error
	if err != nil {
		return nil, wrapError("service_images.list", err)
	}
	out := make([]domain.ServiceImage, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (r *ServiceImageRepository) Delete(ctx context.Context, imageID string) error {
	res := r.store.conn(ctx).Where("id = ?", imageID).Delete(&serviceImageModel{})
	if res.Error != nil {
		return wrapError("service_images.delete", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("service_images.delete", "image %s not found", imageID)
	}
	return nil
}
