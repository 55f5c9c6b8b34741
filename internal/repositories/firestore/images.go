package firestore

import (
	"context"
	"sort"

	"cloud.google.com/go/firestore"
	"github.com/samber/lo"

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
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		for _, img := range images {
			doc := serviceImageDocument{ServiceID: img.ServiceID, ImageURL: img.ImageURL, CreatedAt: img.CreatedAt.UTC()}
			if _, err := r.store.imageDocs.Create(ctx, img.ID, doc); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *ServiceImageRepository) FindByID(ctx context.Context, imageID string) (domain.ServiceImage, error) {
	doc, err := r.store.imageDocs.Get(ctx, imageID)
	if err != nil {
		return domain.ServiceImage{}, err
	}
	return imageFromDocument(doc.ID, doc.Data), nil
}

func (r *ServiceImageRepository) ListByServices(ctx context.Context, serviceIDs []string) ([]domain.ServiceImage, error) {
	var out []domain.ServiceImage
	for _, ids := range chunk(lo.Uniq(serviceIDs)) {
		ids := ids
		docs, err := r.store.imageDocs.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("serviceId", "in", ids)
		}, func(_ string, d serviceImageDocument) bool { return lo.Contains(ids, d.ServiceID) })
		if err != nil {
			return nil, err
		}
		for _, d := range docs {
			out = append(out, imageFromDocument(d.ID, d.Data))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *ServiceImageRepository) Delete(ctx context.Context, imageID string) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := r.store.imageDocs.Get(ctx, imageID); err != nil {
			return err
		}
		return r.store.imageDocs.Delete(ctx, imageID)
	})
}

func (r *ServiceImageRepository) deleteForServices(ctx context.Context, serviceIDs []string) error {
	images, err := r.ListByServices(ctx, serviceIDs)
	if err != nil {
		return err
	}
	for _, img := range images {
		if err := r.store.imageDocs.Delete(ctx, img.ID); err != nil {
			return err
		}
	}
	return nil
}

func imageFromDocument(id string, d serviceImageDocument) domain.ServiceImage {
	return domain.ServiceImage{ID: id, ServiceID: d.ServiceID, ImageURL: d.ImageURL, CreatedAt: d.CreatedAt.UTC()}
}
