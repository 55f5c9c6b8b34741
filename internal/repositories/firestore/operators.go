package firestore

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/samber/lo"

	domain "github.com/tripdesk/api/internal/domain"
	pfirestore "github.com/tripdesk/api/internal/platform/firestore"
	"github.com/tripdesk/api/internal/repositories"
)

// OperatorRepository implements repositories.OperatorRepository.
type OperatorRepository struct {
	store *Store
}

var _ repositories.OperatorRepository = (*OperatorRepository)(nil)

func (r *OperatorRepository) Insert(ctx context.Context, operator domain.OperatorAccount) error {
	_, err := r.store.operatorDocs.Create(ctx, operator.ID, operatorToDocument(operator))
	return err
}

// Update writes profile fields only; the sales counter is owned by IncrementSales and ResetSales.
func (r *OperatorRepository) Update(ctx context.Context, operator domain.OperatorAccount) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		current, err := r.store.operatorDocs.Get(ctx, operator.ID)
		if err != nil {
			return err
		}
		doc := current.Data
		doc.Email = operator.Email
		doc.FullName = operator.FullName
		doc.Role = operator.Role
		doc.IsActive = operator.IsActive
		doc.UpdatedAt = operator.UpdatedAt.UTC()
		_, err = r.store.operatorDocs.Set(ctx, operator.ID, doc)
		return err
	})
}

func (r *OperatorRepository) FindByID(ctx context.Context, operatorID string) (domain.OperatorAccount, error) {
	doc, err := r.store.operatorDocs.Get(ctx, operatorID)
	if err != nil {
		return domain.OperatorAccount{}, err
	}
	return operatorFromDocument(doc.ID, doc.Data), nil
}

func (r *OperatorRepository) List(ctx context.Context, filter repositories.OperatorListFilter) ([]domain.OperatorAccount, error) {
	docs, err := r.store.operatorDocs.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.ActiveOnly {
			q = q.Where("isActive", "==", true)
		}
		return q
	}, nil)
	if err != nil {
		return nil, err
	}
	out := operatorsFromDocuments(docs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FullName != out[j].FullName {
			return out[i].FullName < out[j].FullName
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *OperatorRepository) IncrementSales(ctx context.Context, operatorID string, delta int64, at time.Time) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		current, err := r.store.operatorDocs.Get(ctx, operatorID)
		if err != nil {
			return err
		}
		doc := current.Data
		doc.SalesCount += delta
		doc.UpdatedAt = at.UTC()
		_, err = r.store.operatorDocs.Set(ctx, operatorID, doc)
		return err
	})
}

func (r *OperatorRepository) TopSellers(ctx context.Context, limit int) ([]domain.OperatorAccount, error) {
	docs, err := r.store.operatorDocs.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("isActive", "==", true).
			OrderBy("salesCount", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Asc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	}, nil)
	if err != nil {
		return nil, err
	}
	return operatorsFromDocuments(docs), nil
}

func (r *OperatorRepository) ResetSales(ctx context.Context, tallies []domain.OperatorTally, at time.Time) error {
	counts := lo.SliceToMap(tallies, func(t domain.OperatorTally) (string, int64) {
		return t.OperatorID, t.SalesCount
	})
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		docs, err := r.store.operatorDocs.Query(ctx, nil, nil)
		if err != nil {
			return err
		}
		for _, d := range docs {
			want := counts[d.ID]
			if d.Data.SalesCount == want {
				continue
			}
			doc := d.Data
			doc.SalesCount = want
			doc.UpdatedAt = at.UTC()
			if _, err := r.store.operatorDocs.Set(ctx, d.ID, doc); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *OperatorRepository) Delete(ctx context.Context, operatorID string) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := r.store.operatorDocs.Get(ctx, operatorID); err != nil {
			return err
		}
		orders, err := r.store.orderDocs.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("operatorId", "==", operatorID)
		}, func(_ string, o orderDocument) bool { return equalPtr(o.OperatorID, operatorID) })
		if err != nil {
			return err
		}
		for _, o := range orders {
			doc := o.Data
			doc.OperatorID = nil
			if _, err := r.store.orderDocs.Set(ctx, o.ID, doc); err != nil {
				return err
			}
		}
		return r.store.operatorDocs.Delete(ctx, operatorID)
	})
}

func operatorsFromDocuments(docs []pfirestore.Document[operatorDocument]) []domain.OperatorAccount {
	return lo.Map(docs, func(d pfirestore.Document[operatorDocument], _ int) domain.OperatorAccount {
		return operatorFromDocument(d.ID, d.Data)
	})
}
