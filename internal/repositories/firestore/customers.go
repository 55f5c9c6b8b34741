package firestore

import (
	"context"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/samber/lo"

	domain "github.com/tripdesk/api/internal/domain"
	pfirestore "github.com/tripdesk/api/internal/platform/firestore"
	"github.com/tripdesk/api/internal/repositories"
)

const defaultSearchLimit = 50

// CustomerRepository implements repositories.CustomerRepository.
type CustomerRepository struct {
	store *Store
}

var _ repositories.CustomerRepository = (*CustomerRepository)(nil)

func (r *CustomerRepository) Insert(ctx context.Context, customer domain.Customer) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := r.ensureDocumentIDFree(ctx, "customers.insert", customer); err != nil {
			return err
		}
		_, err := r.store.customerDocs.Create(ctx, customer.ID, customerToDocument(customer))
		return err
	})
}

func (r *CustomerRepository) Update(ctx context.Context, customer domain.Customer) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		current, err := r.store.customerDocs.Get(ctx, customer.ID)
		if err != nil {
			return err
		}
		if err := r.ensureDocumentIDFree(ctx, "customers.update", customer); err != nil {
			return err
		}
		doc := customerToDocument(customer)
		doc.CreatedAt = current.Data.CreatedAt
		_, err = r.store.customerDocs.Set(ctx, customer.ID, doc)
		return err
	})
}

func (r *CustomerRepository) FindByID(ctx context.Context, customerID string) (domain.Customer, error) {
	doc, err := r.store.customerDocs.Get(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	return customerFromDocument(doc.ID, doc.Data), nil
}

func (r *CustomerRepository) FindByDocumentID(ctx context.Context, documentID string) (domain.Customer, error) {
	docs, err := r.byDocumentID(ctx, documentID)
	if err != nil {
		return domain.Customer{}, err
	}
	if len(docs) == 0 {
		return domain.Customer{}, notFound("customers.find_by_document", "customer with document %s not found", documentID)
	}
	return customerFromDocument(docs[0].ID, docs[0].Data), nil
}

// Search filters in memory; Firestore has no substring matching.
func (r *CustomerRepository) Search(ctx context.Context, filter repositories.CustomerSearch) ([]domain.Customer, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	docs, err := r.store.customerDocs.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("fullName", firestore.Asc)
	}, nil)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(filter.Query))
	matches := lo.FilterMap(docs, func(d pfirestore.Document[customerDocument], _ int) (domain.Customer, bool) {
		c := customerFromDocument(d.ID, d.Data)
		if needle == "" {
			return c, true
		}
		fields := []string{c.FullName, lo.FromPtr(c.Email), lo.FromPtr(c.DocumentID)}
		return c, lo.SomeBy(fields, func(f string) bool {
			return strings.Contains(strings.ToLower(f), needle)
		})
	})
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].FullName != matches[j].FullName {
			return matches[i].FullName < matches[j].FullName
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (r *CustomerRepository) Delete(ctx context.Context, customerID string) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := r.store.customerDocs.Get(ctx, customerID); err != nil {
			return err
		}
		orders, err := r.store.orderDocs.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("customerId", "==", customerID).Limit(1)
		}, func(_ string, o orderDocument) bool { return o.CustomerID == customerID })
		if err != nil {
			return err
		}
		if len(orders) > 0 {
			return conflict("customers.delete", "customer %s still has orders", customerID)
		}
		return r.store.customerDocs.Delete(ctx, customerID)
	})
}

func (r *CustomerRepository) Count(ctx context.Context, created domain.RangeQuery[time.Time]) (int64, error) {
	return r.store.customerDocs.Count(ctx, func(q firestore.Query) firestore.Query {
		return applyRange(q, "createdAt", created)
	})
}

func (r *CustomerRepository) byDocumentID(ctx context.Context, documentID string) ([]pfirestore.Document[customerDocument], error) {
	return r.store.customerDocs.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("documentId", "==", documentID).Limit(2)
	}, func(_ string, c customerDocument) bool { return equalPtr(c.DocumentID, documentID) })
}

// ensureDocumentIDFree enforces uniqueness of the identity document number.
func (r *CustomerRepository) ensureDocumentIDFree(ctx context.Context, op string, customer domain.Customer) error {
	if customer.DocumentID == nil {
		return nil
	}
	docs, err := r.byDocumentID(ctx, *customer.DocumentID)
	if err != nil {
		return err
	}
	for _, d := range docs {
		if d.ID != customer.ID {
			return conflict(op, "document id %s already belongs to customer %s", *customer.DocumentID, d.ID)
		}
	}
	return nil
}
