package firestore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/tripdesk/api/internal/domain"
	pfirestore "github.com/tripdesk/api/internal/platform/firestore"
	"github.com/tripdesk/api/internal/platform/pagination"
	"github.com/tripdesk/api/internal/repositories"
)

// OrderRepository implements repositories.OrderRepository.
type OrderRepository struct {
	store *Store
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		existing, err := r.store.orderDocs.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("orderNumber", "==", order.OrderNumber).Limit(1)
		}, func(_ string, o orderDocument) bool { return o.OrderNumber == order.OrderNumber })
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return conflict("orders.insert", "order number %s already used", order.OrderNumber)
		}
		_, err = r.store.orderDocs.Create(ctx, order.ID, orderToDocument(order))
		return err
	})
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.store.orderDocs.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder("orders.find", doc)
}

// FindForUpdate reads through the session transaction, which Firestore guards with optimistic
// concurrency: a concurrent commit to the order aborts and retries this attempt.
func (r *OrderRepository) FindForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return r.FindByID(ctx, orderID)
}

func (r *OrderRepository) FindByIDs(ctx context.Context, orderIDs []string) (map[string]domain.Order, error) {
	out := make(map[string]domain.Order, len(orderIDs))
	for _, id := range orderIDs {
		if _, seen := out[id]; seen {
			continue
		}
		order, err := r.FindByID(ctx, id)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = order
	}
	return out, nil
}

func (r *OrderRepository) UpdateTotals(ctx context.Context, orderID string, totals repositories.OrderTotals) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		current, err := r.store.orderDocs.Get(ctx, orderID)
		if err != nil {
			return err
		}
		doc := current.Data
		doc.TotalCostPrice = totals.TotalCostPrice.StringFixed(domain.MoneyPlaces)
		doc.TotalSalePrice = totals.TotalSalePrice.StringFixed(domain.MoneyPlaces)
		doc.UpdatedAt = totals.UpdatedAt.UTC()
		_, err = r.store.orderDocs.Set(ctx, orderID, doc)
		return err
	})
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("orders.list: %w", err)
	}

	docs, err := r.store.orderDocs.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.CustomerID != "" {
			q = q.Where("customerId", "==", filter.CustomerID)
		}
		if filter.OperatorID != "" {
			q = q.Where("operatorId", "==", filter.OperatorID)
		}
		q = applyRange(q, "createdAt", filter.DateRange).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(pageSize + 1)
	}, nil)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	orders, err := decodeOrders("orders.list", docs)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	page := domain.CursorPage[domain.Order]{Items: orders}
	if len(orders) > pageSize {
		last := orders[pageSize-1]
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		page.Items = orders[:pageSize]
	}
	return page, nil
}

func (r *OrderRepository) ListCreated(ctx context.Context, created domain.RangeQuery[time.Time]) ([]domain.Order, error) {
	docs, err := r.store.orderDocs.Query(ctx, func(q firestore.Query) firestore.Query {
		return applyRange(q, "createdAt", created).OrderBy("createdAt", firestore.Asc)
	}, func(_ string, o orderDocument) bool { return inRange(o.CreatedAt, created) })
	if err != nil {
		return nil, err
	}
	orders, err := decodeOrders("orders.list_created", docs)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
	return orders, nil
}

func (r *OrderRepository) Count(ctx context.Context, created domain.RangeQuery[time.Time]) (int64, error) {
	return r.store.orderDocs.Count(ctx, func(q firestore.Query) firestore.Query {
		return applyRange(q, "createdAt", created)
	})
}

func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := r.store.orderDocs.Get(ctx, orderID); err != nil {
			return err
		}
		services, err := r.store.serviceDocs.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("orderId", "==", orderID)
		}, func(_ string, s serviceDocument) bool { return s.OrderID == orderID })
		if err != nil {
			return err
		}
		serviceIDs := make([]string, 0, len(services))
		for _, svc := range services {
			serviceIDs = append(serviceIDs, svc.ID)
		}
		if err := r.store.images.deleteForServices(ctx, serviceIDs); err != nil {
			return err
		}
		for _, id := range serviceIDs {
			if err := r.store.serviceDocs.Delete(ctx, id); err != nil {
				return err
			}
		}
		return r.store.orderDocs.Delete(ctx, orderID)
	})
}

func decodeOrder(op string, doc pfirestore.Document[orderDocument]) (domain.Order, error) {
	order, err := orderFromDocument(doc.ID, doc.Data)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError(op, err)
	}
	return order, nil
}

func decodeOrders(op string, docs []pfirestore.Document[orderDocument]) ([]domain.Order, error) {
	out := make([]domain.Order, 0, len(docs))
	for _, d := range docs {
		order, err := decodeOrder(op, d)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, nil
}
