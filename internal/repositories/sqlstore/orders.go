package sqlstore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	domain "github.com/tripdesk/api/internal/domain"
	"github.com/tripdesk/api/internal/platform/pagination"
	"github.com/tripdesk/api/internal/repositories"
)

// OrderRepository implements repositories.OrderRepository.
type OrderRepository struct {
	store *Store
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	model := orderFromDomain(order)
	return wrapError("orders.insert", r.store.conn(ctx).Omit(clause.Associations).Create(&model).Error)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var model orderModel
	if err := r.store.conn(ctx).Where("id = ?", orderID).Take(&model).Error; err != nil {
		return domain.Order{}, wrapError("orders.find", err)
	}
	return model.toDomain(), nil
}

func (r *OrderRepository) FindForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	var model orderModel
	db := r.store.lockForUpdate(r.store.conn(ctx))
	if err := db.Where("id = ?", orderID).Take(&model).Error; err != nil {
		return domain.Order{}, wrapError("orders.find_for_update", err)
	}
	return model.toDomain(), nil
}

func (r *OrderRepository) FindByIDs(ctx context.Context, orderIDs []string) (map[string]domain.Order, error) {
	out := make(map[string]domain.Order, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	var models []orderModel
	if err := r.store.conn(ctx).Where("id IN ?", orderIDs).Find(&models).Error; err != nil {
		return nil, wrapError("orders.find_many", err)
	}
	for _, m := range models {
		out[m.ID] = m.toDomain()
	}
	return out, nil
}

func (r *OrderRepository) UpdateTotals(ctx context.Context, orderID string, totals repositories.OrderTotals) error {
	res := r.store.conn(ctx).Model(&orderModel{}).Where("id = ?", orderID).Updates(map[string]any{
		"total_cost_price": totals.TotalCostPrice,
		"total_sale_price": totals.TotalSalePrice,
		"updated_at":       totals.UpdatedAt.UTC(),
	})
	if res.Error != nil {
		return wrapError("orders.update_totals", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, orderID); err != nil {
			return err
		}
	}
	return nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	query := r.store.conn(ctx).Model(&orderModel{})
	if filter.CustomerID != "" {
		query = query.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.OperatorID != "" {
		query = query.Where("operator_id = ?", filter.OperatorID)
	}
	query = applyRange(query, "created_at", filter.DateRange)

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, fmt.Errorf("orders.list: %w", err)
	}
	if !cursor.IsZero() {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var models []orderModel
	if err := query.Order("created_at DESC").Order("id DESC").Limit(pageSize + 1).Find(&models).Error; err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError("orders.list", err)
	}

	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, len(models))}
	if len(models) > pageSize {
		last := models[pageSize-1]
		page.NextPageToken = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		models = models[:pageSize]
	}
	for _, m := range models {
		page.Items = append(page.Items, m.toDomain())
	}
	return page, nil
}

func (r *OrderRepository) ListCreated(ctx context.Context, created domain.RangeQuery[time.Time]) ([]domain.Order, error) {
	var models []orderModel
	query := applyRange(r.store.conn(ctx).Model(&orderModel{}), "created_at", created)
	if err := query.Order("created_at ASC").Order("id ASC").Find(&models).Error; err != nil {
		return nil, wrapError("orders.list_created", err)
	}
	out := make([]domain.Order, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (r *OrderRepository) Count(ctx context.Context, created domain.RangeQuery[time.Time]) (int64, error) {
	var total int64
	err := applyRange(r.store.conn(ctx).Model(&orderModel{}), "created_at", created).Count(&total).Error
	return total, wrapError("orders.count", err)
}

func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		db := r.store.conn(ctx)
		serviceIDs := db.Model(&serviceModel{}).Select("id").Where("order_id = ?", orderID)
		if err := db.Where("service_id IN (?)", serviceIDs).Delete(&serviceImageModel{}).Error; err != nil {
			return wrapError("orders.delete", err)
		}
		if err := db.Where("order_id = ?", orderID).Delete(&serviceModel{}).Error; err != nil {
			return wrapError("orders.delete", err)
		}
		res := db.Where("id = ?", orderID).Delete(&orderModel{})
		if res.Error != nil {
			return wrapError("orders.delete", res.Error)
		}
		if res.RowsAffected == 0 {
			return notFound("orders.delete", "order %s not found", orderID)
		}
		return nil
	})
}
