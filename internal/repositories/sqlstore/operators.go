package sqlstore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/tripdesk/api/internal/domain"
	"github.com/tripdesk/api/internal/repositories"
)

// OperatorRepository implements repositories.OperatorRepository.
type OperatorRepository struct {
	store *Store
}

var _ repositories.OperatorRepository = (*OperatorRepository)(nil)

func (r *OperatorRepository) Insert(ctx context.Context, operator domain.OperatorAccount) error {
	model := operatorFromDomain(operator)
	return wrapError("operators.insert", r.store.conn(ctx).Omit(clause.Associations).Create(&model).Error)
}

// Update writes profile fields only; the sales counter is owned by IncrementSales and ResetSales.
func (r *OperatorRepository) Update(ctx context.Context, operator domain.OperatorAccount) error {
	model := operatorFromDomain(operator)
	res := r.store.conn(ctx).
		Model(&operatorModel{ID: operator.ID}).
		Select("email", "full_name", "role", "is_active", "updated_at").
		Updates(&model)
	if res.Error != nil {
		return wrapError("operators.update", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, operator.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *OperatorRepository) FindByID(ctx context.Context, operatorID string) (domain.OperatorAccount, error) {
	var model operatorModel
	if err := r.store.conn(ctx).Where("id = ?", operatorID).Take(&model).Error; err != nil {
		return domain.OperatorAccount{}, wrapError("operators.find", err)
	}
	return model.toDomain(), nil
}

func (r *OperatorRepository) List(ctx context.Context, filter repositories.OperatorListFilter) ([]domain.OperatorAccount, error) {
	query := r.store.conn(ctx).Model(&operatorModel{})
	if filter.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var models []operatorModel
	if err := query.Order("full_name ASC").Order("id ASC").Find(&models).Error; err != nil {
		return nil, wrapError("operators.list", err)
	}
	return operatorsToDomain(models), nil
}

func (r *OperatorRepository) IncrementSales(ctx context.Context, operatorID string, delta int64, at time.Time) error {
	res := r.store.conn(ctx).
		Model(&operatorModel{}).
		Where("id = ?", operatorID).
		UpdateColumns(map[string]any{
			"sales_count": gorm.Expr("sales_count + ?", delta),
			"updated_at":  at.UTC(),
		})
	if res.Error != nil {
		return wrapError("operators.increment_sales", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("operators.increment_sales", "operator %s not found", operatorID)
	}
	return nil
}

func (r *OperatorRepository) TopSellers(ctx context.Context, limit int) ([]domain.OperatorAccount, error) {
	query := r.store.conn(ctx).Where("is_active = ?", true).Order("sales_count DESC").Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []operatorModel
	if err := query.Find(&models).Error; err != nil {
		return nil, wrapError("operators.top_sellers", err)
	}
	return operatorsToDomain(models), nil
}

func (r *OperatorRepository) ResetSales(ctx context.Context, tallies []domain.OperatorTally, at time.Time) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		db := r.store.conn(ctx)
		err := db.Model(&operatorModel{}).Where("sales_count <> ?", 0).
			UpdateColumns(map[string]any{"sales_count": 0, "updated_at": at.UTC()}).Error
		if err != nil {
			return wrapError("operators.reset_sales", err)
		}
		for _, tally := range tallies {
			err := db.Model(&operatorModel{}).Where("id = ?", tally.OperatorID).
				UpdateColumns(map[string]any{"sales_count": tally.SalesCount, "updated_at": at.UTC()}).Error
			if err != nil {
				return wrapError("operators.reset_sales", err)
			}
		}
		return nil
	})
}

func (r *OperatorRepository) Delete(ctx context.Context, operatorID string) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		db := r.store.conn(ctx)
		if err := db.Model(&orderModel{}).Where("operator_id = ?", operatorID).
			UpdateColumn("operator_id", nil).Error; err != nil {
			return wrapError("operators.delete", err)
		}
		res := db.Where("id = ?", operatorID).Delete(&operatorModel{})
		if res.Error != nil {
			return wrapError("operators.delete", res.Error)
		}
		if res.RowsAffected == 0 {
			return notFound("operators.delete", "operator %s not found", operatorID)
		}
		return nil
	})
}

func operatorsToDomain(models []operatorModel) []domain.OperatorAccount {
	out := make([]domain.OperatorAccount, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out
}
