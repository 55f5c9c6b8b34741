package sqlstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/tripdesk/api/internal/domain"
	"github.com/tripdesk/api/internal/repositories"
)

const defaultSearchLimit = 50

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// CustomerRepository implements repositories.CustomerRepository.
type CustomerRepository struct {
	store *Store
}

var _ repositories.CustomerRepository = (*CustomerRepository)(nil)

func (r *CustomerRepository) Insert(ctx context.Context, customer domain.Customer) error {
	model := customerFromDomain(customer)
	err := r.store.conn(ctx).Omit(clause.Associations).Create(&model).Error
	return wrapError("customers.insert", err)
}

func (r *CustomerRepository) Update(ctx context.Context, customer domain.Customer) error {
	model := customerFromDomain(customer)
	res := r.store.conn(ctx).
		Model(&customerModel{ID: customer.ID}).
		Select("full_name", "document_id", "phone_number", "email", "notes", "updated_at").
		Updates(&model)
	if res.Error != nil {
		return wrapError("customers.update", res.Error)
	}
	if res.RowsAffected == 0 {
		return r.exists(ctx, "customers.update", customer.ID)
	}
	return nil
}

func (r *CustomerRepository) FindByID(ctx context.Context, customerID string) (domain.Customer, error) {
	var model customerModel
	if err := r.store.conn(ctx).Where("id = ?", customerID).Take(&model).Error; err != nil {
		return domain.Customer{}, wrapError("customers.find", err)
	}
	return model.toDomain(), nil
}

func (r *CustomerRepository) FindByDocumentID(ctx context.Context, documentID string) (domain.Customer, error) {
	var model customerModel
	if err := r.store.conn(ctx).Where("document_id = ?", documentID).Take(&model).Error; err != nil {
		return domain.Customer{}, wrapError("customers.find_by_document", err)
	}
	return model.toDomain(), nil
}

func (r *CustomerRepository) Search(ctx context.Context, filter repositories.CustomerSearch) ([]domain.Customer, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	query := r.store.conn(ctx).Model(&customerModel{})
	if q := strings.TrimSpace(filter.Query); q != "" {
		pattern := "%" + likeEscaper.Replace(strings.ToLower(q)) + "%"
		query = query.Where(
			"LOWER(full_name) LIKE ? ESCAPE '!' OR LOWER(email) LIKE ? ESCAPE '!' OR LOWER(document_id) LIKE ? ESCAPE '!'",
			pattern, pattern, pattern,
		)
	}
	var models []customerModel
	if err := query.Order("full_name ASC").Order("id ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, wrapError("customers.search", err)
	}
	out := make([]domain.Customer, 0, len(models))
	for _, m := range models {
		out = append(out, m.toDomain())
	}
	return out, nil
}

func (r *CustomerRepository) Delete(ctx context.Context, customerID string) error {
	return r.store.RunInTx(ctx, func(ctx context.Context) error {
		db := r.store.conn(ctx)
		var orders int64
		if err := db.Model(&orderModel{}).Where("customer_id = ?", customerID).Count(&orders).Error; err != nil {
			return wrapError("customers.delete", err)
		}
		if orders > 0 {
			return conflict("customers.delete", "customer %s still has %d orders", customerID, orders)
		}
		res := db.Where("id = ?", customerID).Delete(&customerModel{})
		if res.Error != nil {
			return wrapError("customers.delete", res.Error)
		}
		if res.RowsAffected == 0 {
			return notFound("customers.delete", "customer %s not found", customerID)
		}
		return nil
	})
}

func (r *CustomerRepository) Count(ctx context.Context, created domain.RangeQuery[time.Time]) (int64, error) {
	var total int64
	err := applyRange(r.store.conn(ctx).Model(&customerModel{}), "created_at", created).Count(&total).Error
	return total, wrapError("customers.count", err)
}

func (r *CustomerRepository) exists(ctx context.Context, op, customerID string) error {
	var model customerModel
	err := r.store.conn(ctx).Select("id").Where("id = ?", customerID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(op, "customer %s not found", customerID)
	}
	return wrapError(op, err)
}

// applyRange adds inclusive bounds on column.
func applyRange(db *gorm.DB, column string, rng domain.RangeQuery[time.Time]) *gorm.DB {
	if rng.From != nil {
		db = db.Where(column+" >= ?", rng.From.UTC())
	}
	if rng.To != nil {
		db = db.Where(column+" <= ?", rng.To.UTC())
	}
	return db
}
