package sqlstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tripdesk/api/internal/repositories"
)

// CounterRepository increments with a single upsert so concurrent callers never share a value.
type CounterRepository struct {
	store *Store
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

func (r *CounterRepository) Next(ctx context.Context, counterID string) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, errors.New("counters.next: counter id is required")
	}

	var next int64
	err := r.store.RunInTx(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()
		db := r.store.conn(ctx)
		err := db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"current_value": gorm.Expr("current_value + 1"),
				"updated_at":    now,
			}),
		}).Create(&counterModel{ID: id, CurrentValue: 1, UpdatedAt: now}).Error
		if err != nil {
			return wrapError("counters.next", err)
		}
		var current counterModel
		if err := db.Where("id = ?", id).Take(&current).Error; err != nil {
			return wrapError("counters.next", err)
		}
		next = current.CurrentValue
		return nil
	})
	return next, err
}
