package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	pfirestore "github.com/tripdesk/api/internal/platform/firestore"
	"github.com/tripdesk/api/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository reads and bumps the counter document inside a session, so concurrent
// callers are serialised by transaction retries.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.BaseRepository[counterDocument]
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewBaseRepository[counterDocument](provider, countersCollection, nil, nil),
	}, nil
}

func (r *CounterRepository) Next(ctx context.Context, counterID string) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, errors.New("counters.next: counter id is required")
	}

	var next int64
	err := r.provider.RunInSession(ctx, func(ctx context.Context) error {
		var doc counterDocument
		current, err := r.counters.Get(ctx, id)
		switch {
		case err == nil:
			doc = current.Data
		case !isNotFound(err):
			return err
		}
		doc.CurrentValue++
		doc.UpdatedAt = time.Now().UTC()
		if _, err := r.counters.Set(ctx, id, doc); err != nil {
			return err
		}
		next = doc.CurrentValue
		return nil
	})
	if err != nil {
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return next, nil
}
