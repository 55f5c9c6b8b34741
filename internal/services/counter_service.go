package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tripdesk/api/internal/repositories"
)

const (
	orderNumberPrefix = "ORD"
	// maxOrderSequence is the largest value the six-digit sequence field can render.
	maxOrderSequence = 999_999
)

// ErrCounterExhausted reports that a year's order number sequence has run out.
var ErrCounterExhausted = errors.New("counter: exhausted")

type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
}

type counterService struct {
	repo  repositories.CounterRepository
	clock func() time.Time
}

func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &counterService{repo: deps.Repository, clock: clock}, nil
}

// NextOrderNumber issues ORD-{year}-{seq}. The sequence restarts every UTC calendar year and
// joins the caller's transaction when one is open on ctx.
func (s *counterService) NextOrderNumber(ctx context.Context) (string, error) {
	year := s.clock().UTC().Year()
	seq, err := s.repo.Next(ctx, fmt.Sprintf("orders:%04d", year))
	if err != nil {
		return "", err
	}
	if seq > maxOrderSequence {
		return "", fmt.Errorf("%w: %d order numbers issued in %d", ErrCounterExhausted, maxOrderSequence, year)
	}
	return fmt.Sprintf("%s-%04d-%06d", orderNumberPrefix, year, seq), nil
}
