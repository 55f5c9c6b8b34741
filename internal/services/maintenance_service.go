package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	domain "github.com/tripdesk/api/internal/domain"
	"github.com/tripdesk/api/internal/repositories"
)

const countersRebuiltEvent = "counters.rebuilt"

// ErrMaintenanceUnavailable indicates the rebuild could not be persisted.
var ErrMaintenanceUnavailable = errors.New("maintenance: repository unavailable")

// MaintenanceServiceDeps bundles collaborators required to construct the maintenance service.
type MaintenanceServiceDeps struct {
	Services     repositories.ServiceRepository
	PopularTrips repositories.PopularTripRepository
	Operators    repositories.OperatorRepository
	UnitOfWork   repositories.UnitOfWork
	Clock        func() time.Time
	Events       OrderEventPublisher
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type maintenanceService struct {
	services     repositories.ServiceRepository
	popularTrips repositories.PopularTripRepository
	operators    repositories.OperatorRepository
	unitOfWork   repositories.UnitOfWork
	clock        func() time.Time
	events       OrderEventPublisher
	logger       func(context.Context, string, map[string]any)
}

// NewMaintenanceService constructs the counter rebuild service.
func NewMaintenanceService(deps MaintenanceServiceDeps) (MaintenanceService, error) {
	switch {
	case deps.Services == nil:
		return nil, errors.New("maintenance service: service repository is required")
	case deps.PopularTrips == nil:
		return nil, errors.New("maintenance service: popular trip repository is required")
	case deps.Operators == nil:
		return nil, errors.New("maintenance service: operator repository is required")
	}
	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &maintenanceService{
		services:     deps.Services,
		popularTrips: deps.PopularTrips,
		operators:    deps.Operators,
		unitOfWork:   unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		events: deps.Events,
		logger: logger,
	}, nil
}

// RebuildCounters recomputes route and operator counters from the current service rows. Sales whose
// services were deleted drop out of the counters. A dry run computes the report without writing.
func (s *maintenanceService) RebuildCounters(ctx context.Context, cmd RebuildCountersCommand) (RebuildReport, error) {
	var report RebuildReport
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		routes, err := s.services.RouteTallies(txCtx, 0)
		if err != nil {
			return err
		}
		operators, err := s.services.OperatorTallies(txCtx)
		if err != nil {
			return err
		}

		now := s.clock()
		report = RebuildReport{
			Routes:        len(routes),
			RouteSales:    lo.SumBy(routes, func(t domain.RouteTally) int64 { return t.SalesCount }),
			Operators:     len(operators),
			OperatorSales: lo.SumBy(operators, func(t domain.OperatorTally) int64 { return t.SalesCount }),
			DryRun:        cmd.DryRun,
			CompletedAt:   now,
		}
		if cmd.DryRun {
			return nil
		}
		if err := s.popularTrips.ReplaceAll(txCtx, routes, now); err != nil {
			return err
		}
		return s.operators.ResetSales(txCtx, operators, now)
	})
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) {
			return RebuildReport{}, fmt.Errorf("%w: %v", ErrMaintenanceUnavailable, err)
		}
		return RebuildReport{}, err
	}

	fields := map[string]any{
		"routes":        report.Routes,
		"routeSales":    report.RouteSales,
		"operators":     report.Operators,
		"operatorSales": report.OperatorSales,
		"dryRun":        report.DryRun,
		"actor":         strings.TrimSpace(cmd.ActorID),
	}
	s.logger(ctx, "maintenance.counters.rebuilt", fields)

	if !cmd.DryRun && s.events != nil {
		event := OrderEvent{
			Type:       countersRebuiltEvent,
			ActorID:    strings.TrimSpace(cmd.ActorID),
			OccurredAt: report.CompletedAt,
			Metadata:   fields,
		}
		if err := s.events.PublishOrderEvent(ctx, event); err != nil {
			s.logger(ctx, "order.event.publish.failed", map[string]any{"type": event.Type, "error": err.Error()})
		}
	}
	return report, nil
}
