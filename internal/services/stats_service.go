package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	domain "github.com/tripdesk/api/internal/domain"
	"github.com/tripdesk/api/internal/repositories"
)

const (
	// PopularTripsStrategyCounter ranks routes by the append-only counters.
	PopularTripsStrategyCounter = "counter"
	// PopularTripsStrategyLive ranks routes by grouping the current service rows.
	PopularTripsStrategyLive = "live"

	defaultRankingLimit = 10
	maxRankingLimit     = 100
	growthWindow        = 30 * 24 * time.Hour
	profitSummaryPeriod = "total"
)

var (
	// ErrStatsInvalidInput signals invalid query parameters.
	ErrStatsInvalidInput = errors.New("stats: invalid input")
	// ErrStatsUnavailable indicates the persistence layer failed.
	ErrStatsUnavailable = errors.New("stats: repository unavailable")
)

// StatsServiceDeps bundles collaborators required to construct the stats service.
type StatsServiceDeps struct {
	Customers    repositories.CustomerRepository
	Orders       repositories.OrderRepository
	Services     repositories.ServiceRepository
	Locations    repositories.LocationRepository
	PopularTrips repositories.PopularTripRepository
	Operators    repositories.OperatorRepository
	// PopularTripsStrategy is fixed per deployment: counter (default) or live.
	PopularTripsStrategy string
	// ReportingLocation is the time zone profit buckets are cut in. Defaults to UTC.
	ReportingLocation *time.Location
	Clock             func() time.Time
}

type statsService struct {
	customers    repositories.CustomerRepository
	orders       repositories.OrderRepository
	services     repositories.ServiceRepository
	locations    repositories.LocationRepository
	popularTrips repositories.PopularTripRepository
	operators    repositories.OperatorRepository
	strategy     string
	location     *time.Location
	clock        func() time.Time
}

// NewStatsService constructs the ranking and reporting service.
func NewStatsService(deps StatsServiceDeps) (StatsService, error) {
	switch {
	case deps.Customers == nil:
		return nil, errors.New("stats service: customer repository is required")
	case deps.Orders == nil:
		return nil, errors.New("stats service: order repository is required")
	case deps.Services == nil:
		return nil, errors.New("stats service: service repository is required")
	case deps.Locations == nil:
		return nil, errors.New("stats service: location repository is required")
	case deps.PopularTrips == nil:
		return nil, errors.New("stats service: popular trip repository is required")
	case deps.Operators == nil:
		return nil, errors.New("stats service: operator repository is required")
	}

	strategy := strings.ToLower(strings.TrimSpace(deps.PopularTripsStrategy))
	switch strategy {
	case "":
		strategy = PopularTripsStrategyCounter
	case PopularTripsStrategyCounter, PopularTripsStrategyLive:
	default:
		return nil, fmt.Errorf("stats service: unknown popular trips strategy %q", deps.PopularTripsStrategy)
	}

	loc := deps.ReportingLocation
	if loc == nil {
		loc = time.UTC
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &statsService{
		customers:    deps.Customers,
		orders:       deps.Orders,
		services:     deps.Services,
		locations:    deps.Locations,
		popularTrips: deps.PopularTrips,
		operators:    deps.Operators,
		strategy:     strategy,
		location:     loc,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *statsService) PopularTrips(ctx context.Context, limit int) ([]PopularTrip, error) {
	limit, err := rankingLimit(limit)
	if err != nil {
		return nil, err
	}

	var tallies []domain.RouteTally
	ids := map[domain.RouteTally]string{}
	if s.strategy == PopularTripsStrategyLive {
		tallies, err = s.services.RouteTallies(ctx, limit)
		if err != nil {
			return nil, mapStatsError(err)
		}
	} else {
		counters, err := s.popularTrips.Top(ctx, limit)
		if err != nil {
			return nil, mapStatsError(err)
		}
		tallies = lo.Map(counters, func(c domain.PopularTripCounter, _ int) domain.RouteTally {
			tally := domain.RouteTally{
				OriginLocationID:      c.OriginLocationID,
				DestinationLocationID: c.DestinationLocationID,
				SalesCount:            c.SalesCount,
			}
			ids[tally] = c.ID
			return tally
		})
	}

	locationIDs := lo.Uniq(lo.FlatMap(tallies, func(t domain.RouteTally, _ int) []string {
		return []string{t.OriginLocationID, t.DestinationLocationID}
	}))
	locations := map[string]domain.Location{}
	if len(locationIDs) > 0 {
		locations, err = s.locations.FindByIDs(ctx, locationIDs)
		if err != nil {
			return nil, mapStatsError(err)
		}
	}

	return lo.FilterMap(tallies, func(t domain.RouteTally, _ int) (PopularTrip, bool) {
		origin, okOrigin := locations[t.OriginLocationID]
		destination, okDestination := locations[t.DestinationLocationID]
		if !okOrigin || !okDestination {
			return PopularTrip{}, false
		}
		id, ok := ids[t]
		if !ok {
			id = t.OriginLocationID + ":" + t.DestinationLocationID
		}
		return PopularTrip{
			ID:                  id,
			OriginLocation:      origin,
			DestinationLocation: destination,
			SalesCount:          t.SalesCount,
		}, true
	}), nil
}

func (s *statsService) TopSellers(ctx context.Context, limit int) ([]OperatorAccount, error) {
	limit, err := rankingLimit(limit)
	if err != nil {
		return nil, err
	}
	sellers, err := s.operators.TopSellers(ctx, limit)
	if err != nil {
		return nil, mapStatsError(err)
	}
	return sellers, nil
}

// ProfitStats buckets orders by creation time in the reporting time zone.
func (s *statsService) ProfitStats(ctx context.Context, filter ProfitStatsFilter) (ProfitStats, error) {
	grouping := domain.ProfitGroupingMonth
	if raw := strings.ToLower(strings.TrimSpace(filter.GroupBy)); raw != "" {
		grouping = domain.ProfitGrouping(raw)
		switch grouping {
		case domain.ProfitGroupingDay, domain.ProfitGroupingWeek, domain.ProfitGroupingMonth, domain.ProfitGroupingYear:
		default:
			return ProfitStats{}, fmt.Errorf("%w: groupBy must be one of day, week, month, year", ErrStatsInvalidInput)
		}
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return ProfitStats{}, fmt.Errorf("%w: to must not be before from", ErrStatsInvalidInput)
	}

	orders, err := s.orders.ListCreated(ctx, domain.RangeQuery[time.Time]{From: filter.From, To: filter.To})
	if err != nil {
		return ProfitStats{}, mapStatsError(err)
	}

	groups := lo.GroupBy(orders, func(o Order) string {
		return periodLabel(o.CreatedAt.In(s.location), grouping)
	})
	periods := lo.Keys(groups)
	slices.Sort(periods)

	buckets := lo.Map(periods, func(period string, _ int) domain.ProfitBucket {
		return sumBucket(period, groups[period])
	})
	return ProfitStats{
		GroupBy: grouping,
		Buckets: buckets,
		Summary: sumBucket(profitSummaryPeriod, orders),
	}, nil
}

// DashboardMetrics compares the last 30 days with the 30 days before them.
func (s *statsService) DashboardMetrics(ctx context.Context) (DashboardMetrics, error) {
	now := s.clock()
	recentFrom := now.Add(-growthWindow)
	previousFrom := recentFrom.Add(-growthWindow)
	previousTo := recentFrom.Add(-time.Nanosecond)
	all := domain.RangeQuery[time.Time]{}
	recent := domain.RangeQuery[time.Time]{From: &recentFrom, To: &now}
	previous := domain.RangeQuery[time.Time]{From: &previousFrom, To: &previousTo}

	var metrics DashboardMetrics
	var customersRecent, customersPrevious, ordersRecent, ordersPrevious int64
	var err error
	if metrics.TotalCustomers, err = s.customers.Count(ctx, all); err != nil {
		return DashboardMetrics{}, mapStatsError(err)
	}
	if customersRecent, err = s.customers.Count(ctx, recent); err != nil {
		return DashboardMetrics{}, mapStatsError(err)
	}
	if customersPrevious, err = s.customers.Count(ctx, previous); err != nil {
		return DashboardMetrics{}, mapStatsError(err)
	}
	if metrics.TotalOrders, err = s.orders.Count(ctx, all); err != nil {
		return DashboardMetrics{}, mapStatsError(err)
	}
	if ordersRecent, err = s.orders.Count(ctx, recent); err != nil {
		return DashboardMetrics{}, mapStatsError(err)
	}
	if ordersPrevious, err = s.orders.Count(ctx, previous); err != nil {
		return DashboardMetrics{}, mapStatsError(err)
	}
	orders, err := s.orders.ListCreated(ctx, all)
	if err != nil {
		return DashboardMetrics{}, mapStatsError(err)
	}

	metrics.TotalProfit = sumBucket(profitSummaryPeriod, orders).TotalProfit()
	metrics.CustomersGrowth = growthRate(customersRecent, customersPrevious)
	metrics.OrdersGrowth = growthRate(ordersRecent, ordersPrevious)
	metrics.GeneratedAt = now
	return metrics, nil
}

func rankingLimit(limit int) (int, error) {
	switch {
	case limit == 0:
		return defaultRankingLimit, nil
	case limit < 1 || limit > maxRankingLimit:
		return 0, fmt.Errorf("%w: limit must be between 1 and %d", ErrStatsInvalidInput, maxRankingLimit)
	default:
		return limit, nil
	}
}

func periodLabel(t time.Time, grouping domain.ProfitGrouping) string {
	switch grouping {
	case domain.ProfitGroupingDay:
		return t.Format("2006-01-02")
	case domain.ProfitGroupingWeek:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case domain.ProfitGroupingYear:
		return t.Format("2006")
	default:
		return t.Format("2006-01")
	}
}

func sumBucket(period string, orders []Order) domain.ProfitBucket {
	return lo.Reduce(orders, func(acc domain.ProfitBucket, o Order, _ int) domain.ProfitBucket {
		acc.TotalCost = acc.TotalCost.Add(o.TotalCostPrice)
		acc.TotalSales = acc.TotalSales.Add(o.TotalSalePrice)
		acc.OrderCount++
		return acc
	}, domain.ProfitBucket{Period: period, TotalCost: decimal.Zero, TotalSales: decimal.Zero})
}

// growthRate is the percentage change from previous to recent, 0 when there is no baseline.
func growthRate(recent, previous int64) decimal.Decimal {
	if previous == 0 {
		return decimal.Zero
	}
	delta := decimal.NewFromInt(recent - previous)
	return delta.Div(decimal.NewFromInt(previous)).Mul(decimal.NewFromInt(100)).Round(2)
}

func mapStatsError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && (repoErr.IsUnavailable() || repoErr.IsConflict()) {
		return fmt.Errorf("%w: %v", ErrStatsUnavailable, err)
	}
	return err
}
