package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tripdesk/api/internal/domain"
	"github.com/tripdesk/api/internal/repositories"
)

// OrderAggregatorDeps bundles collaborators required to construct the aggregator.
type OrderAggregatorDeps struct {
	Orders   repositories.OrderRepository
	Services repositories.ServiceRepository
	Clock    func() time.Time
}

type orderAggregator struct {
	orders   repositories.OrderRepository
	services repositories.ServiceRepository
	clock    func() time.Time
}

// NewOrderAggregator constructs the aggregator. Repository failures are returned unchanged so the
// caller can roll back and classify them. Totals beyond the stored precision fail with
// domain.ErrInvalidAmount before anything is written.
func NewOrderAggregator(deps OrderAggregatorDeps) (OrderAggregator, error) {
	if deps.Orders == nil {
		return nil, errors.New("order aggregator: order repository is required")
	}
	if deps.Services == nil {
		return nil, errors.New("order aggregator: service repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &orderAggregator{
		orders:   deps.Orders,
		services: deps.Services,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// Recalculate re-derives both totals from the full current service set and writes them in one update.
func (a *orderAggregator) Recalculate(ctx context.Context, orderID string) (repositories.OrderTotals, error) {
	services, err := a.services.ListByOrder(ctx, orderID)
	if err != nil {
		return repositories.OrderTotals{}, err
	}
	totals := ComputeTotals(services)
	if err := domain.ValidateTotal("totalCostPrice", totals.TotalCostPrice); err != nil {
		return repositories.OrderTotals{}, err
	}
	if err := domain.ValidateTotal("totalSalePrice", totals.TotalSalePrice); err != nil {
		return repositories.OrderTotals{}, err
	}
	totals.UpdatedAt = a.clock()
	if err := a.orders.UpdateTotals(ctx, orderID, totals); err != nil {
		return repositories.OrderTotals{}, err
	}
	return totals, nil
}

// ComputeTotals sums cost and sale prices exactly. Rounding is left to presentation.
func ComputeTotals(services []Service) repositories.OrderTotals {
	cost := decimal.Zero
	sale := decimal.Zero
	for _, svc := range services {
		cost = cost.Add(svc.CostPrice)
		sale = sale.Add(svc.SalePrice)
	}
	return repositories.OrderTotals{TotalCostPrice: cost, TotalSalePrice: sale}
}
