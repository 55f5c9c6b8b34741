package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	domain "github.com/tripdesk/api/internal/domain"
	"github.com/tripdesk/api/internal/platform/httpx"
	"github.com/tripdesk/api/internal/services"
)

// StatsHandlers serves the reporting endpoints.
type StatsHandlers struct {
	guard *AccessGuard
	stats services.StatsService
}

func NewStatsHandlers(guard *AccessGuard, stats services.StatsService) *StatsHandlers {
	return &StatsHandlers{guard: guard, stats: stats}
}

// Routes registers the /stats endpoints.
func (h *StatsHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	guard(r, h.guard)
	r.Get("/profits", h.profitStats)
	r.Get("/popular-trips", h.popularTrips)
	r.Get("/metrics", h.dashboardMetrics)
}

// SellerRoutes registers the /operators ranking endpoints.
func (h *StatsHandlers) SellerRoutes(r chi.Router) {
	if r == nil {
		return
	}
	guard(r, h.guard)
	r.Get("/top-sellers", h.topSellers)
}

type profitBucketPayload struct {
	Period      string `json:"period"`
	TotalCost   string `json:"totalCost"`
	TotalSales  string `json:"totalSales"`
	TotalProfit string `json:"totalProfit"`
	OrderCount  int64  `json:"orderCount"`
}

type profitStatsResponse struct {
	GroupBy string                `json:"groupBy"`
	Buckets []profitBucketPayload `json:"buckets"`
	Summary profitBucketPayload   `json:"summary"`
}

type popularTripPayload struct {
	ID                  string          `json:"id"`
	OriginLocation      locationPayload `json:"originLocation"`
	DestinationLocation locationPayload `json:"destinationLocation"`
	SalesCount          int64           `json:"salesCount"`
}

type popularTripsResponse struct {
	Items []popularTripPayload `json:"items"`
}

type dashboardMetricsResponse struct {
	TotalCustomers  int64  `json:"totalCustomers"`
	TotalOrders     int64  `json:"totalOrders"`
	TotalProfit     string `json:"totalProfit"`
	CustomersGrowth string `json:"customersGrowth"`
	OrdersGrowth    string `json:"ordersGrowth"`
	GeneratedAt     string `json:"generatedAt"`
}

type topSellersResponse struct {
	Items []operatorPayload `json:"items"`
}

func (h *StatsHandlers) profitStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}

	query := r.URL.Query()
	from, err := optionalTimeParam(query.Get("from"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "from must be an RFC3339 timestamp or YYYY-MM-DD date", http.StatusBadRequest))
		return
	}
	to, err := optionalTimeParam(query.Get("to"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "to must be an RFC3339 timestamp or YYYY-MM-DD date", http.StatusBadRequest))
		return
	}

	stats, err := h.stats.ProfitStats(ctx, services.ProfitStatsFilter{
		GroupBy: query.Get("groupBy"),
		From:    from,
		To:      to,
	})
	if err != nil {
		writeStatsError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, profitStatsResponse{
		GroupBy: string(stats.GroupBy),
		Buckets: lo.Map(stats.Buckets, func(b domain.ProfitBucket, _ int) profitBucketPayload { return buildProfitBucketPayload(b) }),
		Summary: buildProfitBucketPayload(stats.Summary),
	})
}

func (h *StatsHandlers) popularTrips(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	limit, err := parseLimitParam(r.URL.Query().Get("limit"), 0)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	trips, err := h.stats.PopularTrips(ctx, limit)
	if err != nil {
		writeStatsError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, popularTripsResponse{
		Items: lo.Map(trips, func(trip services.PopularTrip, _ int) popularTripPayload {
			return popularTripPayload{
				ID:                  trip.ID,
				OriginLocation:      buildLocationPayload(trip.OriginLocation),
				DestinationLocation: buildLocationPayload(trip.DestinationLocation),
				SalesCount:          trip.SalesCount,
			}
		}),
	})
}

func (h *StatsHandlers) dashboardMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	metrics, err := h.stats.DashboardMetrics(ctx)
	if err != nil {
		writeStatsError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, dashboardMetricsResponse{
		TotalCustomers:  metrics.TotalCustomers,
		TotalOrders:     metrics.TotalOrders,
		TotalProfit:     formatMoney(metrics.TotalProfit),
		CustomersGrowth: metrics.CustomersGrowth.StringFixed(2),
		OrdersGrowth:    metrics.OrdersGrowth.StringFixed(2),
		GeneratedAt:     formatTime(metrics.GeneratedAt),
	})
}

func (h *StatsHandlers) topSellers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	limit, err := parseLimitParam(r.URL.Query().Get("limit"), 0)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	sellers, err := h.stats.TopSellers(ctx, limit)
	if err != nil {
		writeStatsError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, topSellersResponse{
		Items: lo.Map(sellers, func(op services.OperatorAccount, _ int) operatorPayload { return buildOperatorPayload(op) }),
	})
}

func (h *StatsHandlers) available(ctx context.Context, w http.ResponseWriter) bool {
	if h.stats == nil {
		httpx.WriteError(ctx, w, httpx.NewError("stats_service_unavailable", "stats service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func buildProfitBucketPayload(bucket domain.ProfitBucket) profitBucketPayload {
	return profitBucketPayload{
		Period:      bucket.Period,
		TotalCost:   formatMoney(bucket.TotalCost),
		TotalSales:  formatMoney(bucket.TotalSales),
		TotalProfit: formatMoney(bucket.TotalProfit()),
		OrderCount:  bucket.OrderCount,
	}
}

func writeStatsError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrStatsInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrStatsUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("stats_service_unavailable", "stats repository unavailable", http.StatusServiceUnavailable))
	default:
		writeRepositoryError(ctx, w, err, "stats")
	}
}
