package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/tripdesk/api/internal/platform/httpx"
	"github.com/tripdesk/api/internal/services"
)

// ExportHandlers serves the order dataset consumed by report renderers.
type ExportHandlers struct {
	guard   *AccessGuard
	exports services.ExportService
	limiter *keyedLimiter
}

// ExportOption customises ExportHandlers.
type ExportOption func(*ExportHandlers)

// WithExportRateLimit caps dataset requests per operator within the window.
func WithExportRateLimit(limit int, window time.Duration, clock func() time.Time) ExportOption {
	return func(h *ExportHandlers) {
		h.limiter = newKeyedLimiter(limit, window, clock)
	}
}

func NewExportHandlers(guard *AccessGuard, exports services.ExportService, opts ...ExportOption) *ExportHandlers {
	h := &ExportHandlers{guard: guard, exports: exports}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /exports endpoints.
func (h *ExportHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	guard(r, h.guard)
	r.Get("/orders", h.ordersDataset)
}

type exportResponse struct {
	Items       []orderDetailsPayload `json:"items"`
	Count       int                   `json:"count"`
	GeneratedAt string                `json:"generatedAt"`
}

func (h *ExportHandlers) ordersDataset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.exports == nil {
		httpx.WriteError(ctx, w, httpx.NewError("export_service_unavailable", "export service unavailable", http.StatusServiceUnavailable))
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	if ok, wait := h.limiter.allow(actor); !ok {
		writeRateLimited(w, r, wait, "too many export requests")
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
	filter := services.ExportFilter{DepartureFrom: from, DepartureTo: to}
	if serviceType := strings.TrimSpace(query.Get("serviceType")); serviceType != "" {
		filter.ServiceType = &serviceType
	}

	dataset, err := h.exports.OrdersDataset(ctx, filter)
	if err != nil {
		writeExportError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, exportResponse{
		Items:       lo.Map(dataset, func(d services.OrderDetails, _ int) orderDetailsPayload { return buildOrderDetailsPayload(d) }),
		Count:       len(dataset),
		GeneratedAt: formatTime(time.Now()),
	})
}

func writeExportError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrExportInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrExportUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("export_service_unavailable", "export repository unavailable", http.StatusServiceUnavailable))
	default:
		writeRepositoryError(ctx, w, err, "export")
	}
}
