package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tripdesk/api/internal/platform/auth"
	"github.com/tripdesk/api/internal/platform/httpx"
	"github.com/tripdesk/api/internal/services"
)

const internalActorFallback = "system:scheduler"

// MaintenanceHandlers exposes internal jobs invoked by the scheduler. Requests are authenticated
// by the internal OIDC middleware mounted on the group.
type MaintenanceHandlers struct {
	maintenance services.MaintenanceService
}

func NewMaintenanceHandlers(maintenance services.MaintenanceService) *MaintenanceHandlers {
	return &MaintenanceHandlers{maintenance: maintenance}
}

// Routes registers the /internal endpoints.
func (h *MaintenanceHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/maintenance/rebuild-counters", h.rebuildCounters)
}

type rebuildReportResponse struct {
	Routes        int    `json:"routes"`
	RouteSales    int64  `json:"routeSales"`
	Operators     int    `json:"operators"`
	OperatorSales int64  `json:"operatorSales"`
	DryRun        bool   `json:"dryRun"`
	CompletedAt   string `json:"completedAt"`
}

func (h *MaintenanceHandlers) rebuildCounters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.maintenance == nil {
		httpx.WriteError(ctx, w, httpx.NewError("maintenance_unavailable", "maintenance service unavailable", http.StatusServiceUnavailable))
		return
	}
	dryRun, err := parseBoolParam(r.URL.Query().Get("dryRun"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "dryRun must be a boolean", http.StatusBadRequest))
		return
	}

	actor := internalActorFallback
	if identity, ok := auth.ServiceIdentityFromContext(ctx); ok {
		switch {
		case strings.TrimSpace(identity.Email) != "":
			actor = strings.TrimSpace(identity.Email)
		case strings.TrimSpace(identity.Subject) != "":
			actor = strings.TrimSpace(identity.Subject)
		}
	}

	report, err := h.maintenance.RebuildCounters(ctx, services.RebuildCountersCommand{ActorID: actor, DryRun: dryRun})
	if err != nil {
		if errors.Is(err, services.ErrMaintenanceUnavailable) {
			httpx.WriteError(ctx, w, httpx.NewError("maintenance_unavailable", "counter rebuild could not be persisted", http.StatusServiceUnavailable))
			return
		}
		writeRepositoryError(ctx, w, err, "maintenance")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rebuildReportResponse{
		Routes:        report.Routes,
		RouteSales:    report.RouteSales,
		Operators:     report.Operators,
		OperatorSales: report.OperatorSales,
		DryRun:        report.DryRun,
		CompletedAt:   formatTime(report.CompletedAt),
	})
}
