package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/tripdesk/api/internal/platform/auth"
	"github.com/tripdesk/api/internal/platform/httpx"
	"github.com/tripdesk/api/internal/services"
)

// OperatorHandlers serves the current operator profile and the admin account controls.
type OperatorHandlers struct {
	guard     *AccessGuard
	operators services.OperatorService
}

func NewOperatorHandlers(guard *AccessGuard, operators services.OperatorService) *OperatorHandlers {
	return &OperatorHandlers{guard: guard, operators: operators}
}

// MeRoutes registers the /me endpoints.
func (h *OperatorHandlers) MeRoutes(r chi.Router) {
	if r == nil {
		return
	}
	guard(r, h.guard)
	r.Get("/", h.getMe)
}

// AdminRoutes registers the /admin operator management endpoints. Admin role required.
func (h *OperatorHandlers) AdminRoutes(r chi.Router) {
	if r == nil {
		return
	}
	guard(r, h.guard, auth.RoleAdmin)
	r.Get("/operators", h.listOperators)
	r.Patch("/operators/{operatorID}", h.setOperatorActive)
	r.Delete("/operators/{operatorID}", h.deleteOperator)
}

type operatorPayload struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FullName   string `json:"fullName"`
	Role       string `json:"role"`
	SalesCount int64  `json:"salesCount"`
	IsActive   bool   `json:"isActive"`
	CreatedAt  string `json:"createdAt,omitempty"`
	UpdatedAt  string `json:"updatedAt,omitempty"`
}

type operatorResponse struct {
	Operator operatorPayload `json:"operator"`
}

type operatorListResponse struct {
	Items []operatorPayload `json:"items"`
}

type setOperatorActiveRequest struct {
	Active *bool `json:"active"`
}

func (h *OperatorHandlers) getMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if account, ok := operatorFromContext(ctx); ok {
		httpx.WriteJSON(w, http.StatusOK, operatorResponse{Operator: buildOperatorPayload(account)})
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	if !h.available(ctx, w) {
		return
	}
	account, err := h.operators.GetOperator(ctx, actor)
	if err != nil {
		writeOperatorError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, operatorResponse{Operator: buildOperatorPayload(account)})
}

func (h *OperatorHandlers) listOperators(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	query := r.URL.Query()
	limit, err := parseLimitParam(query.Get("limit"), 0)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	activeOnly, err := parseBoolParam(query.Get("activeOnly"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "activeOnly must be a boolean", http.StatusBadRequest))
		return
	}

	accounts, err := h.operators.ListOperators(ctx, services.OperatorListFilter{ActiveOnly: activeOnly, Limit: limit})
	if err != nil {
		writeOperatorError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, operatorListResponse{
		Items: lo.Map(accounts, func(op services.OperatorAccount, _ int) operatorPayload { return buildOperatorPayload(op) }),
	})
}

func (h *OperatorHandlers) setOperatorActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	operatorID, ok := pathID(ctx, w, r, "operatorID", "operator")
	if !ok {
		return
	}

	var req setOperatorActiveRequest
	if err := decodeJSONBody(r, defaultBodyLimit, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if req.Active == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "active is required", http.StatusBadRequest))
		return
	}

	account, err := h.operators.SetOperatorActive(ctx, services.SetOperatorActiveCommand{
		OperatorID: operatorID,
		Active:     *req.Active,
		ActorID:    actor,
	})
	if err != nil {
		writeOperatorError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, operatorResponse{Operator: buildOperatorPayload(account)})
}

func (h *OperatorHandlers) deleteOperator(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	operatorID, ok := pathID(ctx, w, r, "operatorID", "operator")
	if !ok {
		return
	}
	if strings.EqualFold(operatorID, actor) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "operators cannot delete themselves", http.StatusBadRequest))
		return
	}
	if err := h.operators.DeleteOperator(ctx, operatorID); err != nil {
		writeOperatorError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OperatorHandlers) available(ctx context.Context, w http.ResponseWriter) bool {
	if h.operators == nil {
		httpx.WriteError(ctx, w, httpx.NewError("operator_service_unavailable", "operator service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func buildOperatorPayload(account services.OperatorAccount) operatorPayload {
	return operatorPayload{
		ID:         account.ID,
		Email:      account.Email,
		FullName:   account.FullName,
		Role:       account.Role,
		SalesCount: account.SalesCount,
		IsActive:   account.IsActive,
		CreatedAt:  formatTime(account.CreatedAt),
		UpdatedAt:  formatTime(account.UpdatedAt),
	}
}

func writeOperatorError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOperatorInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOperatorNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("operator_not_found", "operator not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOperatorInactive):
		httpx.WriteError(ctx, w, httpx.NewError("operator_inactive", "operator account is deactivated", http.StatusForbidden))
	case errors.Is(err, services.ErrOperatorUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("operator_service_unavailable", "operator repository unavailable", http.StatusServiceUnavailable))
	default:
		writeRepositoryError(ctx, w, err, "operator")
	}
}
