package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/tripdesk/api/internal/platform/httpx"
	"github.com/tripdesk/api/internal/services"
)

// CustomerHandlers serves the customer directory.
type CustomerHandlers struct {
	guard     *AccessGuard
	customers services.CustomerService
}

func NewCustomerHandlers(guard *AccessGuard, customers services.CustomerService) *CustomerHandlers {
	return &CustomerHandlers{guard: guard, customers: customers}
}

// Routes registers the /customers endpoints.
func (h *CustomerHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	guard(r, h.guard)
	r.Post("/", h.createCustomer)
	r.Get("/search", h.searchCustomers)
	r.Get("/{customerID}", h.getCustomer)
	r.Put("/{customerID}", h.updateCustomer)
	r.Delete("/{customerID}", h.deleteCustomer)
}

type customerPayload struct {
	ID          string  `json:"id"`
	FullName    string  `json:"fullName"`
	DocumentID  *string `json:"documentId"`
	PhoneNumber *string `json:"phoneNumber"`
	Email       *string `json:"email"`
	Notes       *string `json:"notes"`
	CreatedAt   string  `json:"createdAt,omitempty"`
	UpdatedAt   string  `json:"updatedAt,omitempty"`
}

type customerResponse struct {
	Customer customerPayload `json:"customer"`
}

type customerListResponse struct {
	Items []customerPayload `json:"items"`
}

type createCustomerRequest struct {
	FullName    string  `json:"fullName"`
	DocumentID  *string `json:"documentId"`
	PhoneNumber *string `json:"phoneNumber"`
	Email       *string `json:"email"`
	Notes       *string `json:"notes"`
}

func (h *CustomerHandlers) createCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}

	var req createCustomerRequest
	if err := decodeJSONBody(r, defaultBodyLimit, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	customer, err := h.customers.CreateCustomer(ctx, services.CreateCustomerCommand{
		FullName:    req.FullName,
		DocumentID:  trimmedPtr(req.DocumentID),
		PhoneNumber: trimmedPtr(req.PhoneNumber),
		Email:       trimmedPtr(req.Email),
		Notes:       req.Notes,
	})
	if err != nil {
		writeCustomerError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, customerResponse{Customer: buildCustomerPayload(customer)})
}

func (h *CustomerHandlers) searchCustomers(w http.ResponseWriter, r *http.Request) {
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
	customers, err := h.customers.SearchCustomers(ctx, services.CustomerSearchFilter{
		Query: strings.TrimSpace(query.Get("q")),
		Limit: limit,
	})
	if err != nil {
		writeCustomerError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, customerListResponse{
		Items: lo.Map(customers, func(c services.Customer, _ int) customerPayload { return buildCustomerPayload(c) }),
	})
}

func (h *CustomerHandlers) getCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	customerID, ok := pathID(ctx, w, r, "customerID", "customer")
	if !ok {
		return
	}
	customer, err := h.customers.GetCustomer(ctx, customerID)
	if err != nil {
		writeCustomerError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, customerResponse{Customer: buildCustomerPayload(customer)})
}

func (h *CustomerHandlers) updateCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	customerID, ok := pathID(ctx, w, r, "customerID", "customer")
	if !ok {
		return
	}

	body, err := readLimitedBody(r, defaultBodyLimit)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	cmd, err := parseCustomerUpdate(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	cmd.CustomerID = customerID

	customer, err := h.customers.UpdateCustomer(ctx, cmd)
	if err != nil {
		writeCustomerError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, customerResponse{Customer: buildCustomerPayload(customer)})
}

func (h *CustomerHandlers) deleteCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.available(ctx, w) {
		return
	}
	customerID, ok := pathID(ctx, w, r, "customerID", "customer")
	if !ok {
		return
	}
	if err := h.customers.DeleteCustomer(ctx, customerID); err != nil {
		writeCustomerError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CustomerHandlers) available(ctx context.Context, w http.ResponseWriter) bool {
	if h.customers == nil {
		httpx.WriteError(ctx, w, httpx.NewError("customer_service_unavailable", "customer service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func parseCustomerUpdate(data []byte) (services.UpdateCustomerCommand, error) {
	var cmd services.UpdateCustomerCommand
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return cmd, fmt.Errorf("invalid JSON payload: %w", err)
	}
	if len(raw) == 0 {
		return cmd, errNoEditableFields
	}

	for key, value := range raw {
		var err error
		switch key {
		case "fullName":
			cmd.FullName, err = requiredField[string](key, value)
		case "documentId":
			cmd.DocumentID, err = nullableField[string](key, value)
		case "phoneNumber":
			cmd.PhoneNumber, err = nullableField[string](key, value)
		case "email":
			cmd.Email, err = nullableField[string](key, value)
		case "notes":
			cmd.Notes, err = nullableField[string](key, value)
		default:
			return cmd, fmt.Errorf("field %q is not editable", key)
		}
		if err != nil {
			return cmd, err
		}
	}
	return cmd, nil
}

func buildCustomerPayload(customer services.Customer) customerPayload {
	return customerPayload{
		ID:          customer.ID,
		FullName:    customer.FullName,
		DocumentID:  customer.DocumentID,
		PhoneNumber: customer.PhoneNumber,
		Email:       customer.Email,
		Notes:       customer.Notes,
		CreatedAt:   formatTime(customer.CreatedAt),
		UpdatedAt:   formatTime(customer.UpdatedAt),
	}
}

func writeCustomerError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCustomerInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCustomerNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("customer_not_found", "customer not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCustomerConflict):
		httpx.WriteError(ctx, w, httpx.NewError("customer_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrCustomerUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("customer_service_unavailable", "customer repository unavailable", http.StatusServiceUnavailable))
	default:
		writeRepositoryError(ctx, w, err, "customer")
	}
}
