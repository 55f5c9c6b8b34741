package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	"github.com/tripdesk/api/internal/services"
)

type stubCustomerService struct {
	createFn func(context.Context, services.CreateCustomerCommand) (services.Customer, error)
	getFn    func(context.Context, string) (services.Customer, error)
	searchFn func(context.Context, services.CustomerSearchFilter) ([]services.Customer, error)
	updateFn func(context.Context, services.UpdateCustomerCommand) (services.Customer, error)
	deleteFn func(context.Context, string) error
}

func (s *stubCustomerService) CreateCustomer(ctx context.Context, cmd services.CreateCustomerCommand) (services.Customer, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Customer{}, errors.New("not implemented")
}

func (s *stubCustomerService) GetCustomer(ctx context.Context, id string) (services.Customer, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return services.Customer{}, errors.New("not implemented")
}

func (s *stubCustomerService) SearchCustomers(ctx context.Context, filter services.CustomerSearchFilter) ([]services.Customer, error) {
	if s.searchFn != nil {
		return s.searchFn(ctx, filter)
	}
	return nil, nil
}

func (s *stubCustomerService) UpdateCustomer(ctx context.Context, cmd services.UpdateCustomerCommand) (services.Customer, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Customer{}, errors.New("not implemented")
}

func (s *stubCustomerService) DeleteCustomer(ctx context.Context, id string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, id)
	}
	return errors.New("not implemented")
}

func newCustomerRouter(svc services.CustomerService) chi.Router {
	router := chi.NewRouter()
	router.Route("/customers", NewCustomerHandlers(nil, svc).Routes)
	return router
}

func TestCustomerHandlersCreate(t *testing.T) {
	var captured services.CreateCustomerCommand
	svc := &stubCustomerService{
		createFn: func(_ context.Context, cmd services.CreateCustomerCommand) (services.Customer, error) {
			captured = cmd
			return services.Customer{ID: "cus-1", FullName: cmd.FullName, Email: cmd.Email}, nil
		},
	}

	rec := httptest.NewRecorder()
	newCustomerRouter(svc).ServeHTTP(rec, operatorRequest(http.MethodPost, "/customers", `{"fullName":"Ana Souza","email":" ana@example.com "}`))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.Email == nil || *captured.Email != "ana@example.com" {
		t.Fatalf("expected trimmed email, got %v", captured.Email)
	}
	if got := gjson.Get(rec.Body.String(), "customer.fullName").String(); got != "Ana Souza" {
		t.Fatalf("unexpected name %q", got)
	}
	if !gjson.Get(rec.Body.String(), "customer.phoneNumber").Exists() {
		t.Fatalf("expected explicit null phone number: %s", rec.Body.String())
	}
}

func TestCustomerHandlersCreateValidation(t *testing.T) {
	svc := &stubCustomerService{
		createFn: func(context.Context, services.CreateCustomerCommand) (services.Customer, error) {
			return services.Customer{}, fmt.Errorf("%w: full name is required", services.ErrCustomerInvalidInput)
		},
	}
	rec := httptest.NewRecorder()
	newCustomerRouter(svc).ServeHTTP(rec, operatorRequest(http.MethodPost, "/customers", `{"fullName":" "}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	newCustomerRouter(svc).ServeHTTP(rec, operatorRequest(http.MethodPost, "/customers", ""))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", rec.Code)
	}
}

func TestCustomerHandlersSearch(t *testing.T) {
	var captured services.CustomerSearchFilter
	svc := &stubCustomerService{
		searchFn: func(_ context.Context, filter services.CustomerSearchFilter) ([]services.Customer, error) {
			captured = filter
			return []services.Customer{{ID: "cus-1", FullName: "Ana"}, {ID: "cus-2", FullName: "Anabel"}}, nil
		},
	}

	rec := httptest.NewRecorder()
	newCustomerRouter(svc).ServeHTTP(rec, operatorRequest(http.MethodGet, "/customers/search?q=+ana+&limit=5", ""))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if captured.Query != "ana" || captured.Limit != 5 {
		t.Fatalf("unexpected filter %+v", captured)
	}
	if gjson.Get(rec.Body.String(), "items.#").Int() != 2 {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	newCustomerRouter(svc).ServeHTTP(rec, operatorRequest(http.MethodGet, "/customers/search?limit=many", ""))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestCustomerHandlersUpdatePatch(t *testing.T) {
	var captured services.UpdateCustomerCommand
	svc := &stubCustomerService{
		updateFn: func(_ context.Context, cmd services.UpdateCustomerCommand) (services.Customer, error) {
			captured = cmd
			return services.Customer{ID: cmd.CustomerID, FullName: "Ana Maria"}, nil
		},
	}

	rec := httptest.NewRecorder()
	newCustomerRouter(svc).ServeHTTP(rec, operatorRequest(http.MethodPut, "/customers/cus-1", `{"fullName":"Ana Maria","notes":null}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured.CustomerID != "cus-1" {
		t.Fatalf("unexpected id %q", captured.CustomerID)
	}
	if name, ok := captured.FullName.Get(); !ok || name != "Ana Maria" {
		t.Fatalf("unexpected name patch %v", captured.FullName)
	}
	if notes, ok := captured.Notes.Get(); !ok || notes != nil {
		t.Fatalf("expected notes cleared, got %v", captured.Notes)
	}
	if captured.Email.IsPresent() {
		t.Fatalf("email must stay untouched")
	}

	for _, body := range []string{`{}`, `{"fullName":null}`, `{"id":"x"}`} {
		rec = httptest.NewRecorder()
		newCustomerRouter(svc).ServeHTTP(rec, operatorRequest(http.MethodPut, "/customers/cus-1", body))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestCustomerHandlersErrors(t *testing.T) {
	svc := &stubCustomerService{
		getFn: func(context.Context, string) (services.Customer, error) {
			return services.Customer{}, services.ErrCustomerNotFound
		},
		deleteFn: func(context.Context, string) error {
			return fmt.Errorf("%w: customer has orders", services.ErrCustomerConflict)
		},
	}

	rec := httptest.NewRecorder()
	newCustomerRouter(svc).ServeHTTP(rec, operatorRequest(http.MethodGet, "/customers/cus-9", ""))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	newCustomerRouter(svc).ServeHTTP(rec, operatorRequest(http.MethodDelete, "/customers/cus-1", ""))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if got := gjson.Get(rec.Body.String(), "error").String(); got != "customer_conflict" {
		t.Fatalf("unexpected code %q", got)
	}
}
