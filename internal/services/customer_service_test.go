package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/samber/mo"
)

func newTestCustomerService(t *testing.T, store *memoryStore) CustomerService {
	t.Helper()
	svc, err := NewCustomerService(CustomerServiceDeps{
		Customers:   store.Customers(),
		Clock:       func() time.Time { return time.Date(2025, 2, 1, 12, 0, 0, 0, time.FixedZone("BRT", -3*3600)) },
		IDGenerator: func() string { return "cust-new" },
	})
	if err != nil {
		t.Fatalf("new customer service: %v", err)
	}
	return svc
}

func TestCustomerServiceCreateCustomer(t *testing.T) {
	store := newMemoryStore()
	svc := newTestCustomerService(t, store)

	customer, err := svc.CreateCustomer(context.Background(), CreateCustomerCommand{
		FullName:   "  Maria Lima ",
		DocumentID: ptr(" 123.456.789-00 "),
		Email:      ptr("maria@example.com"),
		Notes:      ptr("<b>VIP</b> client"),
	})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	if customer.ID != "cust-new" || customer.FullName != "Maria Lima" {
		t.Fatalf("unexpected customer %+v", customer)
	}
	if customer.DocumentID == nil || *customer.DocumentID != "123.456.789-00" {
		t.Fatalf("expected trimmed document id, got %v", customer.DocumentID)
	}
	if customer.Notes == nil || *customer.Notes != "VIP client" {
		t.Fatalf("expected sanitised notes, got %v", customer.Notes)
	}
	if customer.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected UTC timestamps, got %v", customer.CreatedAt.Location())
	}
}

func TestCustomerServiceCreateCustomerValidation(t *testing.T) {
	store := newMemoryStore()
	store.state.customers["cust-1"] = Customer{ID: "cust-1", FullName: "Ana Souza", DocumentID: ptr("DOC-1")}
	svc := newTestCustomerService(t, store)

	cases := map[string]struct {
		cmd  CreateCustomerCommand
		want error
	}{
		"blank name":    {CreateCustomerCommand{FullName: "   "}, ErrCustomerInvalidInput},
		"long name":     {CreateCustomerCommand{FullName: strings.Repeat("a", maxCustomerNameLength+1)}, ErrCustomerInvalidInput},
		"bad email":     {CreateCustomerCommand{FullName: "Joao", Email: ptr("not-an-email")}, ErrCustomerInvalidInput},
		"duplicate doc": {CreateCustomerCommand{FullName: "Joao", DocumentID: ptr("DOC-1")}, ErrCustomerConflict},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.CreateCustomer(context.Background(), tc.cmd); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCustomerServiceUpdateCustomer(t *testing.T) {
	store := newMemoryStore()
	store.state.customers["cust-1"] = Customer{
		ID:          "cust-1",
		FullName:    "Ana Souza",
		PhoneNumber: ptr("+55 11 99999-0000"),
		Email:       ptr("ana@example.com"),
	}
	svc := newTestCustomerService(t, store)

	updated, err := svc.UpdateCustomer(context.Background(), UpdateCustomerCommand{
		CustomerID:  "cust-1",
		FullName:    mo.Some("Ana Souza Lima"),
		PhoneNumber: mo.Some[*string](nil),
	})
	if err != nil {
		t.Fatalf("update customer: %v", err)
	}
	if updated.FullName != "Ana Souza Lima" {
		t.Fatalf("expected new name, got %q", updated.FullName)
	}
	if updated.PhoneNumber != nil {
		t.Fatalf("expected phone cleared, got %v", *updated.PhoneNumber)
	}
	if updated.Email == nil || *updated.Email != "ana@example.com" {
		t.Fatalf("expected email untouched, got %v", updated.Email)
	}

	if _, err := svc.UpdateCustomer(context.Background(), UpdateCustomerCommand{CustomerID: "missing"}); !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCustomerServiceSearchLimits(t *testing.T) {
	store := newMemoryStore()
	store.seedCustomer("c1", "Ana Souza")
	store.seedCustomer("c2", "Bruno Souza")
	store.seedCustomer("c3", "Carla Dias")
	svc := newTestCustomerService(t, store)

	results, err := svc.SearchCustomers(context.Background(), CustomerSearchFilter{Query: "souza"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 || results[0].ID != "c1" {
		t.Fatalf("unexpected results %+v", results)
	}

	for _, limit := range []int{-1, maxCustomerSearchLimit + 1} {
		if _, err := svc.SearchCustomers(context.Background(), CustomerSearchFilter{Limit: limit}); !errors.Is(err, ErrCustomerInvalidInput) {
			t.Fatalf("limit %d: expected invalid input, got %v", limit, err)
		}
	}
}

func TestCustomerServiceDeleteCustomerWithOrders(t *testing.T) {
	store := newMemoryStore()
	store.seedCustomer("cust-1", "Ana Souza")
	store.seedCustomer("cust-2", "Bruno Dias")
	store.seedOrder("order-1", "cust-1", time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))
	svc := newTestCustomerService(t, store)

	if err := svc.DeleteCustomer(context.Background(), "cust-1"); !errors.Is(err, ErrCustomerConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := svc.DeleteCustomer(context.Background(), "cust-2"); err != nil {
		t.Fatalf("delete customer: %v", err)
	}
	if _, err := svc.GetCustomer(context.Background(), "cust-2"); !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}
