package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tripdesk/api/internal/platform/textutil"
	"github.com/tripdesk/api/internal/repositories"
)

const (
	defaultCustomerSearchLimit = 50
	maxCustomerSearchLimit     = 100
	maxCustomerNameLength      = 200
)

var (
	// ErrCustomerInvalidInput signals invalid customer data.
	ErrCustomerInvalidInput = errors.New("customer: invalid input")
	// ErrCustomerNotFound indicates the customer does not exist.
	ErrCustomerNotFound = errors.New("customer: not found")
	// ErrCustomerConflict indicates a duplicate document id or a customer that still has orders.
	ErrCustomerConflict = errors.New("customer: conflict")
	// ErrCustomerUnavailable indicates the persistence layer failed.
	ErrCustomerUnavailable = errors.New("customer: repository unavailable")
)

// CustomerServiceDeps bundles collaborators required to construct the customer service.
type CustomerServiceDeps struct {
	Customers   repositories.CustomerRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type customerService struct {
	customers repositories.CustomerRepository
	clock     func() time.Time
	newID     func() string
}

// NewCustomerService constructs the customer directory service.
func NewCustomerService(deps CustomerServiceDeps) (CustomerService, error) {
	if deps.Customers == nil {
		return nil, errors.New("customer service: customer repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &customerService{
		customers: deps.Customers,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: idGen,
	}, nil
}

func (s *customerService) CreateCustomer(ctx context.Context, cmd CreateCustomerCommand) (Customer, error) {
	now := s.clock()
	customer := Customer{
		ID:          s.newID(),
		FullName:    strings.TrimSpace(cmd.FullName),
		DocumentID:  trimOptional(cmd.DocumentID),
		PhoneNumber: trimOptional(cmd.PhoneNumber),
		Email:       trimOptional(cmd.Email),
		Notes:       textutil.SanitizeOptional(cmd.Notes),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := validateCustomer(customer); err != nil {
		return Customer{}, err
	}
	if err := s.customers.Insert(ctx, customer); err != nil {
		return Customer{}, mapCustomerError(err)
	}
	return customer, nil
}

func (s *customerService) GetCustomer(ctx context.Context, customerID string) (Customer, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return Customer{}, fmt.Errorf("%w: customer id is required", ErrCustomerInvalidInput)
	}
	customer, err := s.customers.FindByID(ctx, customerID)
	if err != nil {
		return Customer{}, mapCustomerError(err)
	}
	return customer, nil
}

func (s *customerService) SearchCustomers(ctx context.Context, filter CustomerSearchFilter) ([]Customer, error) {
	limit := filter.Limit
	switch {
	case limit == 0:
		limit = defaultCustomerSearchLimit
	case limit < 1 || limit > maxCustomerSearchLimit:
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", ErrCustomerInvalidInput, maxCustomerSearchLimit)
	}
	customers, err := s.customers.Search(ctx, repositories.CustomerSearch{
		Query: strings.TrimSpace(filter.Query),
		Limit: limit,
	})
	if err != nil {
		return nil, mapCustomerError(err)
	}
	return customers, nil
}

func (s *customerService) UpdateCustomer(ctx context.Context, cmd UpdateCustomerCommand) (Customer, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return Customer{}, fmt.Errorf("%w: customer id is required", ErrCustomerInvalidInput)
	}
	current, err := s.customers.FindByID(ctx, customerID)
	if err != nil {
		return Customer{}, mapCustomerError(err)
	}

	next := current
	if name, ok := cmd.FullName.Get(); ok {
		next.FullName = strings.TrimSpace(name)
	}
	next.DocumentID = trimOptional(cmd.DocumentID.OrElse(current.DocumentID))
	next.PhoneNumber = trimOptional(cmd.PhoneNumber.OrElse(current.PhoneNumber))
	next.Email = trimOptional(cmd.Email.OrElse(current.Email))
	if notes, ok := cmd.Notes.Get(); ok {
		next.Notes = textutil.SanitizeOptional(notes)
	}
	next.UpdatedAt = s.clock()

	if err := validateCustomer(next); err != nil {
		return Customer{}, err
	}
	if err := s.customers.Update(ctx, next); err != nil {
		return Customer{}, mapCustomerError(err)
	}
	return next, nil
}

func (s *customerService) DeleteCustomer(ctx context.Context, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return fmt.Errorf("%w: customer id is required", ErrCustomerInvalidInput)
	}
	return mapCustomerError(s.customers.Delete(ctx, customerID))
}

func validateCustomer(customer Customer) error {
	if customer.FullName == "" {
		return fmt.Errorf("%w: fullName is required", ErrCustomerInvalidInput)
	}
	if len(customer.FullName) > maxCustomerNameLength {
		return fmt.Errorf("%w: fullName must be at most %d characters", ErrCustomerInvalidInput, maxCustomerNameLength)
	}
	if customer.Email != nil {
		if _, err := mail.ParseAddress(*customer.Email); err != nil {
			return fmt.Errorf("%w: email is invalid", ErrCustomerInvalidInput)
		}
	}
	return nil
}

func mapCustomerError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCustomerNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCustomerConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrCustomerUnavailable, err)
		}
	}
	return err
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	return optionalString(*value)
}
