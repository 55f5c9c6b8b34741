package services

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	domain "github.com/tripdesk/api/internal/domain"
	"github.com/tripdesk/api/internal/repositories"
)

type repoErrKind int

const (
	repoErrNotFound repoErrKind = iota
	repoErrConflict
	repoErrUnavailable
)

type fakeRepoError struct {
	kind repoErrKind
	msg  string
}

func (e *fakeRepoError) Error() string       { return e.msg }
func (e *fakeRepoError) IsNotFound() bool    { return e.kind == repoErrNotFound }
func (e *fakeRepoError) IsConflict() bool    { return e.kind == repoErrConflict }
func (e *fakeRepoError) IsUnavailable() bool { return e.kind == repoErrUnavailable }

func errNotFound(format string, args ...any) error {
	return &fakeRepoError{kind: repoErrNotFound, msg: fmt.Sprintf(format, args...)}
}

func errConflict(format string, args ...any) error {
	return &fakeRepoError{kind: repoErrConflict, msg: fmt.Sprintf(format, args...)}
}

func errUnavailable(format string, args ...any) error {
	return &fakeRepoError{kind: repoErrUnavailable, msg: fmt.Sprintf(format, args...)}
}

type memoryState struct {
	customers map[string]domain.Customer
	locations map[string]domain.Location
	orders    map[string]domain.Order
	services  map[string]domain.Service
	images    map[string]domain.ServiceImage
	trips     map[string]domain.PopularTripCounter
	operators map[string]domain.OperatorAccount
	counters  map[string]int64
}

func newMemoryState() memoryState {
	return memoryState{
		customers: map[string]domain.Customer{},
		locations: map[string]domain.Location{},
		orders:    map[string]domain.Order{},
		services:  map[string]domain.Service{},
		images:    map[string]domain.ServiceImage{},
		trips:     map[string]domain.PopularTripCounter{},
		operators: map[string]domain.OperatorAccount{},
		counters:  map[string]int64{},
	}
}

func (s memoryState) clone() memoryState {
	return memoryState{
		customers: maps.Clone(s.customers),
		locations: maps.Clone(s.locations),
		orders:    maps.Clone(s.orders),
		services:  maps.Clone(s.services),
		images:    maps.Clone(s.images),
		trips:     maps.Clone(s.trips),
		operators: maps.Clone(s.operators),
		counters:  maps.Clone(s.counters),
	}
}

// memoryStore is an in-memory registry. Transactions are serialised and roll back by restoring a
// snapshot, which mirrors the row lock on the order taken by the real stores.
type memoryStore struct {
	txMu  sync.Mutex
	mu    sync.Mutex
	state memoryState

	txCount        int
	failTotals     func(attempt int) error
	totalsAttempts int
	failIncrement  error
}

type memoryTxKey struct{}

func newMemoryStore() *memoryStore {
	return &memoryStore{state: newMemoryState()}
}

func (m *memoryStore) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if ctx.Value(memoryTxKey{}) != nil {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.state.clone()
	m.txCount++
	m.mu.Unlock()

	if err := fn(context.WithValue(ctx, memoryTxKey{}, true)); err != nil {
		m.mu.Lock()
		m.state = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memoryStore) with(fn func(*memoryState) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&m.state)
}

func (m *memoryStore) Customers() repositories.CustomerRepository         { return memCustomers{m} }
func (m *memoryStore) Locations() repositories.LocationRepository         { return memLocations{m} }
func (m *memoryStore) Orders() repositories.OrderRepository               { return memOrders{m} }
func (m *memoryStore) Services() repositories.ServiceRepository           { return memServices{m} }
func (m *memoryStore) ServiceImages() repositories.ServiceImageRepository { return memImages{m} }
func (m *memoryStore) PopularTrips() repositories.PopularTripRepository   { return memTrips{m} }
func (m *memoryStore) Operators() repositories.OperatorRepository         { return memOperators{m} }
func (m *memoryStore) Counters() repositories.CounterRepository           { return memCounters{m} }

func (m *memoryStore) seedCustomer(id, name string) domain.Customer {
	c := domain.Customer{ID: id, FullName: name, CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	m.state.customers[id] = c
	return c
}

func (m *memoryStore) seedLocation(id, city, country string) domain.Location {
	l := domain.Location{ID: id, City: city, Country: country}
	m.state.locations[id] = l
	return l
}

func (m *memoryStore) seedOperator(id string) domain.OperatorAccount {
	op := domain.OperatorAccount{ID: id, Email: id + "@agency.test", FullName: id, Role: OperatorRoleOperator, IsActive: true}
	m.state.operators[id] = op
	return op
}

func (m *memoryStore) seedOrder(id, customerID string, createdAt time.Time) domain.Order {
	o := domain.Order{ID: id, OrderNumber: "ORD-" + id, CustomerID: customerID, CreatedAt: createdAt, UpdatedAt: createdAt}
	m.state.orders[id] = o
	return o
}

func (m *memoryStore) tripCount(origin, destination string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.trips[origin+":"+destination].SalesCount
}

func (m *memoryStore) operatorSales(id string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.operators[id].SalesCount
}

func (m *memoryStore) order(id string) domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.orders[id]
}

func (m *memoryStore) serviceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.services)
}

// customers ------------------------------------------------------------------

type memCustomers struct{ m *memoryStore }

func (r memCustomers) Insert(_ context.Context, c domain.Customer) error {
	return r.m.with(func(s *memoryState) error {
		if c.DocumentID != nil {
			for _, other := range s.customers {
				if other.DocumentID != nil && *other.DocumentID == *c.DocumentID {
					return errConflict("document id %s taken", *c.DocumentID)
				}
			}
		}
		s.customers[c.ID] = c
		return nil
	})
}

func (r memCustomers) Update(_ context.Context, c domain.Customer) error {
	return r.m.with(func(s *memoryState) error {
		if _, ok := s.customers[c.ID]; !ok {
			return errNotFound("customer %s", c.ID)
		}
		s.customers[c.ID] = c
		return nil
	})
}

func (r memCustomers) FindByID(_ context.Context, id string) (domain.Customer, error) {
	var out domain.Customer
	err := r.m.with(func(s *memoryState) error {
		c, ok := s.customers[id]
		if !ok {
			return errNotFound("customer %s", id)
		}
		out = c
		return nil
	})
	return out, err
}

func (r memCustomers) FindByDocumentID(_ context.Context, documentID string) (domain.Customer, error) {
	var out domain.Customer
	err := r.m.with(func(s *memoryState) error {
		for _, c := range s.customers {
			if c.DocumentID != nil && *c.DocumentID == documentID {
				out = c
				return nil
			}
		}
		return errNotFound("customer document %s", documentID)
	})
	return out, err
}

func (r memCustomers) Search(_ context.Context, filter repositories.CustomerSearch) ([]domain.Customer, error) {
	var out []domain.Customer
	err := r.m.with(func(s *memoryState) error {
		q := strings.ToLower(filter.Query)
		out = lo.Filter(lo.Values(s.customers), func(c domain.Customer, _ int) bool {
			return strings.Contains(strings.ToLower(c.FullName), q)
		})
		slices.SortFunc(out, func(a, b domain.Customer) int { return strings.Compare(a.FullName, b.FullName) })
		if filter.Limit > 0 && len(out) > filter.Limit {
			out = out[:filter.Limit]
		}
		return nil
	})
	return out, err
}

func (r memCustomers) Delete(_ context.Context, id string) error {
	return r.m.with(func(s *memoryState) error {
		if _, ok := s.customers[id]; !ok {
			return errNotFound("customer %s", id)
		}
		if lo.SomeBy(lo.Values(s.orders), func(o domain.Order) bool { return o.CustomerID == id }) {
			return errConflict("customer %s has orders", id)
		}
		delete(s.customers, id)
		return nil
	})
}

func (r memCustomers) Count(_ context.Context, created domain.RangeQuery[time.Time]) (int64, error) {
	var n int64
	err := r.m.with(func(s *memoryState) error {
		n = int64(lo.CountBy(lo.Values(s.customers), func(c domain.Customer) bool { return within(c.CreatedAt, created) }))
		return nil
	})
	return n, err
}

// locations ------------------------------------------------------------------

type memLocations struct{ m *memoryStore }

func (r memLocations) Insert(_ context.Context, l domain.Location) error {
	return r.m.with(func(s *memoryState) error {
		key := domain.PlaceKey(l.City, l.State, l.Country)
		for _, other := range s.locations {
			if domain.PlaceKey(other.City, other.State, other.Country) == key {
				return errConflict("place %s exists", key)
			}
		}
		s.locations[l.ID] = l
		return nil
	})
}

func (r memLocations) Update(_ context.Context, l domain.Location) error {
	return r.m.with(func(s *memoryState) error {
		if _, ok := s.locations[l.ID]; !ok {
			return errNotFound("location %s", l.ID)
		}
		s.locations[l.ID] = l
		return nil
	})
}

func (r memLocations) FindByID(_ context.Context, id string) (domain.Location, error) {
	var out domain.Location
	err := r.m.with(func(s *memoryState) error {
		l, ok := s.locations[id]
		if !ok {
			return errNotFound("location %s", id)
		}
		out = l
		return nil
	})
	return out, err
}

func (r memLocations) FindByIDs(_ context.Context, ids []string) (map[string]domain.Location, error) {
	out := map[string]domain.Location{}
	err := r.m.with(func(s *memoryState) error {
		for _, id := range ids {
			if l, ok := s.locations[id]; ok {
				out[id] = l
			}
		}
		return nil
	})
	return out, err
}

func (r memLocations) FindByPlace(_ context.Context, city string, state *string, country string) (domain.Location, error) {
	var out domain.Location
	key := domain.PlaceKey(city, state, country)
	err := r.m.with(func(s *memoryState) error {
		for _, l := range s.locations {
			if domain.PlaceKey(l.City, l.State, l.Country) == key {
				out = l
				return nil
			}
		}
		return errNotFound("place %s", key)
	})
	return out, err
}

func (r memLocations) List(_ context.Context) ([]domain.Location, error) {
	var out []domain.Location
	err := r.m.with(func(s *memoryState) error {
		out = lo.Values(s.locations)
		slices.SortFunc(out, func(a, b domain.Location) int {
			return strings.Compare(a.Country+"|"+a.City+"|"+a.ID, b.Country+"|"+b.City+"|"+b.ID)
		})
		return nil
	})
	return out, err
}

func (r memLocations) Delete(_ context.Context, id string) error {
	return r.m.with(func(s *memoryState) error {
		if _, ok := s.locations[id]; !ok {
			return errNotFound("location %s", id)
		}
		delete(s.locations, id)
		for key, trip := range s.trips {
			if trip.OriginLocationID == id || trip.DestinationLocationID == id {
				delete(s.trips, key)
			}
		}
		return nil
	})
}

// orders ---------------------------------------------------------------------

type memOrders struct{ m *memoryStore }

func (r memOrders) Insert(_ context.Context, o domain.Order) error {
	return r.m.with(func(s *memoryState) error {
		for _, other := range s.orders {
			if other.OrderNumber == o.OrderNumber {
				return errConflict("order number %s taken", o.OrderNumber)
			}
		}
		s.orders[o.ID] = o
		return nil
	})
}

func (r memOrders) FindByID(_ context.Context, id string) (domain.Order, error) {
	var out domain.Order
	err := r.m.with(func(s *memoryState) error {
		o, ok := s.orders[id]
		if !ok {
			return errNotFound("order %s", id)
		}
		out = o
		return nil
	})
	return out, err
}

func (r memOrders) FindForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.FindByID(ctx, id)
}

func (r memOrders) FindByIDs(_ context.Context, ids []string) (map[string]domain.Order, error) {
	out := map[string]domain.Order{}
	err := r.m.with(func(s *memoryState) error {
		for _, id := range ids {
			if o, ok := s.orders[id]; ok {
				out[id] = o
			}
		}
		return nil
	})
	return out, err
}

func (r memOrders) UpdateTotals(_ context.Context, id string, totals repositories.OrderTotals) error {
	r.m.mu.Lock()
	r.m.totalsAttempts++
	attempt := r.m.totalsAttempts
	hook := r.m.failTotals
	r.m.mu.Unlock()
	if hook != nil {
		if err := hook(attempt); err != nil {
			return err
		}
	}
	return r.m.with(func(s *memoryState) error {
		o, ok := s.orders[id]
		if !ok {
			return errNotFound("order %s", id)
		}
		o.TotalCostPrice = totals.TotalCostPrice
		o.TotalSalePrice = totals.TotalSalePrice
		o.UpdatedAt = totals.UpdatedAt
		s.orders[id] = o
		return nil
	})
}

func (r memOrders) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	var page domain.CursorPage[domain.Order]
	err := r.m.with(func(s *memoryState) error {
		items := lo.Filter(lo.Values(s.orders), func(o domain.Order, _ int) bool {
			return (filter.CustomerID == "" || o.CustomerID == filter.CustomerID) && within(o.CreatedAt, filter.DateRange)
		})
		slices.SortFunc(items, func(a, b domain.Order) int { return b.CreatedAt.Compare(a.CreatedAt) })
		if len(items) > filter.Pagination.PageSize {
			items = items[:filter.Pagination.PageSize]
		}
		page.Items = items
		return nil
	})
	return page, err
}

func (r memOrders) ListCreated(_ context.Context, created domain.RangeQuery[time.Time]) ([]domain.Order, error) {
	var out []domain.Order
	err := r.m.with(func(s *memoryState) error {
		out = lo.Filter(lo.Values(s.orders), func(o domain.Order, _ int) bool { return within(o.CreatedAt, created) })
		return nil
	})
	return out, err
}

func (r memOrders) Count(_ context.Context, created domain.RangeQuery[time.Time]) (int64, error) {
	var n int64
	err := r.m.with(func(s *memoryState) error {
		n = int64(lo.CountBy(lo.Values(s.orders), func(o domain.Order) bool { return within(o.CreatedAt, created) }))
		return nil
	})
	return n, err
}

func (r memOrders) Delete(_ context.Context, id string) error {
	return r.m.with(func(s *memoryState) error {
		if _, ok := s.orders[id]; !ok {
			return errNotFound("order %s", id)
		}
		for sid, svc := range s.services {
			if svc.OrderID == id {
				deleteServiceLocked(s, sid)
			}
		}
		delete(s.orders, id)
		return nil
	})
}

// services -------------------------------------------------------------------

type memServices struct{ m *memoryStore }

func (r memServices) Insert(_ context.Context, svc domain.Service) error {
	return r.m.with(func(s *memoryState) error {
		s.services[svc.ID] = svc
		return nil
	})
}

func (r memServices) Update(_ context.Context, svc domain.Service) error {
	return r.m.with(func(s *memoryState) error {
		current, ok := s.services[svc.ID]
		if !ok {
			return errNotFound("service %s", svc.ID)
		}
		svc.OrderID = current.OrderID
		svc.CreatedBy = current.CreatedBy
		svc.CreatedAt = current.CreatedAt
		s.services[svc.ID] = svc
		return nil
	})
}

func (r memServices) FindByID(_ context.Context, id string) (domain.Service, error) {
	var out domain.Service
	err := r.m.with(func(s *memoryState) error {
		svc, ok := s.services[id]
		if !ok {
			return errNotFound("service %s", id)
		}
		out = svc
		return nil
	})
	return out, err
}

func (r memServices) ListByOrder(_ context.Context, orderID string) ([]domain.Service, error) {
	var out []domain.Service
	err := r.m.with(func(s *memoryState) error {
		out = lo.Filter(lo.Values(s.services), func(svc domain.Service, _ int) bool { return svc.OrderID == orderID })
		slices.SortFunc(out, func(a, b domain.Service) int { return strings.Compare(a.ID, b.ID) })
		return nil
	})
	return out, err
}

func (r memServices) ListForExport(_ context.Context, filter repositories.ServiceExportFilter) ([]domain.Service, error) {
	var out []domain.Service
	err := r.m.with(func(s *memoryState) error {
		out = lo.Filter(lo.Values(s.services), func(svc domain.Service, _ int) bool {
			if filter.ServiceType != nil && svc.Type() != *filter.ServiceType {
				return false
			}
			if filter.Departure.From == nil && filter.Departure.To == nil {
				return true
			}
			transport, ok := domain.TransportOf(svc.Payload)
			return ok && transport.DepartureAt != nil && within(*transport.DepartureAt, filter.Departure)
		})
		slices.SortFunc(out, func(a, b domain.Service) int { return strings.Compare(a.ID, b.ID) })
		return nil
	})
	return out, err
}

func (r memServices) Delete(_ context.Context, id string) error {
	return r.m.with(func(s *memoryState) error {
		if _, ok := s.services[id]; !ok {
			return errNotFound("service %s", id)
		}
		deleteServiceLocked(s, id)
		return nil
	})
}

func (r memServices) RouteTallies(_ context.Context, limit int) ([]domain.RouteTally, error) {
	var out []domain.RouteTally
	err := r.m.with(func(s *memoryState) error {
		counts := lo.CountValuesBy(eligibleServices(s), func(svc domain.Service) domain.RouteTally {
			origin, destination := svc.Route()
			return domain.RouteTally{OriginLocationID: *origin, DestinationLocationID: *destination}
		})
		out = lo.MapToSlice(counts, func(k domain.RouteTally, v int) domain.RouteTally {
			k.SalesCount = int64(v)
			return k
		})
		slices.SortFunc(out, func(a, b domain.RouteTally) int {
			if a.SalesCount != b.SalesCount {
				return int(b.SalesCount - a.SalesCount)
			}
			return strings.Compare(a.OriginLocationID+":"+a.DestinationLocationID, b.OriginLocationID+":"+b.DestinationLocationID)
		})
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (r memServices) OperatorTallies(_ context.Context) ([]domain.OperatorTally, error) {
	var out []domain.OperatorTally
	err := r.m.with(func(s *memoryState) error {
		withCreator := lo.Filter(eligibleServices(s), func(svc domain.Service, _ int) bool { return svc.CreatedBy != nil })
		counts := lo.CountValuesBy(withCreator, func(svc domain.Service) string { return *svc.CreatedBy })
		out = lo.MapToSlice(counts, func(k string, v int) domain.OperatorTally {
			return domain.OperatorTally{OperatorID: k, SalesCount: int64(v)}
		})
		slices.SortFunc(out, func(a, b domain.OperatorTally) int { return strings.Compare(a.OperatorID, b.OperatorID) })
		return nil
	})
	return out, err
}

func eligibleServices(s *memoryState) []domain.Service {
	return lo.Filter(lo.Values(s.services), func(svc domain.Service, _ int) bool {
		origin, destination := svc.Route()
		return svc.Type().IsTransport() && origin != nil && destination != nil
	})
}

func deleteServiceLocked(s *memoryState, id string) {
	for imgID, img := range s.images {
		if img.ServiceID == id {
			delete(s.images, imgID)
		}
	}
	for sid, svc := range s.services {
		if luggage, ok := svc.Payload.(domain.LuggagePayload); ok && luggage.AssociatedServiceID != nil && *luggage.AssociatedServiceID == id {
			luggage.AssociatedServiceID = nil
			svc.Payload = luggage
			s.services[sid] = svc
		}
	}
	delete(s.services, id)
}

// images ---------------------------------------------------------------------

type memImages struct{ m *memoryStore }

func (r memImages) Insert(_ context.Context, images []domain.ServiceImage) error {
	return r.m.with(func(s *memoryState) error {
		for _, img := range images {
			s.images[img.ID] = img
		}
		return nil
	})
}

func (r memImages) FindByID(_ context.Context, id string) (domain.ServiceImage, error) {
	var out domain.ServiceImage
	err := r.m.with(func(s *memoryState) error {
		img, ok := s.images[id]
		if !ok {
			return errNotFound("image %s", id)
		}
		out = img
		return nil
	})
	return out, err
}

func (r memImages) ListByServices(_ context.Context, ids []string) ([]domain.ServiceImage, error) {
	var out []domain.ServiceImage
	err := r.m.with(func(s *memoryState) error {
		out = lo.Filter(lo.Values(s.images), func(img domain.ServiceImage, _ int) bool { return slices.Contains(ids, img.ServiceID) })
		slices.SortFunc(out, func(a, b domain.ServiceImage) int { return strings.Compare(a.ID, b.ID) })
		return nil
	})
	return out, err
}

func (r memImages) Delete(_ context.Context, id string) error {
	return r.m.with(func(s *memoryState) error {
		if _, ok := s.images[id]; !ok {
			return errNotFound("image %s", id)
		}
		delete(s.images, id)
		return nil
	})
}

// popular trips --------------------------------------------------------------

type memTrips struct{ m *memoryStore }

func (r memTrips) Increment(_ context.Context, origin, destination string, at time.Time) (domain.PopularTripCounter, error) {
	var out domain.PopularTripCounter
	err := r.m.with(func(s *memoryState) error {
		if r.m.failIncrement != nil {
			return r.m.failIncrement
		}
		key := origin + ":" + destination
		trip, ok := s.trips[key]
		if !ok {
			trip = domain.PopularTripCounter{ID: key, OriginLocationID: origin, DestinationLocationID: destination}
		}
		trip.SalesCount++
		trip.UpdatedAt = at
		s.trips[key] = trip
		out = trip
		return nil
	})
	return out, err
}

func (r memTrips) Find(_ context.Context, origin, destination string) (domain.PopularTripCounter, error) {
	var out domain.PopularTripCounter
	err := r.m.with(func(s *memoryState) error {
		trip, ok := s.trips[origin+":"+destination]
		if !ok {
			return errNotFound("trip %s:%s", origin, destination)
		}
		out = trip
		return nil
	})
	return out, err
}

func (r memTrips) Top(_ context.Context, limit int) ([]domain.PopularTripCounter, error) {
	var out []domain.PopularTripCounter
	err := r.m.with(func(s *memoryState) error {
		out = lo.Values(s.trips)
		slices.SortFunc(out, func(a, b domain.PopularTripCounter) int {
			if a.SalesCount != b.SalesCount {
				return int(b.SalesCount - a.SalesCount)
			}
			return strings.Compare(a.ID, b.ID)
		})
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (r memTrips) ReplaceAll(_ context.Context, tallies []domain.RouteTally, at time.Time) error {
	return r.m.with(func(s *memoryState) error {
		s.trips = map[string]domain.PopularTripCounter{}
		for _, t := range tallies {
			key := t.OriginLocationID + ":" + t.DestinationLocationID
			s.trips[key] = domain.PopularTripCounter{
				ID:                    key,
				OriginLocationID:      t.OriginLocationID,
				DestinationLocationID: t.DestinationLocationID,
				SalesCount:            t.SalesCount,
				UpdatedAt:             at,
			}
		}
		return nil
	})
}

// operators ------------------------------------------------------------------

type memOperators struct{ m *memoryStore }

func (r memOperators) Insert(_ context.Context, op domain.OperatorAccount) error {
	return r.m.with(func(s *memoryState) error {
		if _, ok := s.operators[op.ID]; ok {
			return errConflict("operator %s exists", op.ID)
		}
		s.operators[op.ID] = op
		return nil
	})
}

func (r memOperators) Update(_ context.Context, op domain.OperatorAccount) error {
	return r.m.with(func(s *memoryState) error {
		current, ok := s.operators[op.ID]
		if !ok {
			return errNotFound("operator %s", op.ID)
		}
		op.SalesCount = current.SalesCount
		s.operators[op.ID] = op
		return nil
	})
}

func (r memOperators) FindByID(_ context.Context, id string) (domain.OperatorAccount, error) {
	var out domain.OperatorAccount
	err := r.m.with(func(s *memoryState) error {
		op, ok := s.operators[id]
		if !ok {
			return errNotFound("operator %s", id)
		}
		out = op
		return nil
	})
	return out, err
}

func (r memOperators) List(_ context.Context, filter repositories.OperatorListFilter) ([]domain.OperatorAccount, error) {
	var out []domain.OperatorAccount
	err := r.m.with(func(s *memoryState) error {
		out = lo.Filter(lo.Values(s.operators), func(op domain.OperatorAccount, _ int) bool { return !filter.ActiveOnly || op.IsActive })
		slices.SortFunc(out, func(a, b domain.OperatorAccount) int { return strings.Compare(a.ID, b.ID) })
		return nil
	})
	return out, err
}

func (r memOperators) IncrementSales(_ context.Context, id string, delta int64, at time.Time) error {
	return r.m.with(func(s *memoryState) error {
		op, ok := s.operators[id]
		if !ok {
			return errNotFound("operator %s", id)
		}
		op.SalesCount += delta
		op.UpdatedAt = at
		s.operators[id] = op
		return nil
	})
}

func (r memOperators) TopSellers(_ context.Context, limit int) ([]domain.OperatorAccount, error) {
	var out []domain.OperatorAccount
	err := r.m.with(func(s *memoryState) error {
		out = lo.Filter(lo.Values(s.operators), func(op domain.OperatorAccount, _ int) bool { return op.IsActive })
		slices.SortFunc(out, func(a, b domain.OperatorAccount) int {
			if a.SalesCount != b.SalesCount {
				return int(b.SalesCount - a.SalesCount)
			}
			return strings.Compare(a.ID, b.ID)
		})
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (r memOperators) ResetSales(_ context.Context, tallies []domain.OperatorTally, at time.Time) error {
	return r.m.with(func(s *memoryState) error {
		counts := lo.SliceToMap(tallies, func(t domain.OperatorTally) (string, int64) { return t.OperatorID, t.SalesCount })
		for id, op := range s.operators {
			op.SalesCount = counts[id]
			op.UpdatedAt = at
			s.operators[id] = op
		}
		return nil
	})
}

func (r memOperators) Delete(_ context.Context, id string) error {
	return r.m.with(func(s *memoryState) error {
		if _, ok := s.operators[id]; !ok {
			return errNotFound("operator %s", id)
		}
		delete(s.operators, id)
		for oid, o := range s.orders {
			if o.OperatorID != nil && *o.OperatorID == id {
				o.OperatorID = nil
				s.orders[oid] = o
			}
		}
		return nil
	})
}

// counters -------------------------------------------------------------------

type memCounters struct{ m *memoryStore }

func (r memCounters) Next(_ context.Context, id string) (int64, error) {
	var out int64
	err := r.m.with(func(s *memoryState) error {
		s.counters[id]++
		out = s.counters[id]
		return nil
	})
	return out, err
}

func within(t time.Time, rng domain.RangeQuery[time.Time]) bool {
	if rng.From != nil && t.Before(*rng.From) {
		return false
	}
	if rng.To != nil && t.After(*rng.To) {
		return false
	}
	return true
}
