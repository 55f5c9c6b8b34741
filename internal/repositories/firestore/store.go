package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/tripdesk/api/internal/domain"
	pfirestore "github.com/tripdesk/api/internal/platform/firestore"
	"github.com/tripdesk/api/internal/repositories"
)

// maxInValues is the Firestore limit for "in" filters.
const maxInValues = 30

// Store bundles the Firestore backed repositories. It satisfies repositories.Registry.
type Store struct {
	provider *pfirestore.Provider

	customerDocs *pfirestore.BaseRepository[customerDocument]
	locationDocs *pfirestore.BaseRepository[locationDocument]
	orderDocs    *pfirestore.BaseRepository[orderDocument]
	serviceDocs  *pfirestore.BaseRepository[serviceDocument]
	imageDocs    *pfirestore.BaseRepository[serviceImageDocument]
	tripDocs     *pfirestore.BaseRepository[popularTripDocument]
	operatorDocs *pfirestore.BaseRepository[operatorDocument]

	customers    *CustomerRepository
	locations    *LocationRepository
	orders       *OrderRepository
	services     *ServiceRepository
	images       *ServiceImageRepository
	popularTrips *PopularTripRepository
	operators    *OperatorRepository
	counters     *CounterRepository
}

var _ repositories.Registry = (*Store)(nil)

// NewStore wires every repository to the shared provider.
func NewStore(provider *pfirestore.Provider) (*Store, error) {
	if provider == nil {
		return nil, errors.New("firestore store requires provider")
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	s := &Store{
		provider:     provider,
		customerDocs: pfirestore.NewBaseRepository[customerDocument](provider, customersCollection, nil, nil),
		locationDocs: pfirestore.NewBaseRepository[locationDocument](provider, locationsCollection, nil, nil),
		orderDocs:    pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
		serviceDocs:  pfirestore.NewBaseRepository[serviceDocument](provider, servicesCollection, nil, nil),
		imageDocs:    pfirestore.NewBaseRepository[serviceImageDocument](provider, serviceImagesCollection, nil, nil),
		tripDocs:     pfirestore.NewBaseRepository[popularTripDocument](provider, popularTripsCollection, nil, nil),
		operatorDocs: pfirestore.NewBaseRepository[operatorDocument](provider, operatorsCollection, nil, nil),
		counters:     counters,
	}
	s.customers = &CustomerRepository{store: s}
	s.locations = &LocationRepository{store: s}
	s.orders = &OrderRepository{store: s}
	s.services = &ServiceRepository{store: s}
	s.images = &ServiceImageRepository{store: s}
	s.popularTrips = &PopularTripRepository{store: s}
	s.operators = &OperatorRepository{store: s}
	return s, nil
}

// RunInTx runs fn inside a Firestore session. Reads observe the session's own buffered writes.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.provider.RunInSession(ctx, fn)
}

// Close releases the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.provider.Close(ctx)
}

// Ping performs a cheap read to verify connectivity.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.counters.counters.Get(ctx, "__ping__")
	if err == nil || isNotFound(err) {
		return nil
	}
	return err
}

func (s *Store) Customers() repositories.CustomerRepository         { return s.customers }
func (s *Store) Locations() repositories.LocationRepository         { return s.locations }
func (s *Store) Orders() repositories.OrderRepository               { return s.orders }
func (s *Store) Services() repositories.ServiceRepository           { return s.services }
func (s *Store) ServiceImages() repositories.ServiceImageRepository { return s.images }
func (s *Store) PopularTrips() repositories.PopularTripRepository   { return s.popularTrips }
func (s *Store) Operators() repositories.OperatorRepository         { return s.operators }
func (s *Store) Counters() repositories.CounterRepository           { return s.counters }

func notFound(op, format string, args ...any) error {
	return pfirestore.WrapError(op, status.Errorf(codes.NotFound, format, args...))
}

func conflict(op, format string, args ...any) error {
	return pfirestore.WrapError(op, status.Errorf(codes.FailedPrecondition, format, args...))
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// applyRange adds inclusive bounds on field.
func applyRange(q firestore.Query, field string, rng domain.RangeQuery[time.Time]) firestore.Query {
	if rng.From != nil {
		q = q.Where(field, ">=", rng.From.UTC())
	}
	if rng.To != nil {
		q = q.Where(field, "<=", rng.To.UTC())
	}
	return q
}

func inRange(t time.Time, rng domain.RangeQuery[time.Time]) bool {
	if rng.From != nil && t.Before(*rng.From) {
		return false
	}
	if rng.To != nil && t.After(*rng.To) {
		return false
	}
	return true
}

func equalPtr(v *string, want string) bool {
	return v != nil && *v == want
}

// chunk splits ids into groups accepted by an "in" filter.
func chunk(ids []string) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += maxInValues {
		end := min(start+maxInValues, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}
