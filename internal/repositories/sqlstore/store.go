package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/tripdesk/api/internal/repositories"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"

	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = time.Hour
)

// Options configures the SQL connection pool.
type Options struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogQueries      bool
	AutoMigrate     bool
}

// Store is the gorm backed entity store. It satisfies repositories.Registry.
type Store struct {
	db     *gorm.DB
	driver string

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

type txKey struct{}

// Open connects to the configured database and optionally migrates the schema.
func Open(ctx context.Context, opts Options) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	dsn := strings.TrimSpace(opts.DSN)
	if dsn == "" {
		return nil, errors.New("sqlstore: dsn is required")
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverMySQL:
		dialector = mysql.Open(dsn)
	case DriverSQLite:
		dialector = sqlite.Open(sqliteDSN(dsn))
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", opts.Driver)
	}

	logMode := logger.Silent
	if opts.LogQueries {
		logMode = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(logMode),
		TranslateError:         true,
		SkipDefaultTransaction: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, wrapError("sqlstore.open", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, wrapError("sqlstore.open", err)
	}
	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	maxIdle := opts.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = defaultMaxIdleConns
	}
	lifetime := opts.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = defaultConnMaxLifetime
	}
	if driver == DriverSQLite {
		// SQLite allows a single writer; one connection serialises transactions instead of failing with SQLITE_BUSY.
		maxOpen, maxIdle, lifetime = 1, 1, 0
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(lifetime)

	store := newStore(db, driver)
	if opts.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}
	return store, nil
}

// sqliteDSN enables foreign key enforcement, which SQLite leaves off per connection by default.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
}

func newStore(db *gorm.DB, driver string) *Store {
	s := &Store{db: db, driver: driver}
	s.customers = &CustomerRepository{store: s}
	s.locations = &LocationRepository{store: s}
	s.orders = &OrderRepository{store: s}
	s.services = &ServiceRepository{store: s}
	s.images = &ServiceImageRepository{store: s}
	s.popularTrips = &PopularTripRepository{store: s}
	s.operators = &OperatorRepository{store: s}
	s.counters = &CounterRepository{store: s}
	return s
}

// Migrate creates or updates tables, indexes and foreign keys.
func (s *Store) Migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(
		&operatorModel{},
		&customerModel{},
		&locationModel{},
		&orderModel{},
		&serviceModel{},
		&serviceImageModel{},
		&popularTripModel{},
		&counterModel{},
	)
	return wrapError("sqlstore.migrate", err)
}

// RunInTx executes fn inside a database transaction bound to the returned context.
// Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("sqlstore: transaction function is nil")
	}
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(context.WithValue(ctx, txKey{}, tx))
		return fnErr
	})
	if err != nil && errors.Is(err, fnErr) {
		return err
	}
	return wrapError("sqlstore.transaction", err)
}

// Ping verifies the database connection for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return wrapError("sqlstore.ping", err)
	}
	return wrapError("sqlstore.ping", sqlDB.PingContext(ctx))
}

// Close releases the connection pool.
func (s *Store) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB exposes the underlying handle for components that share the connection, such as the idempotency store.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) Customers() repositories.CustomerRepository         { return s.customers }
func (s *Store) Locations() repositories.LocationRepository         { return s.locations }
func (s *Store) Orders() repositories.OrderRepository               { return s.orders }
func (s *Store) Services() repositories.ServiceRepository           { return s.services }
func (s *Store) ServiceImages() repositories.ServiceImageRepository { return s.images }
func (s *Store) PopularTrips() repositories.PopularTripRepository   { return s.popularTrips }
func (s *Store) Operators() repositories.OperatorRepository         { return s.operators }
func (s *Store) Counters() repositories.CounterRepository           { return s.counters }

// conn returns the transaction bound to ctx, or the pool when none is active.
func (s *Store) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}

// lockForUpdate adds a row lock where the dialect supports one. SQLite serialises writers instead.
func (s *Store) lockForUpdate(db *gorm.DB) *gorm.DB {
	if s.driver == DriverSQLite {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}
