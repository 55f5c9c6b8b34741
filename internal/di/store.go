package di

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"gorm.io/gorm"

	"github.com/tripdesk/api/internal/platform/config"
	pfirestore "github.com/tripdesk/api/internal/platform/firestore"
	"github.com/tripdesk/api/internal/platform/idempotency"
	"github.com/tripdesk/api/internal/repositories"
	firestorestore "github.com/tripdesk/api/internal/repositories/firestore"
	"github.com/tripdesk/api/internal/repositories/sqlstore"
)

// Store is the opened entity store. Exactly one of DB and Firestore is set.
type Store struct {
	Registry  repositories.Registry
	DB        *gorm.DB
	Firestore *pfirestore.Provider
}

// OpenStore connects the backend selected by cfg.Store.Driver.
func OpenStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Store.Driver {
	case config.StoreDriverSQLite, config.StoreDriverMySQL:
		store, err := sqlstore.Open(ctx, sqlstore.Options{
			Driver:          cfg.Store.Driver,
			DSN:             cfg.Store.DSN,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
			AutoMigrate:     cfg.Store.AutoMigrate,
		})
		if err != nil {
			return Store{}, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
		}
		logger.Info("entity store ready", zap.String("driver", cfg.Store.Driver))
		return Store{Registry: store, DB: store.DB()}, nil
	case config.StoreDriverFirestore:
		var opts []pfirestore.ProviderOption
		if cfg.Firebase.CredentialsFile != "" {
			opts = append(opts, pfirestore.WithClientOptions(option.WithCredentialsFile(cfg.Firebase.CredentialsFile)))
		}
		provider := pfirestore.NewProvider(cfg.Firestore, opts...)
		store, err := firestorestore.NewStore(provider)
		if err != nil {
			return Store{}, fmt.Errorf("open firestore store: %w", err)
		}
		logger.Info("entity store ready", zap.String("driver", cfg.Store.Driver), zap.String("project", cfg.Firestore.ProjectID))
		return Store{Registry: store, Firestore: provider}, nil
	default:
		return Store{}, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

// IdempotencyStore returns the idempotency record store living next to the entity store.
// Without a backing database records are kept in memory.
func (s Store) IdempotencyStore(ctx context.Context) (idempotency.Store, error) {
	switch {
	case s.DB != nil:
		store := idempotency.NewGormStore(s.DB)
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate idempotency store: %w", err)
		}
		return store, nil
	case s.Firestore != nil:
		client, err := s.Firestore.Client(ctx)
		if err != nil {
			return nil, fmt.Errorf("idempotency store: %w", err)
		}
		return idempotency.NewFirestoreStore(client), nil
	case s.Registry == nil:
		return nil, errors.New("idempotency store: entity store is not open")
	default:
		return idempotency.NewMemoryStore(), nil
	}
}
