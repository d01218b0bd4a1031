package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/contactdir/contactdir-server/database"
	"github.com/contactdir/contactdir-server/internal/config"
	"github.com/contactdir/contactdir-server/internal/db"
	"github.com/contactdir/contactdir-server/internal/storage"
	"github.com/contactdir/contactdir-server/internal/storage/postgres"
)

// DatabaseFactory creates the PostgreSQL contact store
type DatabaseFactory struct {
	config  *config.DatabaseConfig
	maxWait time.Duration
	migrate bool

	store storage.Store
}

var _ Factory = (*DatabaseFactory)(nil)

// DatabaseFactoryOption is a functional option for configuring the DatabaseFactory
type DatabaseFactoryOption func(*DatabaseFactory)

// WithMaxWait bounds how long CreateStore waits for the database to answer
func WithMaxWait(d time.Duration) DatabaseFactoryOption {
	return func(f *DatabaseFactory) {
		f.maxWait = d
	}
}

// WithoutMigrations skips the schema migration on CreateStore
func WithoutMigrations() DatabaseFactoryOption {
	return func(f *DatabaseFactory) {
		f.migrate = false
	}
}

// NewDatabaseFactory creates a database-backed storage factory
func NewDatabaseFactory(cfg *config.DatabaseConfig, opts ...DatabaseFactoryOption) (*DatabaseFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration is required for database storage type")
	}

	f := &DatabaseFactory{
		config:  cfg,
		maxWait: db.DefaultWaitTimeout,
		migrate: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// CreateStore connects to the database, waits until it answers, applies
// pending migrations and returns the store
func (d *DatabaseFactory) CreateStore(ctx context.Context) (storage.Store, error) {
	slog.Info("Creating database-backed contact store")

	pool, err := db.NewPool(ctx, d.config)
	if err != nil {
		return nil, err
	}

	if err := db.WaitForPool(ctx, pool, d.maxWait); err != nil {
		pool.Close()
		return nil, err
	}

	if d.migrate {
		if err := d.migrateUp(); err != nil {
			pool.Close()
			return nil, err
		}
	}

	store, err := postgres.New(pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create postgres store: %w", err)
	}

	d.store = store
	return store, nil
}

func (d *DatabaseFactory) migrateUp() error {
	connStr, err := d.config.GetConnectionString()
	if err != nil {
		return fmt.Errorf("failed to build connection string: %w", err)
	}

	m, err := database.NewPostgresMigrator(connStr)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := database.MigrateUp(m); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Cleanup closes the store and its connection pool
func (d *DatabaseFactory) Cleanup() {
	if d.store != nil {
		_ = d.store.Close()
	}
}
