// Package storage builds the contact store selected by the configuration and
// owns the resources behind it (data directory lock, connection pool).
package storage

import (
	"context"
	"fmt"

	"github.com/contactdir/contactdir-server/internal/config"
	"github.com/contactdir/contactdir-server/internal/storage"
)

//go:generate mockgen -destination=mocks/mock_factory.go -package=mocks -source=factory.go Factory

// Factory creates the contact store of one storage backend.
//
// The returned store also persists the sync state, so the tracker and the
// directory always share the backend the reconciler writes to.
type Factory interface {
	// CreateStore opens the store. It is called once per factory.
	CreateStore(ctx context.Context) (storage.Store, error)

	// Cleanup closes the store and releases the resources held by the
	// factory. It should be called when the application shuts down.
	Cleanup()
}

// NewStorageFactory creates the factory matching storage.type
func NewStorageFactory(cfg *config.Config) (Factory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	switch cfg.Storage.Type {
	case config.StorageTypeMemory, "":
		return NewMemoryFactory(cfg.Storage.GetDataDir()), nil
	case config.StorageTypeSQLite:
		return NewSQLiteFactory(cfg.Storage.GetDataDir(), cfg.Storage.GetSQLitePath()), nil
	case config.StorageTypeDatabase:
		return NewDatabaseFactory(cfg.Database)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}
}
