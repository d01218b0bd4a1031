package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gofrs/flock"

	"github.com/contactdir/contactdir-server/internal/storage"
	"github.com/contactdir/contactdir-server/internal/storage/sqlite"
)

// SQLiteFactory creates a contact store backed by a local SQLite file
type SQLiteFactory struct {
	dataDir string
	path    string

	lock  *flock.Flock
	store storage.Store
}

var _ Factory = (*SQLiteFactory)(nil)

// NewSQLiteFactory creates a factory opening the database at path
func NewSQLiteFactory(dataDir, path string) *SQLiteFactory {
	return &SQLiteFactory{dataDir: dataDir, path: path}
}

// CreateStore locks the data directory, then opens and migrates the database
func (f *SQLiteFactory) CreateStore(ctx context.Context) (storage.Store, error) {
	lock, err := lockDataDir(f.dataDir)
	if err != nil {
		return nil, err
	}

	store, err := sqlite.Open(ctx, f.path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}

	f.lock, f.store = lock, store
	return store, nil
}

// Cleanup closes the database and releases the data directory lock
func (f *SQLiteFactory) Cleanup() {
	if f.store != nil {
		slog.Info("Closing sqlite contact store")
		if err := f.store.Close(); err != nil {
			slog.Warn("Failed to close sqlite store", "error", err)
		}
	}
	if f.lock != nil {
		if err := f.lock.Unlock(); err != nil {
			slog.Warn("Failed to release data directory lock", "error", err)
		}
	}
}
