package storage

import (
	"context"
	"log/slog"

	"github.com/gofrs/flock"

	"github.com/contactdir/contactdir-server/internal/status"
	"github.com/contactdir/contactdir-server/internal/storage"
	"github.com/contactdir/contactdir-server/internal/storage/inmemory"
)

// MemoryFactory creates an in-memory contact store. Contacts are lost on
// restart; the sync state is kept in a JSON file of the data directory.
type MemoryFactory struct {
	dataDir string

	lock  *flock.Flock
	store storage.Store
}

var _ Factory = (*MemoryFactory)(nil)

// NewMemoryFactory creates a memory factory persisting the sync state in dataDir
func NewMemoryFactory(dataDir string) *MemoryFactory {
	return &MemoryFactory{dataDir: dataDir}
}

// CreateStore locks the data directory and creates the in-memory store
func (f *MemoryFactory) CreateStore(_ context.Context) (storage.Store, error) {
	lock, err := lockDataDir(f.dataDir)
	if err != nil {
		return nil, err
	}
	f.lock = lock

	slog.Info("Creating in-memory contact store", "data_dir", f.dataDir)
	f.store = inmemory.New(inmemory.WithStatePersistence(status.NewFilePersistence(f.dataDir)))
	return f.store, nil
}

// Cleanup releases the data directory lock
func (f *MemoryFactory) Cleanup() {
	if f.store != nil {
		_ = f.store.Close()
	}
	if f.lock != nil {
		if err := f.lock.Unlock(); err != nil {
			slog.Warn("Failed to release data directory lock", "error", err)
		}
	}
}
