package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName is created in the data directory while a server owns it
const LockFileName = ".contactdir.lock"

// ErrDataDirLocked is returned when another process already owns the data directory
var ErrDataDirLocked = errors.New("data directory is locked by another process")

// lockDataDir creates dir and takes an exclusive lock on it. Two servers
// sharing a local store would each run their own single-flight guard.
func lockDataDir(dir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}

	lock := flock.New(filepath.Join(dir, LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock data directory %s: %w", dir, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrDataDirLocked, dir)
	}
	return lock, nil
}
