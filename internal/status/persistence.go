// Package status provides the directory sync state and its file persistence.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

//go:generate mockgen -destination=mocks/mock_persistence.go -package=mocks -source=persistence.go Persistence

const (
	// StateFileName is the name of the sync state file
	StateFileName = "sync-state.json"
)

// Persistence loads and saves the singleton sync state
type Persistence interface {
	// LoadSyncState returns the persisted state.
	// An empty SyncState (no Status) is returned when nothing was persisted yet.
	LoadSyncState(ctx context.Context) (*SyncState, error)

	// SaveSyncState overwrites the persisted state
	SaveSyncState(ctx context.Context, state *SyncState) error
}

// filePersistence implements Persistence using a JSON file
type filePersistence struct {
	basePath string
}

// NewFilePersistence creates a file-based state persistence storing
// StateFileName in basePath
func NewFilePersistence(basePath string) Persistence {
	return &filePersistence{
		basePath: basePath,
	}
}

// SaveSyncState writes the state to a temporary file and renames it in place
func (f *filePersistence) SaveSyncState(_ context.Context, state *SyncState) error {
	if err := os.MkdirAll(f.basePath, 0750); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sync state: %w", err)
	}

	filePath := filepath.Join(f.basePath, StateFileName)
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename state file: %w", err)
	}

	return nil
}

// LoadSyncState reads the state file, returning an empty state if it does not exist
func (f *filePersistence) LoadSyncState(_ context.Context) (*SyncState, error) {
	filePath := filepath.Join(f.basePath, StateFileName)

	// #nosec G304 -- path is built from the configured data directory
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &SyncState{}, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state SyncState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sync state: %w", err)
	}

	return &state, nil
}
