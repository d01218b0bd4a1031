package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactdir/contactdir-server/internal/status"
	"github.com/contactdir/contactdir-server/internal/storage"
	"github.com/contactdir/contactdir-server/internal/storage/storagetest"
)

func TestStore(t *testing.T) {
	t.Parallel()

	storagetest.Run(t, func(*testing.T) storage.Store {
		return New()
	})
}

func TestStore_WithFileStatePersistence(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	s := New(WithStatePersistence(status.NewFilePersistence(dir)))
	require.NoError(t, s.SaveSyncState(ctx, &status.SyncState{Status: status.StatusSuccess}))

	// A new store over the same directory sees the persisted state
	reopened := New(WithStatePersistence(status.NewFilePersistence(dir)))
	loaded, err := reopened.LoadSyncState(ctx)
	require.NoError(t, err)
	assert.Equal(t, status.StatusSuccess, loaded.Status)
}
