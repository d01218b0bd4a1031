package status

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilePersistence_SaveAndLoad(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	persistence := NewFilePersistence(tmpDir)

	now := time.Now().UTC().Truncate(time.Millisecond)
	state := &SyncState{
		Status:        StatusFailed,
		LastSyncAt:    &now,
		LastError:     "remote unavailable",
		LastErrorKind: "RemoteUnavailable",
		AttemptID:     "attempt-1",
		Counters: Counters{
			RecordsProcessed: 10,
			RecordsCreated:   4,
			RecordsUpdated:   1,
		},
	}

	ctx := context.Background()
	require.NoError(t, persistence.SaveSyncState(ctx, state))

	_, err := os.Stat(filepath.Join(tmpDir, StateFileName))
	require.NoError(t, err)

	loaded, err := persistence.LoadSyncState(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, loaded.Status)
	assert.Equal(t, "remote unavailable", loaded.LastError)
	assert.Equal(t, 10, loaded.RecordsProcessed)
	assert.Equal(t, 4, loaded.RecordsCreated)
	require.NotNil(t, loaded.LastSyncAt)
	assert.True(t, now.Equal(*loaded.LastSyncAt))
}

func TestFilePersistence_LoadNonExistent(t *testing.T) {
	t.Parallel()

	persistence := NewFilePersistence(filepath.Join(t.TempDir(), "missing"))

	loaded, err := persistence.LoadSyncState(context.Background())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, Status(""), loaded.Status)
}

func TestFilePersistence_Overwrite(t *testing.T) {
	t.Parallel()

	persistence := NewFilePersistence(t.TempDir())
	ctx := context.Background()

	require.NoError(t, persistence.SaveSyncState(ctx, &SyncState{Status: StatusRunning}))
	require.NoError(t, persistence.SaveSyncState(ctx, &SyncState{Status: StatusSuccess, Counters: Counters{RecordsCreated: 2}}))

	loaded, err := persistence.LoadSyncState(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, loaded.Status)
	assert.Equal(t, 2, loaded.RecordsCreated)
}

func TestFilePersistence_CorruptFile(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, StateFileName), []byte("{not json"), 0600))

	_, err := NewFilePersistence(tmpDir).LoadSyncState(context.Background())
	assert.Error(t, err)
}

func TestSyncState_Clone(t *testing.T) {
	t.Parallel()

	now := time.Now()
	state := &SyncState{Status: StatusSuccess, LastSyncAt: &now}
	clone := state.Clone()
	*clone.LastSyncAt = time.Time{}

	assert.Equal(t, now, *state.LastSyncAt)
	assert.Nil(t, (*SyncState)(nil).Clone())
}
