package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/contactdir/contactdir-server/internal/api/v1"
	"github.com/contactdir/contactdir-server/internal/config"
	"github.com/contactdir/contactdir-server/internal/status"
)

const contactsJSON = `{"contacts": [
	{"id": "c1", "displayName": "Alice Martin", "phoneNumbers": [{"number": "+33 1 23 45 67 89", "type": "work"}]},
	{"id": "c2", "displayName": "Bob Durand", "organization": "Acme"}
]}`

// testConfig returns a config reading contacts from a file, storing them in
// memory with the sync state in dataDir. An empty dataDir uses a temporary one.
func testConfig(t *testing.T, dataDir string) *config.Config {
	t.Helper()

	if dataDir == "" {
		dataDir = t.TempDir()
	}
	path := filepath.Join(t.TempDir(), "contacts.json")
	require.NoError(t, os.WriteFile(path, []byte(contactsJSON), 0600))

	disabled := false
	return &config.Config{
		DirectoryName: "test",
		Source: config.SourceConfig{
			Type: config.SourceTypeFile,
			File: &config.FileConfig{Path: path},
		},
		Sync: config.SyncConfig{
			BatchSize:        1,
			IntervalMinutes:  60,
			SchedulerEnabled: &disabled,
		},
		Storage: config.StorageConfig{Type: config.StorageTypeMemory, DataDir: dataDir},
	}
}

// startApp serves app on an ephemeral port and returns its base URL
func startApp(t *testing.T, app *DirectoryApp) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Serve(listener)
	}()
	t.Cleanup(func() {
		require.NoError(t, app.Stop(5*time.Second))
		select {
		case err := <-errCh:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Serve() did not return after Stop()")
		}
	})

	return fmt.Sprintf("http://%s", listener.Addr().String())
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()

	resp, err := http.Get(url) //nolint:gosec,noctx // test URL
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func waitForStatus(t *testing.T, baseURL string, want status.Status) *status.SyncState {
	t.Helper()

	var state status.SyncState
	require.Eventually(t, func() bool {
		state = status.SyncState{}
		getJSON(t, baseURL+"/v1/sync/status", &state)
		return state.Status == want
	}, 5*time.Second, 20*time.Millisecond)
	return &state
}

func TestDirectoryApp_ManualSync(t *testing.T) {
	t.Parallel()

	app, err := NewDirectoryApp(context.Background(), WithConfig(testConfig(t, "")))
	require.NoError(t, err)
	baseURL := startApp(t, app)

	assert.Equal(t, http.StatusOK, getJSON(t, baseURL+"/readiness", nil))

	var initial status.SyncState
	getJSON(t, baseURL+"/v1/sync/status", &initial)
	assert.Equal(t, status.StatusIdle, initial.Status)

	resp, err := http.Post(baseURL+"/v1/sync", "application/json", nil) //nolint:gosec,noctx // test URL
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Contains(t, []int{http.StatusAccepted, http.StatusConflict}, resp.StatusCode)

	state := waitForStatus(t, baseURL, status.StatusSuccess)
	assert.Equal(t, 2, state.RecordsProcessed)
	assert.Equal(t, 2, state.RecordsCreated)
	require.NotNil(t, state.LastSyncAt)

	var list v1.ContactListResponse
	require.Equal(t, http.StatusOK, getJSON(t, baseURL+"/v1/contacts", &list))
	require.Len(t, list.Contacts, 2)
	assert.Equal(t, "Alice Martin", list.Contacts[0].DisplayName)
}

func TestDirectoryApp_SyncOnStartup(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "")
	enabled := true
	cfg.Sync.SchedulerEnabled = &enabled

	app, err := NewDirectoryApp(context.Background(), WithConfig(cfg))
	require.NoError(t, err)
	baseURL := startApp(t, app)

	waitForStatus(t, baseURL, status.StatusSuccess)
}

func TestDirectoryApp_StatePersistsAcrossRestarts(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	ctx := context.Background()

	first, err := NewDirectoryApp(ctx, WithConfig(testConfig(t, dataDir)))
	require.NoError(t, err)
	first.Components().SyncCoordinator.RequestSync("manual")
	first.Components().SyncCoordinator.Wait()
	require.Equal(t, status.StatusSuccess, first.Components().SyncCoordinator.Status().Status)
	require.NoError(t, first.Stop(time.Second))

	second, err := NewDirectoryApp(ctx, WithConfig(testConfig(t, dataDir)))
	require.NoError(t, err)
	defer func() { _ = second.Stop(time.Second) }()

	restored := second.Components().SyncCoordinator.Status()
	assert.Equal(t, status.StatusSuccess, restored.Status)
	assert.Equal(t, 2, restored.RecordsCreated)
}

func TestDirectoryApp_Run(t *testing.T) {
	t.Parallel()

	app, err := NewDirectoryApp(context.Background(),
		WithConfig(testConfig(t, "")),
		WithAddress("127.0.0.1:0"),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- app.Run(ctx, 5*time.Second)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return after the context was cancelled")
	}

	// Stop is idempotent
	require.NoError(t, app.Stop(time.Second))
}
