package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactdir/contactdir-server/internal/contacts"
	"github.com/contactdir/contactdir-server/internal/storage"
	"github.com/contactdir/contactdir-server/internal/storage/storagetest"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "contacts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	t.Parallel()

	storagetest.Run(t, newTestStore)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "contacts.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	storagetest.Seed(t, s, time.Now(), contacts.RemoteRecord{ExternalID: "a", DisplayName: "Alice"})
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, err := reopened.GetContact(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.DisplayName)
}

func TestStore_MarkDeletedLargeBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	records := make([]contacts.RemoteRecord, 0, maxBatch+10)
	ids := make([]string, 0, maxBatch+10)
	for i := range maxBatch + 10 {
		id := fmt.Sprintf("id-%04d", i)
		records = append(records, contacts.RemoteRecord{ExternalID: id, DisplayName: id})
		ids = append(ids, id)
	}
	storagetest.Seed(t, s, time.Now(), records...)

	marked, err := s.MarkDeleted(ctx, ids, time.Now())
	require.NoError(t, err)
	assert.Equal(t, len(ids), marked)

	count, err := s.CountActive(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStore_SearchEscapesWildcards(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	storagetest.Seed(t, s, time.Now(),
		contacts.RemoteRecord{ExternalID: "a", DisplayName: "100% Sales"},
		contacts.RemoteRecord{ExternalID: "b", DisplayName: "1000 Sales"},
	)

	res, err := s.ListContacts(ctx, storage.ListOptions{Search: "100%"})
	require.NoError(t, err)
	require.Len(t, res.Contacts, 1)
	assert.Equal(t, "a", res.Contacts[0].ExternalID)
}

func TestTimeLayoutSortsChronologically(t *testing.T) {
	t.Parallel()

	earlier := time.Date(2025, 1, 1, 0, 0, 0, 5, time.UTC)
	later := time.Date(2025, 1, 1, 0, 0, 0, 40, time.UTC)
	assert.Less(t, formatTime(earlier), formatTime(later))
}
