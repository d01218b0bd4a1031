// Package storagetest provides behavior tests shared by all storage.Store implementations.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactdir/contactdir-server/internal/contacts"
	"github.com/contactdir/contactdir-server/internal/status"
	"github.com/contactdir/contactdir-server/internal/storage"
)

// Factory returns a new empty store for a single test
type Factory func(t *testing.T) storage.Store

var baseTime = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

// Run executes the shared store behavior tests
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("upsert and find", func(t *testing.T) { testUpsertAndFind(t, newStore(t)) })
	t.Run("transaction rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("cancelled page", func(t *testing.T) { testCancelledPage(t, newStore(t)) })
	t.Run("update keeps identity", func(t *testing.T) { testUpdateKeepsIdentity(t, newStore(t)) })
	t.Run("mark deleted", func(t *testing.T) { testMarkDeleted(t, newStore(t)) })
	t.Run("list contacts", func(t *testing.T) { testListContacts(t, newStore(t)) })
	t.Run("sync state", func(t *testing.T) { testSyncState(t, newStore(t)) })
	t.Run("utc timestamps", func(t *testing.T) { testUTCTimestamps(t, newStore(t)) })
}

// Seed inserts the given remote records as new contacts in one transaction
func Seed(t *testing.T, s storage.Store, now time.Time, records ...contacts.RemoteRecord) {
	t.Helper()
	err := s.InTx(context.Background(), func(tx storage.Tx) error {
		for i := range records {
			if err := tx.Upsert(context.Background(), contacts.NewFromRemote(&records[i], now)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func testUpsertAndFind(t *testing.T, s storage.Store) {
	ctx := context.Background()
	remote := contacts.RemoteRecord{
		ExternalID:     "a",
		DisplayName:    "Alice",
		Organization:   "Acme",
		PhoneNumbers:   []contacts.PhoneNumber{{Number: "+1", Type: "work", Label: "desk"}},
		EmailAddresses: []string{"alice@example.com"},
	}
	Seed(t, s, baseTime, remote)

	err := s.InTx(ctx, func(tx storage.Tx) error {
		found, err := tx.FindByExternalID(ctx, "a")
		require.NoError(t, err)
		assert.True(t, found.Matches(&remote))
		assert.True(t, found.CreatedAt.Equal(baseTime))

		_, err = tx.FindByExternalID(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetContact(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.DisplayName)
	assert.Equal(t, remote.PhoneNumbers, got.PhoneNumbers)
}

func testRollback(t *testing.T, s storage.Store) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx storage.Tx) error {
		r := contacts.NewFromRemote(&contacts.RemoteRecord{ExternalID: "x", DisplayName: "X"}, baseTime)
		require.NoError(t, tx.Upsert(ctx, r))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetContact(ctx, "x")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	count, err := s.CountActive(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func testCancelledPage(t *testing.T, s storage.Store) {
	ctx, cancel := context.WithCancel(context.Background())

	err := s.InTx(ctx, func(tx storage.Tx) error {
		r := contacts.NewFromRemote(&contacts.RemoteRecord{ExternalID: "x", DisplayName: "X"}, baseTime)
		require.NoError(t, tx.Upsert(ctx, r))
		cancel()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)

	_, err = s.GetContact(context.Background(), "x")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// The store keeps working after the cancelled page
	Seed(t, s, baseTime, contacts.RemoteRecord{ExternalID: "y", DisplayName: "Y"})
	count, err := s.CountActive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func testUpdateKeepsIdentity(t *testing.T, s storage.Store) {
	ctx := context.Background()
	Seed(t, s, baseTime, contacts.RemoteRecord{ExternalID: "a", DisplayName: "Alice"})
	original, err := s.GetContact(ctx, "a")
	require.NoError(t, err)

	later := baseTime.Add(time.Hour)
	err = s.InTx(ctx, func(tx storage.Tx) error {
		r, err := tx.FindByExternalID(ctx, "a")
		if err != nil {
			return err
		}
		r.ApplyRemote(&contacts.RemoteRecord{ExternalID: "a", DisplayName: "Alice Updated"}, later)
		return tx.Upsert(ctx, r)
	})
	require.NoError(t, err)

	updated, err := s.GetContact(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, original.ID, updated.ID)
	assert.Equal(t, "Alice Updated", updated.DisplayName)
	assert.True(t, updated.CreatedAt.Equal(baseTime))
	assert.True(t, updated.UpdatedAt.Equal(later))
}

func testMarkDeleted(t *testing.T, s storage.Store) {
	ctx := context.Background()
	Seed(t, s, baseTime,
		contacts.RemoteRecord{ExternalID: "a", DisplayName: "Alice"},
		contacts.RemoteRecord{ExternalID: "b", DisplayName: "Bob"},
	)

	ids, err := s.ListActiveExternalIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	marked, err := s.MarkDeleted(ctx, []string{"b", "unknown"}, baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	// Marking again is a no-op
	marked, err = s.MarkDeleted(ctx, []string{"b"}, baseTime.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, marked)

	_, err = s.GetContact(ctx, "b")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	ids, err = s.ListActiveExternalIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)

	count, err := s.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Soft-deleted records stay reachable for reconciliation
	err = s.InTx(ctx, func(tx storage.Tx) error {
		r, err := tx.FindByExternalID(ctx, "b")
		require.NoError(t, err)
		require.NotNil(t, r.DeletedAt)
		assert.True(t, r.DeletedAt.Equal(baseTime.Add(time.Minute)))
		return nil
	})
	require.NoError(t, err)
}

func testListContacts(t *testing.T, s storage.Store) {
	ctx := context.Background()
	Seed(t, s, baseTime,
		contacts.RemoteRecord{ExternalID: "c", DisplayName: "Carol", Organization: "Initech"},
		contacts.RemoteRecord{ExternalID: "a", DisplayName: "Alice", Organization: "Acme"},
		contacts.RemoteRecord{ExternalID: "b", DisplayName: "Bob", Organization: "Acme"},
		contacts.RemoteRecord{ExternalID: "d", DisplayName: "Dave"},
	)
	_, err := s.MarkDeleted(ctx, []string{"d"}, baseTime)
	require.NoError(t, err)

	first, err := s.ListContacts(ctx, storage.ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Contacts, 2)
	assert.Equal(t, "Alice", first.Contacts[0].DisplayName)
	assert.Equal(t, "Bob", first.Contacts[1].DisplayName)
	require.NotEmpty(t, first.NextCursor)

	second, err := s.ListContacts(ctx, storage.ListOptions{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Contacts, 1)
	assert.Equal(t, "Carol", second.Contacts[0].DisplayName)
	assert.Empty(t, second.NextCursor)

	search, err := s.ListContacts(ctx, storage.ListOptions{Search: "acme"})
	require.NoError(t, err)
	require.Len(t, search.Contacts, 2)

	_, err = s.ListContacts(ctx, storage.ListOptions{Cursor: "%%%"})
	assert.Error(t, err)
}

func testSyncState(t *testing.T, s storage.Store) {
	ctx := context.Background()

	empty, err := s.LoadSyncState(ctx)
	require.NoError(t, err)
	assert.Equal(t, status.Status(""), empty.Status)

	now := baseTime
	state := &status.SyncState{
		Status:        status.StatusFailed,
		LastSyncAt:    &now,
		LastError:     "remote unavailable",
		LastErrorKind: "RemoteUnavailable",
		StartedAt:     &now,
		AttemptID:     "attempt-1",
		Counters:      status.Counters{RecordsProcessed: 3, RecordsCreated: 2, RecordsUpdated: 1},
	}
	require.NoError(t, s.SaveSyncState(ctx, state))

	state.Status = status.StatusSuccess
	state.LastError = ""
	require.NoError(t, s.SaveSyncState(ctx, state))

	loaded, err := s.LoadSyncState(ctx)
	require.NoError(t, err)
	assert.Equal(t, status.StatusSuccess, loaded.Status)
	assert.Empty(t, loaded.LastError)
	assert.Equal(t, "attempt-1", loaded.AttemptID)
	assert.Equal(t, state.Counters, loaded.Counters)
	require.NotNil(t, loaded.LastSyncAt)
	assert.True(t, loaded.LastSyncAt.Equal(now))
}

func testUTCTimestamps(t *testing.T, s storage.Store) {
	ctx := context.Background()
	loc := time.FixedZone("UTC-7", -7*60*60)
	local := time.Date(2025, 6, 1, 3, 0, 0, 0, loc)
	Seed(t, s, local, contacts.RemoteRecord{ExternalID: "tz", DisplayName: "Zone"})

	got, err := s.GetContact(ctx, "tz")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, got.CreatedAt.Location())
	assert.True(t, got.CreatedAt.Equal(local))
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
}
