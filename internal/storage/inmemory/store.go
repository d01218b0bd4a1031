// Package inmemory provides a map-backed implementation of storage.Store
package inmemory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/contactdir/contactdir-server/internal/contacts"
	"github.com/contactdir/contactdir-server/internal/status"
	"github.com/contactdir/contactdir-server/internal/storage"
)

// store keeps contacts keyed by external id
type store struct {
	mu      sync.RWMutex // Protects records and state
	records map[string]*contacts.ContactRecord
	state   *status.SyncState

	// statePersistence optionally backs the sync state with a file
	statePersistence status.Persistence
}

var _ storage.Store = (*store)(nil)

// Option is a functional option for configuring the store
type Option func(*store)

// WithStatePersistence persists the sync state through p instead of keeping it in memory only
func WithStatePersistence(p status.Persistence) Option {
	return func(s *store) {
		s.statePersistence = p
	}
}

// New creates an empty in-memory store
func New(opts ...Option) storage.Store {
	s := &store{
		records: make(map[string]*contacts.ContactRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// tx stages writes and applies them on commit
type tx struct {
	s      *store
	staged map[string]*contacts.ContactRecord
}

func (t *tx) FindByExternalID(_ context.Context, externalID string) (*contacts.ContactRecord, error) {
	if r, ok := t.staged[externalID]; ok {
		return r.Clone(), nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	r, ok := t.s.records[externalID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return r.Clone(), nil
}

func (t *tx) Upsert(_ context.Context, record *contacts.ContactRecord) error {
	t.staged[record.ExternalID] = record.Clone()
	return nil
}

// InTx applies all staged writes at once if fn succeeds
func (s *store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	t := &tx{s: s, staged: make(map[string]*contacts.ContactRecord)}
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range t.staged {
		if existing, ok := s.records[id]; ok {
			// Keep the identity of the first sighting
			r.ID = existing.ID
			r.CreatedAt = existing.CreatedAt
		}
		s.records[id] = r
	}
	return nil
}

func (s *store) ListActiveExternalIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.records))
	for id, r := range s.records {
		if !r.IsDeleted() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *store) MarkDeleted(_ context.Context, externalIDs []string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	marked := 0
	for _, id := range externalIDs {
		r, ok := s.records[id]
		if !ok || r.IsDeleted() {
			continue
		}
		r.MarkDeleted(at)
		marked++
	}
	return marked, nil
}

func (s *store) GetContact(_ context.Context, externalID string) (*contacts.ContactRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[externalID]
	if !ok || r.IsDeleted() {
		return nil, storage.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *store) ListContacts(_ context.Context, opts storage.ListOptions) (*storage.ListResult, error) {
	cursorName, cursorID, err := storage.DecodeCursor(opts.Cursor)
	if err != nil {
		return nil, err
	}
	search := strings.ToLower(strings.TrimSpace(opts.Search))

	s.mu.RLock()
	active := make([]*contacts.ContactRecord, 0, len(s.records))
	for _, r := range s.records {
		if r.IsDeleted() || !matchesSearch(r, search) {
			continue
		}
		if cursorID != "" && !storage.After(r.DisplayName, r.ExternalID, cursorName, cursorID) {
			continue
		}
		active = append(active, r.Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(active, func(a, b *contacts.ContactRecord) int {
		if c := strings.Compare(a.DisplayName, b.DisplayName); c != 0 {
			return c
		}
		return strings.Compare(a.ExternalID, b.ExternalID)
	})

	limit := opts.GetLimit()
	result := &storage.ListResult{Contacts: active}
	if len(active) > limit {
		result.Contacts = active[:limit]
		last := result.Contacts[limit-1]
		result.NextCursor = storage.EncodeCursor(last.DisplayName, last.ExternalID)
	}
	return result, nil
}

func (s *store) CountActive(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for r := range maps.Values(s.records) {
		if !r.IsDeleted() {
			count++
		}
	}
	return count, nil
}

func (s *store) LoadSyncState(ctx context.Context) (*status.SyncState, error) {
	if s.statePersistence != nil {
		st, err := s.statePersistence.LoadSyncState(ctx)
		return st, storage.Wrap("load sync state", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return &status.SyncState{}, nil
	}
	return s.state.Clone(), nil
}

func (s *store) SaveSyncState(ctx context.Context, state *status.SyncState) error {
	if s.statePersistence != nil {
		return storage.Wrap("save sync state", s.statePersistence.SaveSyncState(ctx, state))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state.Clone()
	return nil
}

func (*store) Ping(_ context.Context) error {
	return nil
}

func (*store) Close() error {
	return nil
}

func matchesSearch(r *contacts.ContactRecord, search string) bool {
	if search == "" {
		return true
	}
	return strings.Contains(strings.ToLower(r.DisplayName), search) ||
		strings.Contains(strings.ToLower(r.Organization), search)
}
