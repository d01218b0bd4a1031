// Package state tracks the persisted synchronization state machine of the directory.
//
// The Tracker owns the singleton SyncState. It is the single-flight guard of
// the coordinator: TryBegin is an in-memory compare-and-set from any
// non-running status to Running, and only the attempt holding the guard can
// move the state to a terminal status. Transitions never wait on storage.
// Readers get snapshots without taking the transition lock.
package state

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/contactdir/contactdir-server/internal/status"
)

// InterruptedMessage is recorded when a Running state is found at startup
const InterruptedMessage = "previous sync was interrupted"

// Tracker manages the lifecycle of the directory SyncState
type Tracker struct {
	persistence status.Persistence
	now         func() time.Time

	// mu serializes in-memory transitions
	mu      sync.Mutex
	current atomic.Pointer[status.SyncState]

	// saveMu serializes writes. Each write stores the latest state, so a
	// slow write can never overwrite a newer one.
	saveMu sync.Mutex
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a tracker persisting through p. Initialize must be
// called before the first transition.
func NewTracker(p status.Persistence, opts ...Option) *Tracker {
	t := &Tracker{
		persistence: p,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.current.Store(status.NewIdleState())
	return t
}

// Initialize loads the persisted state, creating the Idle state on first
// startup. A state left Running by a previous process is reset to Failed.
func (t *Tracker) Initialize(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	loaded, err := t.persistence.LoadSyncState(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sync state: %w", err)
	}

	switch {
	case loaded == nil || loaded.Status == "":
		loaded = status.NewIdleState()
		slog.Info("Initializing sync state", "status", loaded.Status)
	case loaded.Status == status.StatusRunning:
		slog.Warn("Found interrupted sync attempt, marking it failed", "attempt_id", loaded.AttemptID)
		now := t.now().UTC()
		loaded.Status = status.StatusFailed
		loaded.LastError = InterruptedMessage
		loaded.LastErrorKind = "Unknown"
		loaded.LastSyncAt = &now
	default:
		t.current.Store(loaded.Clone())
		return nil
	}

	if err := t.persistence.SaveSyncState(ctx, loaded); err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	t.current.Store(loaded.Clone())
	return nil
}

// Snapshot returns a copy of the current state. It never blocks on a
// transition and may be slightly stale.
func (t *Tracker) Snapshot() *status.SyncState {
	return t.current.Load().Clone()
}

// TryBegin moves the state to Running for the given attempt. It returns
// false if an attempt is already running. Nothing is persisted here; the
// attempt calls PersistRunning once it runs on its own goroutine.
func (t *Tracker) TryBegin(attemptID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.current.Load()
	if cur.IsRunning() {
		return false
	}

	now := t.now().UTC()
	next := cur.Clone()
	next.Status = status.StatusRunning
	next.LastError = ""
	next.LastErrorKind = ""
	next.StartedAt = &now
	next.AttemptID = attemptID
	next.Counters = status.Counters{}
	t.current.Store(next)
	return true
}

// PersistRunning writes the Running state of the attempt. The guard stays
// held on error so the caller can fail the attempt.
func (t *Tracker) PersistRunning(ctx context.Context, attemptID string) error {
	if cur := t.current.Load(); !cur.IsRunning() || cur.AttemptID != attemptID {
		return fmt.Errorf("attempt %s does not hold the sync guard", attemptID)
	}
	if err := t.persistLatest(ctx); err != nil {
		return fmt.Errorf("failed to persist running state: %w", err)
	}
	return nil
}

func (t *Tracker) persistLatest(ctx context.Context) error {
	t.saveMu.Lock()
	defer t.saveMu.Unlock()
	return t.persistence.SaveSyncState(ctx, t.current.Load().Clone())
}

// Progress publishes the running counters of the attempt. It is not persisted.
func (t *Tracker) Progress(attemptID string, counters status.Counters) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.current.Load()
	if !cur.IsRunning() || cur.AttemptID != attemptID {
		return
	}
	next := cur.Clone()
	next.Counters = counters
	t.current.Store(next)
}

// Complete records a successful attempt
func (t *Tracker) Complete(ctx context.Context, attemptID string, counters status.Counters) *status.SyncState {
	return t.finish(ctx, attemptID, func(s *status.SyncState, now time.Time) {
		s.Status = status.StatusSuccess
		s.LastSyncAt = &now
		s.Counters = counters
	})
}

// Fail records a failed attempt. Counters hold the work done before the failure.
func (t *Tracker) Fail(
	ctx context.Context, attemptID string, kind, message string, counters status.Counters,
) *status.SyncState {
	return t.finish(ctx, attemptID, func(s *status.SyncState, now time.Time) {
		s.Status = status.StatusFailed
		s.LastSyncAt = &now
		s.LastError = message
		s.LastErrorKind = kind
		s.Counters = counters
	})
}

// Cancel records a requested stop. The state returns to Idle with the partial
// counters and no error. LastSyncAt is left untouched.
func (t *Tracker) Cancel(ctx context.Context, attemptID string, counters status.Counters) *status.SyncState {
	return t.finish(ctx, attemptID, func(s *status.SyncState, _ time.Time) {
		s.Status = status.StatusIdle
		s.LastError = ""
		s.LastErrorKind = ""
		s.Counters = counters
	})
}

func (t *Tracker) finish(
	ctx context.Context, attemptID string, apply func(s *status.SyncState, now time.Time),
) *status.SyncState {
	t.mu.Lock()
	cur := t.current.Load()
	if !cur.IsRunning() || cur.AttemptID != attemptID {
		t.mu.Unlock()
		slog.Warn("Ignoring terminal transition for attempt not holding the guard",
			"attempt_id", attemptID,
			"current_attempt_id", cur.AttemptID,
			"status", cur.Status)
		return cur.Clone()
	}

	next := cur.Clone()
	apply(next, t.now().UTC())
	t.current.Store(next)
	t.mu.Unlock()

	// The terminal state must outlive a cancelled attempt context
	if err := t.persistLatest(context.WithoutCancel(ctx)); err != nil {
		slog.Error("Failed to persist sync state",
			"attempt_id", attemptID,
			"status", next.Status,
			"error", err)
	}
	return next.Clone()
}
