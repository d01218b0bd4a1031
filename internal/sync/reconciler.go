package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/contactdir/contactdir-server/internal/contacts"
	"github.com/contactdir/contactdir-server/internal/sources"
	"github.com/contactdir/contactdir-server/internal/status"
	"github.com/contactdir/contactdir-server/internal/storage"
)

// DefaultBatchSize is the page size used when none is configured
const DefaultBatchSize = 100

// Reconciler applies full pulls of the remote source to the local store
//
//go:generate mockgen -destination=mocks/mock_reconciler.go -package=mocks github.com/contactdir/contactdir-server/internal/sync Reconciler
type Reconciler interface {
	// Reconcile runs one full pull for the attempt. The attempt counters
	// reflect the committed work even when an error is returned.
	Reconcile(ctx context.Context, attempt *Attempt) error
}

// Attempt is one execution of the reconciliation algorithm. It is never
// persisted; its counters are copied into the sync state when it ends.
type Attempt struct {
	ID        string
	StartedAt time.Time

	// Cursor is the cursor of the page in progress
	Cursor   string
	Pages    int
	Counters status.Counters

	// OnProgress, if set, is called after each committed page
	OnProgress func(status.Counters)

	seen map[string]struct{}
}

// NewAttempt creates an attempt starting now
func NewAttempt(id string, startedAt time.Time) *Attempt {
	return &Attempt{
		ID:        id,
		StartedAt: startedAt.UTC(),
		seen:      make(map[string]struct{}),
	}
}

type defaultReconciler struct {
	source    sources.Source
	store     storage.Store
	batchSize int
	pageDelay time.Duration
	now       func() time.Time
}

// Option configures the reconciler
type Option func(*defaultReconciler)

// WithBatchSize sets the number of records requested per page
func WithBatchSize(n int) Option {
	return func(r *defaultReconciler) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithPageDelay sets the pause between two page fetches
func WithPageDelay(d time.Duration) Option {
	return func(r *defaultReconciler) {
		r.pageDelay = d
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *defaultReconciler) {
		r.now = now
	}
}

// NewReconciler creates a reconciler pulling from source into store
func NewReconciler(source sources.Source, store storage.Store, opts ...Option) Reconciler {
	r := &defaultReconciler{
		source:    source,
		store:     store,
		batchSize: DefaultBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile pulls every page, applies each one transactionally, then
// soft-deletes the records the pull did not contain
func (r *defaultReconciler) Reconcile(ctx context.Context, attempt *Attempt) error {
	if attempt.seen == nil {
		attempt.seen = make(map[string]struct{})
	}

	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}

		attempt.Cursor = cursor
		page, err := r.source.FetchPage(ctx, cursor, r.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return cancelled(ctx.Err())
			}
			return NewError(fmt.Sprintf("failed to fetch page %d", attempt.Pages+1), err)
		}

		if err := r.applyPage(ctx, attempt, page.Records); err != nil {
			if ctx.Err() != nil {
				return cancelled(ctx.Err())
			}
			return NewError(fmt.Sprintf("failed to apply page %d", attempt.Pages+1), err)
		}
		attempt.Pages++
		if attempt.OnProgress != nil {
			attempt.OnProgress(attempt.Counters)
		}

		slog.Debug("Applied contact page",
			"attempt_id", attempt.ID,
			"page", attempt.Pages,
			"records", len(page.Records),
			"processed", attempt.Counters.RecordsProcessed)

		if page.IsLast() {
			break
		}
		if page.NextCursor == cursor {
			return &Error{
				Kind:    KindRemoteUnavailable,
				Message: fmt.Sprintf("source returned the same cursor twice after page %d", attempt.Pages),
			}
		}
		cursor = page.NextCursor

		if err := r.waitBetweenPages(ctx); err != nil {
			return cancelled(err)
		}
	}

	// Stop requests observed here must not delete anything
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}
	return r.deleteUnseen(ctx, attempt)
}

// applyPage applies one page in a single transaction. The attempt is only
// updated once the transaction committed.
func (r *defaultReconciler) applyPage(ctx context.Context, attempt *Attempt, records []contacts.RemoteRecord) error {
	var (
		counters status.Counters
		seen     = make([]string, 0, len(records))
		now      = r.now()
	)

	err := r.store.InTx(ctx, func(tx storage.Tx) error {
		counters = status.Counters{}
		seen = seen[:0]

		for i := range records {
			remote := &records[i]
			if err := remote.Validate(); err != nil {
				slog.Warn("Skipping invalid remote record",
					"attempt_id", attempt.ID,
					"page", attempt.Pages+1,
					"index", i,
					"error", err)
				continue
			}
			counters.RecordsProcessed++
			seen = append(seen, remote.ExternalID)

			existing, err := tx.FindByExternalID(ctx, remote.ExternalID)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				if err := tx.Upsert(ctx, contacts.NewFromRemote(remote, now)); err != nil {
					return err
				}
				counters.RecordsCreated++
			case err != nil:
				return err
			case existing.IsDeleted() || !existing.Matches(remote):
				existing.ApplyRemote(remote, now)
				if err := tx.Upsert(ctx, existing); err != nil {
					return err
				}
				counters.RecordsUpdated++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	attempt.Counters.RecordsProcessed += counters.RecordsProcessed
	attempt.Counters.RecordsCreated += counters.RecordsCreated
	attempt.Counters.RecordsUpdated += counters.RecordsUpdated
	for _, id := range seen {
		attempt.seen[id] = struct{}{}
	}
	return nil
}

func (r *defaultReconciler) deleteUnseen(ctx context.Context, attempt *Attempt) error {
	active, err := r.store.ListActiveExternalIDs(ctx)
	if err != nil {
		return NewError("failed to list local contacts", err)
	}

	var missing []string
	for _, id := range active {
		if _, ok := attempt.seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	deleted, err := r.store.MarkDeleted(ctx, missing, r.now())
	if err != nil {
		return NewError("failed to soft-delete missing contacts", err)
	}
	attempt.Counters.RecordsDeleted += deleted
	if attempt.OnProgress != nil {
		attempt.OnProgress(attempt.Counters)
	}

	slog.Info("Soft-deleted contacts missing from the remote source",
		"attempt_id", attempt.ID,
		"deleted", deleted)
	return nil
}

// waitBetweenPages sleeps for the page delay unless ctx is cancelled first
func (r *defaultReconciler) waitBetweenPages(ctx context.Context) error {
	if r.pageDelay <= 0 {
		return nil
	}
	timer := time.NewTimer(r.pageDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func cancelled(err error) *Error {
	return &Error{Kind: KindCancelled, Message: "sync cancelled", Err: err}
}
