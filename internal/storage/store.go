// Package storage defines the local contact store used by the synchronization
// engine and the directory, along with its error conventions.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/contactdir/contactdir-server/internal/contacts"
	"github.com/contactdir/contactdir-server/internal/status"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store,Tx

const (
	// DefaultListLimit is the page size used when ListOptions.Limit is not set
	DefaultListLimit = 50

	// MaxListLimit caps ListOptions.Limit
	MaxListLimit = 1000
)

// ErrNotFound is returned when no record exists for an external id
var ErrNotFound = errors.New("contact not found")

// Error wraps an I/O failure of a store operation
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns err wrapped in an *Error for the given operation.
// It returns nil for a nil error and leaves ErrNotFound and existing
// *Error values untouched.
func Wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// ListOptions controls directory listings
type ListOptions struct {
	// Limit is the maximum number of contacts returned
	Limit int
	// Cursor continues a previous listing
	Cursor string
	// Search filters on display name or organization, case-insensitive
	Search string
}

// GetLimit returns the effective limit
func (o ListOptions) GetLimit() int {
	switch {
	case o.Limit <= 0:
		return DefaultListLimit
	case o.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return o.Limit
	}
}

// ListResult is one page of a directory listing
type ListResult struct {
	Contacts   []*contacts.ContactRecord
	NextCursor string
}

// Tx is the view of the store inside a page transaction
type Tx interface {
	// FindByExternalID returns the record with the given external id,
	// including soft-deleted ones, or ErrNotFound
	FindByExternalID(ctx context.Context, externalID string) (*contacts.ContactRecord, error)

	// Upsert inserts or overwrites the record keyed by its external id
	Upsert(ctx context.Context, record *contacts.ContactRecord) error
}

// Store is the local contact store. Every implementation also persists the
// singleton sync state.
type Store interface {
	status.Persistence

	// InTx runs fn in a single transaction, committing only if fn returns nil
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// ListActiveExternalIDs returns the external ids of all non-deleted records
	ListActiveExternalIDs(ctx context.Context) ([]string, error)

	// MarkDeleted soft-deletes the given non-deleted records and returns how many were marked
	MarkDeleted(ctx context.Context, externalIDs []string, at time.Time) (int, error)

	// GetContact returns a non-deleted record or ErrNotFound
	GetContact(ctx context.Context, externalID string) (*contacts.ContactRecord, error)

	// ListContacts lists non-deleted records ordered by display name then external id
	ListContacts(ctx context.Context, opts ListOptions) (*ListResult, error)

	// CountActive returns the number of non-deleted records
	CountActive(ctx context.Context) (int, error)

	// Ping checks the store is reachable
	Ping(ctx context.Context) error

	// Close releases the store resources
	Close() error
}

// EscapeLike escapes LIKE wildcards in s using backslash as escape character
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
