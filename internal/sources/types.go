package sources

import (
	"context"
	"errors"
	"fmt"

	"github.com/contactdir/contactdir-server/internal/contacts"
)

//go:generate mockgen -destination=mocks/mock_source.go -package=mocks -source=types.go Source

// Source retrieves remote contact records page by page
type Source interface {
	// FetchPage returns the page starting at cursor. An empty cursor requests
	// the first page.
	FetchPage(ctx context.Context, cursor string, pageSize int) (*Page, error)
}

// Page is one page of remote records
type Page struct {
	Records []contacts.RemoteRecord

	// NextCursor continues the listing. Empty when the full set was returned.
	NextCursor string
}

// IsLast reports whether no page follows this one
func (p *Page) IsLast() bool {
	return p.NextCursor == ""
}

// Kind classifies remote failures
type Kind string

const (
	// KindUnavailable is a transient network or provider failure
	KindUnavailable Kind = "RemoteUnavailable"

	// KindRateLimited means the provider asked us to slow down
	KindRateLimited Kind = "RemoteRateLimited"

	// KindAuthExpired means credentials must be renewed by an operator
	KindAuthExpired Kind = "RemoteAuthExpired"
)

// Error is returned by sources for every remote failure
type Error struct {
	Kind Kind
	// StatusCode is the HTTP status, zero when no response was received
	StatusCode int
	// RetryAfter is the Retry-After value of a rate limited response
	RetryAfter string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (HTTP %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a source error and whether err is one
func KindOf(err error) (Kind, bool) {
	var srcErr *Error
	if errors.As(err, &srcErr) {
		return srcErr.Kind, true
	}
	return "", false
}
