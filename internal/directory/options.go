package directory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/contactdir/contactdir-server/internal/storage"
)

// ErrInvalidOption is returned for out of range listing options
var ErrInvalidOption = errors.New("invalid list option")

// Option sets a ListContacts option
type Option func(*storage.ListOptions) error

// WithCursor continues a previous listing
func WithCursor(cursor string) Option {
	return func(o *storage.ListOptions) error {
		o.Cursor = cursor
		return nil
	}
}

// WithLimit sets the page size
func WithLimit(limit int) Option {
	return func(o *storage.ListOptions) error {
		if limit < 1 || limit > storage.MaxListLimit {
			return fmt.Errorf("%w: limit must be between 1 and %d, got %d", ErrInvalidOption, storage.MaxListLimit, limit)
		}
		o.Limit = limit
		return nil
	}
}

// WithSearch filters on display name or organization
func WithSearch(search string) Option {
	return func(o *storage.ListOptions) error {
		o.Search = strings.TrimSpace(search)
		return nil
	}
}
