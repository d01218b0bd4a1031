package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/contactdir/contactdir-server/internal/sources"
	"github.com/contactdir/contactdir-server/internal/storage"
)

// Kind classifies sync attempt failures
type Kind string

const (
	// KindRemoteUnavailable is a transient network or provider failure
	KindRemoteUnavailable Kind = "RemoteUnavailable"
	// KindRemoteRateLimited means the provider throttled the pull
	KindRemoteRateLimited Kind = "RemoteRateLimited"
	// KindRemoteAuthExpired means credentials need to be renewed, retrying will not help
	KindRemoteAuthExpired Kind = "RemoteAuthExpired"
	// KindStorage is a local persistence failure
	KindStorage Kind = "StorageError"
	// KindCancelled means a stop was requested during the attempt
	KindCancelled Kind = "Cancelled"
	// KindUnknown covers everything else, including recovered panics
	KindUnknown Kind = "Unknown"
)

// Error is the failure of a sync attempt
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an *Error of the kind of err, prefixing its message with msg
func NewError(msg string, err error) *Error {
	return &Error{
		Kind:    KindOf(err),
		Message: fmt.Sprintf("%s: %v", msg, err),
		Err:     err,
	}
}

// KindOf classifies any error returned during an attempt
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var syncErr *Error
	if errors.As(err, &syncErr) {
		return syncErr.Kind
	}

	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}

	if kind, ok := sources.KindOf(err); ok {
		switch kind {
		case sources.KindAuthExpired:
			return KindRemoteAuthExpired
		case sources.KindRateLimited:
			return KindRemoteRateLimited
		default:
			return KindRemoteUnavailable
		}
	}

	var storeErr *storage.Error
	if errors.As(err, &storeErr) {
		return KindStorage
	}

	return KindUnknown
}
