// Package directory serves the contacts of the local store to the API
// layer. Soft-deleted records are never visible through it.
package directory

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/contactdir/contactdir-server/internal/contacts"
	"github.com/contactdir/contactdir-server/internal/otel"
	"github.com/contactdir/contactdir-server/internal/storage"
)

// TracerName is the tracer of the directory service spans
const TracerName = "github.com/contactdir/contactdir-server/directory"

var (
	// ErrContactNotFound is returned when no visible contact has the external id
	ErrContactNotFound = errors.New("contact not found")
	// ErrInvalidCursor is returned when a listing cursor cannot be decoded
	ErrInvalidCursor = errors.New("invalid cursor")
)

//go:generate mockgen -destination=mocks/mock_service.go -package=mocks -source=service.go Service

// Service is the read access to the directory
type Service interface {
	// CheckReadiness checks the store can serve requests
	CheckReadiness(ctx context.Context) error

	// ListContacts lists visible contacts ordered by display name then external id
	ListContacts(ctx context.Context, opts ...Option) (*storage.ListResult, error)

	// GetContact returns a visible contact or ErrContactNotFound
	GetContact(ctx context.Context, externalID string) (*contacts.ContactRecord, error)

	// CountContacts returns the number of visible contacts
	CountContacts(ctx context.Context) (int, error)
}

type service struct {
	store         storage.Store
	directoryName string
	tracer        trace.Tracer
}

// ServiceOption configures the service
type ServiceOption func(*service)

// WithTracerProvider traces service calls
func WithTracerProvider(tp trace.TracerProvider) ServiceOption {
	return func(s *service) {
		if tp != nil {
			s.tracer = tp.Tracer(TracerName)
		}
	}
}

// NewService creates the directory service over store
func NewService(store storage.Store, directoryName string, opts ...ServiceOption) Service {
	s := &service{store: store, directoryName: directoryName}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CheckReadiness(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("contact store not ready: %w", err)
	}
	return nil
}

func (s *service) ListContacts(ctx context.Context, opts ...Option) (*storage.ListResult, error) {
	listOpts := storage.ListOptions{}
	for _, opt := range opts {
		if err := opt(&listOpts); err != nil {
			return nil, err
		}
	}

	ctx, span := otel.StartSpan(ctx, s.tracer, "directory.ListContacts",
		trace.WithAttributes(
			otel.AttrDirectoryName.String(s.directoryName),
			otel.AttrPageSize.Int(listOpts.GetLimit()),
			otel.AttrHasCursor.Bool(listOpts.Cursor != ""),
		))
	defer span.End()

	if _, _, err := storage.DecodeCursor(listOpts.Cursor); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	result, err := s.store.ListContacts(ctx, listOpts)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}

	span.SetAttributes(otel.AttrResultCount.Int(len(result.Contacts)))
	return result, nil
}

func (s *service) GetContact(ctx context.Context, externalID string) (*contacts.ContactRecord, error) {
	ctx, span := otel.StartSpan(ctx, s.tracer, "directory.GetContact",
		trace.WithAttributes(
			otel.AttrDirectoryName.String(s.directoryName),
			otel.AttrExternalID.String(externalID),
		))
	defer span.End()

	record, err := s.store.GetContact(ctx, externalID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("%w: %s", ErrContactNotFound, externalID)
	case err != nil:
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to get contact %s: %w", externalID, err)
	}

	// Stores never return deleted records here, this guards custom implementations
	if record.IsDeleted() {
		return nil, fmt.Errorf("%w: %s", ErrContactNotFound, externalID)
	}
	return record, nil
}

func (s *service) CountContacts(ctx context.Context) (int, error) {
	n, err := s.store.CountActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count contacts: %w", err)
	}
	return n, nil
}
