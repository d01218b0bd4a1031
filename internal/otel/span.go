// Package otel provides span helpers shared by the directory service and the sync coordinator.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used across the application
const (
	AttrDirectoryName = attribute.Key("directory.name")
	AttrExternalID    = attribute.Key("contact.external_id")
	AttrAttemptID     = attribute.Key("sync.attempt_id")
	AttrTrigger       = attribute.Key("sync.trigger")
	AttrPages         = attribute.Key("sync.pages")
	AttrPageSize      = attribute.Key("pagination.limit")
	AttrResultCount   = attribute.Key("result.count")
	AttrHasCursor     = attribute.Key("pagination.has_cursor")
)

// StartSpan starts a span when tracer is set, otherwise it returns the span already in ctx
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on span and marks it failed. The status
// description stays generic, details are kept in the span event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}
