package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/contactdir/contactdir-server/internal/status"
)

const (
	// SyncMetricsMeterName is the meter of the sync metrics
	SyncMetricsMeterName = "github.com/contactdir/contactdir-server/sync"

	// DirectoryMetricsMeterName is the meter of the directory metrics
	DirectoryMetricsMeterName = "github.com/contactdir/contactdir-server/directory"
)

// SyncMetrics instruments sync attempts
type SyncMetrics struct {
	duration metric.Float64Histogram
	records  metric.Int64Counter
	rejected metric.Int64Counter
}

// NewSyncMetrics creates the sync instruments. A nil provider yields nil
// metrics, on which every Record method is a no-op.
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}
	meter := provider.Meter(SyncMetricsMeterName)

	duration, err := meter.Float64Histogram(
		"contactdir_sync_duration_seconds",
		metric.WithDescription("Duration of sync attempts in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 900),
	)
	if err != nil {
		return nil, err
	}

	records, err := meter.Int64Counter(
		"contactdir_sync_records_total",
		metric.WithDescription("Records applied by sync attempts, by operation"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	rejected, err := meter.Int64Counter(
		"contactdir_sync_requests_rejected_total",
		metric.WithDescription("Sync requests dropped because an attempt was already running"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{duration: duration, records: records, rejected: rejected}, nil
}

// RecordAttempt records the outcome of a finished attempt. errorKind is
// empty for successful attempts.
func (m *SyncMetrics) RecordAttempt(
	ctx context.Context, directory string, outcome status.Status, errorKind string,
	duration time.Duration, counters status.Counters,
) {
	if m == nil {
		return
	}

	m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("directory", directory),
		attribute.String("status", string(outcome)),
		attribute.String("error_kind", errorKind),
	))

	for op, n := range map[string]int{
		"created": counters.RecordsCreated,
		"updated": counters.RecordsUpdated,
		"deleted": counters.RecordsDeleted,
	} {
		if n == 0 {
			continue
		}
		m.records.Add(ctx, int64(n), metric.WithAttributes(
			attribute.String("directory", directory),
			attribute.String("operation", op),
		))
	}
}

// RecordRejected counts a sync request refused by the single-flight guard
func (m *SyncMetrics) RecordRejected(ctx context.Context, directory, trigger string) {
	if m == nil {
		return
	}
	m.rejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("directory", directory),
		attribute.String("trigger", trigger),
	))
}

// DirectoryMetrics instruments the local directory
type DirectoryMetrics struct {
	contactsTotal metric.Int64Gauge
}

// NewDirectoryMetrics creates the directory instruments. A nil provider yields nil metrics.
func NewDirectoryMetrics(provider metric.MeterProvider) (*DirectoryMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	contactsTotal, err := provider.Meter(DirectoryMetricsMeterName).Int64Gauge(
		"contactdir_contacts_total",
		metric.WithDescription("Number of contacts visible in the directory"),
		metric.WithUnit("{contact}"),
	)
	if err != nil {
		return nil, err
	}
	return &DirectoryMetrics{contactsTotal: contactsTotal}, nil
}

// RecordContactsTotal records the number of non-deleted contacts
func (m *DirectoryMetrics) RecordContactsTotal(ctx context.Context, directory string, count int64) {
	if m == nil {
		return
	}
	m.contactsTotal.Record(ctx, count, metric.WithAttributes(attribute.String("directory", directory)))
}
