package directory

import (
	"context"
	"log/slog"

	"github.com/contactdir/contactdir-server/internal/events"
	"github.com/contactdir/contactdir-server/internal/telemetry"
)

// metricsRecorder refreshes the contact count gauge at the end of every sync attempt
type metricsRecorder struct {
	svc           Service
	directoryName string
	metrics       *telemetry.DirectoryMetrics
}

// NewMetricsRecorder returns a publisher recording the number of visible
// contacts whenever a sync attempt ends
func NewMetricsRecorder(svc Service, directoryName string, metrics *telemetry.DirectoryMetrics) events.Publisher {
	return &metricsRecorder{svc: svc, directoryName: directoryName, metrics: metrics}
}

func (r *metricsRecorder) Publish(ctx context.Context, _ events.Event) error {
	if r.metrics == nil {
		return nil
	}
	n, err := r.svc.CountContacts(ctx)
	if err != nil {
		slog.Warn("Failed to count contacts for metrics", "error", err)
		return err
	}
	r.metrics.RecordContactsTotal(ctx, r.directoryName, int64(n))
	return nil
}

func (*metricsRecorder) Close() error {
	return nil
}
