package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/mock/gomock"

	"github.com/contactdir/contactdir-server/internal/contacts"
	"github.com/contactdir/contactdir-server/internal/events"
	"github.com/contactdir/contactdir-server/internal/storage"
	"github.com/contactdir/contactdir-server/internal/storage/inmemory"
	storagemocks "github.com/contactdir/contactdir-server/internal/storage/mocks"
	"github.com/contactdir/contactdir-server/internal/storage/storagetest"
	"github.com/contactdir/contactdir-server/internal/telemetry"
)

var testNow = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func newSeededService(t *testing.T) (Service, storage.Store) {
	t.Helper()

	store := inmemory.New()
	storagetest.Seed(t, store, testNow,
		contacts.RemoteRecord{ExternalID: "a", DisplayName: "Alice", Organization: "Acme"},
		contacts.RemoteRecord{ExternalID: "b", DisplayName: "Bob", Organization: "Globex"},
		contacts.RemoteRecord{ExternalID: "c", DisplayName: "Carol", Organization: "Acme"},
	)
	_, err := store.MarkDeleted(context.Background(), []string{"b"}, testNow.Add(time.Hour))
	require.NoError(t, err)

	return NewService(store, "default"), store
}

func TestService_ListContacts(t *testing.T) {
	t.Parallel()

	svc, _ := newSeededService(t)
	ctx := context.Background()

	result, err := svc.ListContacts(ctx)
	require.NoError(t, err)
	require.Len(t, result.Contacts, 2, "deleted contacts are not listed")
	assert.Equal(t, "Alice", result.Contacts[0].DisplayName)
	assert.Equal(t, "Carol", result.Contacts[1].DisplayName)
	assert.Empty(t, result.NextCursor)

	first, err := svc.ListContacts(ctx, WithLimit(1))
	require.NoError(t, err)
	require.Len(t, first.Contacts, 1)
	require.NotEmpty(t, first.NextCursor)

	second, err := svc.ListContacts(ctx, WithLimit(1), WithCursor(first.NextCursor))
	require.NoError(t, err)
	require.Len(t, second.Contacts, 1)
	assert.Equal(t, "c", second.Contacts[0].ExternalID)

	searched, err := svc.ListContacts(ctx, WithSearch("  acme "))
	require.NoError(t, err)
	assert.Len(t, searched.Contacts, 2)
}

func TestService_ListContacts_InvalidOptions(t *testing.T) {
	t.Parallel()

	svc, _ := newSeededService(t)

	tests := []struct {
		name    string
		opts    []Option
		wantErr error
		errMsg  string
	}{
		{name: "zero limit", opts: []Option{WithLimit(0)}, wantErr: ErrInvalidOption, errMsg: "got 0"},
		{name: "limit too large", opts: []Option{WithLimit(storage.MaxListLimit + 1)}, wantErr: ErrInvalidOption},
		{name: "bad cursor", opts: []Option{WithCursor("%%%")}, wantErr: ErrInvalidCursor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := svc.ListContacts(context.Background(), tt.opts...)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.errMsg != "" {
				assert.Contains(t, err.Error(), tt.errMsg)
			}
		})
	}
}

func TestService_GetContact(t *testing.T) {
	t.Parallel()

	svc, _ := newSeededService(t)
	ctx := context.Background()

	record, err := svc.GetContact(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Alice", record.DisplayName)

	_, err = svc.GetContact(ctx, "b")
	assert.ErrorIs(t, err, ErrContactNotFound, "deleted contacts are invisible")

	_, err = svc.GetContact(ctx, "missing")
	assert.ErrorIs(t, err, ErrContactNotFound)
}

func TestService_StoreErrors(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	store := storagemocks.NewMockStore(ctrl)
	ioErr := &storage.Error{Op: "query", Err: errors.New("connection reset")}

	store.EXPECT().Ping(gomock.Any()).Return(ioErr)
	store.EXPECT().GetContact(gomock.Any(), "a").Return(nil, ioErr)
	store.EXPECT().ListContacts(gomock.Any(), gomock.Any()).Return(nil, ioErr)
	store.EXPECT().CountActive(gomock.Any()).Return(0, ioErr)

	svc := NewService(store, "default")
	ctx := context.Background()

	assert.ErrorContains(t, svc.CheckReadiness(ctx), "contact store not ready")

	_, err := svc.GetContact(ctx, "a")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrContactNotFound)

	_, err = svc.ListContacts(ctx)
	assert.ErrorContains(t, err, "failed to list contacts")

	_, err = svc.CountContacts(ctx)
	assert.ErrorContains(t, err, "failed to count contacts")
}

func TestMetricsRecorder(t *testing.T) {
	t.Parallel()

	svc, _ := newSeededService(t)

	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	dm, err := telemetry.NewDirectoryMetrics(mp)
	require.NoError(t, err)

	recorder := NewMetricsRecorder(svc, "default", dm)
	require.NoError(t, recorder.Publish(context.Background(), events.Event{Type: events.TypeSyncSucceeded}))
	require.NoError(t, recorder.Close())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var value int64 = -1
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if g, ok := m.Data.(metricdata.Gauge[int64]); ok && m.Name == "contactdir_contacts_total" {
				value = g.DataPoints[0].Value
			}
		}
	}
	assert.Equal(t, int64(2), value)
}
