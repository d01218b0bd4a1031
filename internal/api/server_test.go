package api_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/contactdir/contactdir-server/internal/api"
	v1 "github.com/contactdir/contactdir-server/internal/api/v1"
	"github.com/contactdir/contactdir-server/internal/contacts"
	"github.com/contactdir/contactdir-server/internal/directory"
	dirmocks "github.com/contactdir/contactdir-server/internal/directory/mocks"
	"github.com/contactdir/contactdir-server/internal/status"
	"github.com/contactdir/contactdir-server/internal/storage"
	"github.com/contactdir/contactdir-server/internal/sync/coordinator"
	coordmocks "github.com/contactdir/contactdir-server/internal/sync/coordinator/mocks"
)

func newTestServer(t *testing.T, opts ...api.ServerOption) (http.Handler, *dirmocks.MockService, *coordmocks.MockCoordinator) {
	t.Helper()
	ctrl := gomock.NewController(t)
	svc := dirmocks.NewMockService(ctrl)
	coord := coordmocks.NewMockCoordinator(ctrl)
	return api.NewServer(svc, coord, opts...), svc, coord
}

func serve(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)
	rec := serve(t, server, http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestReadinessEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		readinessErr   error
		expectedStatus int
		expectedBody   string
	}{
		{name: "ready", expectedStatus: http.StatusOK, expectedBody: "ready"},
		{name: "store down", readinessErr: fmt.Errorf("connection refused"),
			expectedStatus: http.StatusServiceUnavailable, expectedBody: "connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server, svc, _ := newTestServer(t)
			svc.EXPECT().CheckReadiness(gomock.Any()).Return(tt.readinessErr)

			rec := serve(t, server, http.MethodGet, "/readiness")
			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.expectedBody)
		})
	}
}

func TestVersionEndpoint(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t)
	rec := serve(t, server, http.MethodGet, "/version")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["version"])
	assert.NotEmpty(t, body["go_version"])
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("absent by default", func(t *testing.T) {
		t.Parallel()
		server, _, _ := newTestServer(t)
		assert.Equal(t, http.StatusNotFound, serve(t, server, http.MethodGet, "/metrics").Code)
	})

	t.Run("served when configured", func(t *testing.T) {
		t.Parallel()
		handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("contactdir_contacts_total 3\n"))
		})
		server, _, _ := newTestServer(t, api.WithMetricsHandler(handler))

		rec := serve(t, server, http.MethodGet, "/metrics")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "contactdir_contacts_total")
	})
}

func TestListContacts(t *testing.T) {
	t.Parallel()

	alice := &contacts.ContactRecord{ExternalID: "a", DisplayName: "Alice"}

	tests := []struct {
		name           string
		path           string
		setup          func(*dirmocks.MockService)
		expectedStatus int
		check          func(t *testing.T, rec *httptest.ResponseRecorder)
	}{
		{
			name: "page with cursor",
			path: "/v1/contacts?limit=1&search=ali",
			setup: func(m *dirmocks.MockService) {
				m.EXPECT().ListContacts(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
					Return(&storage.ListResult{Contacts: []*contacts.ContactRecord{alice}, NextCursor: "next"}, nil)
			},
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				t.Helper()
				var body v1.ContactListResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				require.Len(t, body.Contacts, 1)
				assert.Equal(t, "Alice", body.Contacts[0].DisplayName)
				assert.Equal(t, v1.ListMetadata{Count: 1, NextCursor: "next"}, body.Metadata)
			},
		},
		{
			name: "empty directory lists an empty array",
			path: "/v1/contacts",
			setup: func(m *dirmocks.MockService) {
				m.EXPECT().ListContacts(gomock.Any(), gomock.Any(), gomock.Any()).
					Return(&storage.ListResult{}, nil)
			},
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				t.Helper()
				assert.JSONEq(t, `{"contacts":[],"metadata":{"count":0}}`, rec.Body.String())
			},
		},
		{
			name:           "non numeric limit",
			path:           "/v1/contacts?limit=many",
			setup:          func(*dirmocks.MockService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "invalid cursor",
			path: "/v1/contacts?cursor=bogus",
			setup: func(m *dirmocks.MockService) {
				m.EXPECT().ListContacts(gomock.Any(), gomock.Any(), gomock.Any()).
					Return(nil, fmt.Errorf("%w: bad base64", directory.ErrInvalidCursor))
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "store failure",
			path: "/v1/contacts",
			setup: func(m *dirmocks.MockService) {
				m.EXPECT().ListContacts(gomock.Any(), gomock.Any(), gomock.Any()).
					Return(nil, errors.New("failed to list contacts: timeout"))
			},
			expectedStatus: http.StatusInternalServerError,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				t.Helper()
				assert.NotContains(t, rec.Body.String(), "timeout")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server, svc, _ := newTestServer(t)
			tt.setup(svc)

			rec := serve(t, server, http.MethodGet, tt.path)
			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.check != nil {
				tt.check(t, rec)
			}
		})
	}
}

func TestGetContact(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		path           string
		setup          func(*dirmocks.MockService)
		expectedStatus int
	}{
		{
			name: "found",
			path: "/v1/contacts/people%2Fc1",
			setup: func(m *dirmocks.MockService) {
				m.EXPECT().GetContact(gomock.Any(), "people/c1").
					Return(&contacts.ContactRecord{ExternalID: "people/c1", DisplayName: "Alice"}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "not found",
			path: "/v1/contacts/gone",
			setup: func(m *dirmocks.MockService) {
				m.EXPECT().GetContact(gomock.Any(), "gone").
					Return(nil, fmt.Errorf("%w: gone", directory.ErrContactNotFound))
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "whitespace id",
			path:           "/v1/contacts/a%20b",
			setup:          func(*dirmocks.MockService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "store failure",
			path: "/v1/contacts/a",
			setup: func(m *dirmocks.MockService) {
				m.EXPECT().GetContact(gomock.Any(), "a").Return(nil, errors.New("io"))
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server, svc, _ := newTestServer(t)
			tt.setup(svc)
			assert.Equal(t, tt.expectedStatus, serve(t, server, http.MethodGet, tt.path).Code)
		})
	}
}

func TestTriggerSync(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	running := &status.SyncState{Status: status.StatusRunning, AttemptID: "attempt-1", StartedAt: &started}

	tests := []struct {
		name           string
		started        bool
		expectedStatus int
	}{
		{name: "accepted", started: true, expectedStatus: http.StatusAccepted},
		{name: "already running", started: false, expectedStatus: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server, _, coord := newTestServer(t)
			coord.EXPECT().RequestSync(coordinator.TriggerManual).Return(tt.started)
			coord.EXPECT().Status().Return(running)

			rec := serve(t, server, http.MethodPost, "/v1/sync")
			assert.Equal(t, tt.expectedStatus, rec.Code)

			var body v1.SyncResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.started, body.Started)
			assert.Equal(t, "attempt-1", body.State.AttemptID)
		})
	}
}

func TestSyncStatus(t *testing.T) {
	t.Parallel()

	server, _, coord := newTestServer(t)
	last := time.Date(2026, 3, 1, 8, 5, 0, 0, time.UTC)
	coord.EXPECT().Status().Return(&status.SyncState{
		Status:        status.StatusFailed,
		LastSyncAt:    &last,
		LastError:     "fetch page: 503",
		LastErrorKind: "RemoteUnavailable",
		Counters:      status.Counters{RecordsProcessed: 100, RecordsCreated: 3},
	})

	rec := serve(t, server, http.MethodGet, "/v1/sync/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body status.SyncState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, status.StatusFailed, body.Status)
	assert.Equal(t, "RemoteUnavailable", body.LastErrorKind)
	assert.Equal(t, 100, body.RecordsProcessed)
	assert.True(t, last.Equal(*body.LastSyncAt))
}

func TestCORSMiddleware(t *testing.T) {
	t.Parallel()

	server, _, _ := newTestServer(t, api.WithMiddlewares(api.CORSMiddleware([]string{"https://intranet.example.com"})))

	req := httptest.NewRequest(http.MethodOptions, "/v1/sync/status", nil)
	req.Header.Set("Origin", "https://intranet.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.Equal(t, "https://intranet.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
