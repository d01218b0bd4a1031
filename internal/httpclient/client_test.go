package httpclient_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contactdir/contactdir-server/internal/httpclient"
	"github.com/contactdir/contactdir-server/internal/versions"
)

// newTestServer creates a test server with keep-alives disabled so parallel
// tests do not share connections
func newTestServer(handler http.Handler) *httptest.Server {
	server := httptest.NewServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	return server
}

type headerTransport struct {
	base  http.RoundTripper
	token string
}

func (h *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+h.token)
	return h.base.RoundTrip(req)
}

func TestDefaultClient_Get(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, versions.UserAgent(), r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		_, _ = w.Write([]byte(`{"contacts":[]}`))
	}))
	defer server.Close()

	body, err := httpclient.NewDefaultClient(0).Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.JSONEq(t, `{"contacts":[]}`, string(body))
}

func TestDefaultClient_Get_HTTPErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statusCode int
		retryAfter string
	}{
		{name: "unauthorized", statusCode: http.StatusUnauthorized},
		{name: "rate limited keeps retry-after", statusCode: http.StatusTooManyRequests, retryAfter: "30"},
		{name: "server error", statusCode: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			_, err := httpclient.NewDefaultClient(time.Second).Get(context.Background(), server.URL)
			require.Error(t, err)

			var httpErr *httpclient.HTTPError
			require.True(t, errors.As(err, &httpErr))
			assert.Equal(t, tt.statusCode, httpErr.StatusCode)
			assert.Equal(t, tt.retryAfter, httpErr.RetryAfter)
			assert.Equal(t, server.URL, httpErr.URL)
		})
	}
}

func TestDefaultClient_Get_WithTransport(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := httpclient.NewDefaultClient(time.Second,
		httpclient.WithTransport(&headerTransport{base: http.DefaultTransport, token: "secret"}))

	body, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestDefaultClient_Get_ContextCancelled(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := httpclient.NewDefaultClient(time.Second).Get(ctx, server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDefaultClient_Get_ContentLengthTooLarge(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "999999999")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, err := httpclient.NewDefaultClient(time.Second).Get(context.Background(), server.URL)
	require.ErrorContains(t, err, "exceeds maximum allowed size")
}

func TestHTTPError_Error(t *testing.T) {
	t.Parallel()

	err := httpclient.NewHTTPError(404, "http://example.com", "Not Found")
	assert.Equal(t, "HTTP 404 for URL http://example.com: Not Found", err.Error())
}
