package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/contactdir/contactdir-server/internal/app/storage/mocks"
	"github.com/contactdir/contactdir-server/internal/config"
)

func TestBaseConfigDefaults(t *testing.T) {
	t.Parallel()

	built, err := baseConfig(WithConfig(&config.Config{}))
	require.NoError(t, err)
	assert.Equal(t, defaultHTTPAddress, built.address)
	assert.Equal(t, defaultRequestTimeout, built.requestTimeout)
	assert.Nil(t, built.middlewares)
}

func TestWithAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{name: "port only", address: ":9090"},
		{name: "ephemeral port", address: ":0"},
		{name: "localhost", address: "localhost:8080"},
		{name: "ipv4", address: "127.0.0.1:8080"},
		{name: "ipv6", address: "[::1]:8080"},
		{name: "empty", address: "", wantErr: true},
		{name: "missing port", address: ":", wantErr: true},
		{name: "no separator", address: "8080", wantErr: true},
		{name: "invalid port", address: ":http-alt-nope", wantErr: true},
		{name: "hostname", address: "example.com:80", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			built, err := baseConfig(WithAddress(tt.address))
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, built)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.address, built.address)
		})
	}
}

func TestNewDirectoryApp_NilConfig(t *testing.T) {
	t.Parallel()

	_, err := NewDirectoryApp(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config cannot be nil")
}

func TestNewDirectoryApp_StoreFailureCleansUp(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	factory := mocks.NewMockFactory(ctrl)
	factory.EXPECT().CreateStore(gomock.Any()).Return(nil, errors.New("disk full"))
	factory.EXPECT().Cleanup()

	_, err := NewDirectoryApp(context.Background(),
		WithConfig(testConfig(t, "")),
		WithStorageFactory(factory),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestNewDirectoryApp_InvalidSourceCleansUp(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "")
	cfg.Source = config.SourceConfig{Type: "ldap"}

	_, err := NewDirectoryApp(context.Background(), WithConfig(cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported source type: ldap")

	// The data directory lock was released
	app, err := NewDirectoryApp(context.Background(), WithConfig(testConfig(t, cfg.Storage.DataDir)))
	require.NoError(t, err)
	require.NoError(t, app.Stop(time.Second))
}
