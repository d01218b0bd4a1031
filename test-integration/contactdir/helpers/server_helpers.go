// Package helpers provides utilities for the contact directory integration tests.
package helpers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/onsi/gomega"

	v1 "github.com/contactdir/contactdir-server/internal/api/v1"
	"github.com/contactdir/contactdir-server/internal/app"
	"github.com/contactdir/contactdir-server/internal/config"
	"github.com/contactdir/contactdir-server/internal/contacts"
	"github.com/contactdir/contactdir-server/internal/status"
)

// ServerTestHelper manages the server lifecycle for testing
type ServerTestHelper struct {
	ctx        context.Context
	configPath string
	baseURL    string
	httpClient *http.Client
	app        *app.DirectoryApp
	done       chan error
}

// NewServerTestHelper creates a helper for the server configured in configPath
func NewServerTestHelper(ctx context.Context, configPath string) *ServerTestHelper {
	return &ServerTestHelper{
		ctx:        ctx,
		configPath: configPath,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// StartServer builds the application and serves it on an ephemeral port
func (s *ServerTestHelper) StartServer() error {
	cfg, err := config.LoadConfig(config.WithConfigPath(s.configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	directoryApp, err := app.NewDirectoryApp(s.ctx, app.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to build app: %w", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		_ = directoryApp.Stop(time.Second)
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.app = directoryApp
	s.baseURL = "http://" + listener.Addr().String()
	s.done = make(chan error, 1)
	go func() {
		s.done <- directoryApp.Serve(listener)
	}()
	return nil
}

// StopServer gracefully stops the server and waits for Serve to return
func (s *ServerTestHelper) StopServer() error {
	if s.app == nil {
		return nil
	}
	if err := s.app.Stop(5 * time.Second); err != nil {
		return err
	}
	select {
	case err := <-s.done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("server did not stop")
	}
}

// WaitForServerReady waits until /readiness answers 200
func (s *ServerTestHelper) WaitForServerReady(timeout time.Duration) {
	gomega.Eventually(func() int {
		resp, err := s.Get("/readiness")
		if err != nil {
			return 0
		}
		_ = resp.Body.Close()
		return resp.StatusCode
	}, timeout, 50*time.Millisecond).Should(gomega.Equal(http.StatusOK))
}

// Get performs a GET request against the server
func (s *ServerTestHelper) Get(path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return s.httpClient.Do(req)
}

// TriggerSync posts a manual sync request and returns the status code
func (s *ServerTestHelper) TriggerSync() int {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.baseURL+"/v1/sync", nil)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	resp, err := s.httpClient.Do(req)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

// GetSyncState fetches /v1/sync/status
func (s *ServerTestHelper) GetSyncState() *status.SyncState {
	var state status.SyncState
	s.getJSON("/v1/sync/status", &state)
	return &state
}

// WaitForSyncStatus polls the sync status until it reaches want
func (s *ServerTestHelper) WaitForSyncStatus(want status.Status, timeout time.Duration) *status.SyncState {
	var state *status.SyncState
	gomega.Eventually(func() status.Status {
		state = s.GetSyncState()
		return state.Status
	}, timeout, 25*time.Millisecond).Should(gomega.Equal(want))
	return state
}

// ListContacts fetches one page of /v1/contacts with the given raw query
func (s *ServerTestHelper) ListContacts(query string) *v1.ContactListResponse {
	var list v1.ContactListResponse
	path := "/v1/contacts"
	if query != "" {
		path += "?" + query
	}
	s.getJSON(path, &list)
	return &list
}

// ListAllContacts follows the cursors of /v1/contacts
func (s *ServerTestHelper) ListAllContacts(limit int) []*contacts.ContactRecord {
	var all []*contacts.ContactRecord
	query := fmt.Sprintf("limit=%d", limit)
	for {
		page := s.ListContacts(query)
		all = append(all, page.Contacts...)
		if page.Metadata.NextCursor == "" {
			return all
		}
		query = fmt.Sprintf("limit=%d&cursor=%s", limit, page.Metadata.NextCursor)
	}
}

func (s *ServerTestHelper) getJSON(path string, out any) {
	resp, err := s.Get(path)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	defer resp.Body.Close()
	gomega.Expect(resp.StatusCode).To(gomega.Equal(http.StatusOK), "GET %s", path)
	gomega.Expect(json.NewDecoder(resp.Body).Decode(out)).To(gomega.Succeed())
}

// WriteConfigYAML writes a config file in dir and returns its path
func WriteConfigYAML(dir, content string) string {
	path := filepath.Join(dir, "config.yaml")
	gomega.Expect(os.WriteFile(path, []byte(content), 0600)).To(gomega.Succeed())
	return path
}

// WriteContactsFile writes records in the file source format and returns the path
func WriteContactsFile(path string, records []contacts.RemoteRecord) string {
	data, err := json.MarshalIndent(map[string]any{"contacts": records}, "", "  ")
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	gomega.Expect(os.WriteFile(path, data, 0600)).To(gomega.Succeed())
	return path
}
