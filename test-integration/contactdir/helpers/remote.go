package helpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/contactdir/contactdir-server/internal/contacts"
)

// FakeRemote is a paginated contacts provider. Cursors are record offsets.
type FakeRemote struct {
	server *httptest.Server

	mu          sync.Mutex
	records     []contacts.RemoteRecord
	failAtPage  int
	failStatus  int
	unauthorize bool
	requests    int
	hold        chan struct{}
}

// NewFakeRemote starts a fake provider serving records
func NewFakeRemote(records []contacts.RemoteRecord) *FakeRemote {
	r := &FakeRemote{records: records}
	r.server = httptest.NewServer(http.HandlerFunc(r.handle))
	return r
}

// URL returns the provider base URL
func (r *FakeRemote) URL() string {
	return r.server.URL
}

// Close stops the provider
func (r *FakeRemote) Close() {
	r.Release()
	r.server.Close()
}

// SetRecords replaces the full remote listing
func (r *FakeRemote) SetRecords(records []contacts.RemoteRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = records
}

// FailPage makes the given 1-based page answer with statusCode.
// A page of 0 disables the failure.
func (r *FakeRemote) FailPage(page, statusCode int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failAtPage = page
	r.failStatus = statusCode
}

// RejectCredentials makes every request answer 401
func (r *FakeRemote) RejectCredentials(reject bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unauthorize = reject
}

// Hold blocks every request until Release is called
func (r *FakeRemote) Hold() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hold == nil {
		r.hold = make(chan struct{})
	}
}

// Release unblocks held requests
func (r *FakeRemote) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hold != nil {
		close(r.hold)
		r.hold = nil
	}
}

// Requests returns how many page requests were served
func (r *FakeRemote) Requests() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests
}

func (r *FakeRemote) handle(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	hold := r.hold
	r.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-req.Context().Done():
			return
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests++

	if r.unauthorize {
		http.Error(w, "token expired", http.StatusUnauthorized)
		return
	}

	limit, err := strconv.Atoi(req.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}
	offset := 0
	if cursor := req.URL.Query().Get("cursor"); cursor != "" {
		if offset, err = strconv.Atoi(cursor); err != nil {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
	}

	if r.failAtPage > 0 && offset/limit+1 == r.failAtPage {
		http.Error(w, "provider failure", r.failStatus)
		return
	}

	end := min(offset+limit, len(r.records))
	page := map[string]any{"contacts": r.records[min(offset, end):end]}
	if end < len(r.records) {
		page["next_cursor"] = strconv.Itoa(end)
	} else {
		page["next_cursor"] = nil
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(page)
}
