// Package v1 provides the REST handlers of the contact directory API.
package v1

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/contactdir/contactdir-server/internal/api/common"
	"github.com/contactdir/contactdir-server/internal/contacts"
	"github.com/contactdir/contactdir-server/internal/directory"
	"github.com/contactdir/contactdir-server/internal/status"
	"github.com/contactdir/contactdir-server/internal/sync/coordinator"
)

// ListMetadata describes a page of contacts
type ListMetadata struct {
	Count      int    `json:"count"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// ContactListResponse is the body of GET /v1/contacts
type ContactListResponse struct {
	Contacts []*contacts.ContactRecord `json:"contacts"`
	Metadata ListMetadata              `json:"metadata"`
}

// SyncResponse is the body of POST /v1/sync
type SyncResponse struct {
	Started bool              `json:"started"`
	State   *status.SyncState `json:"state"`
}

// Routes holds the dependencies of the v1 handlers
type Routes struct {
	service     directory.Service
	coordinator coordinator.Coordinator
}

// NewRoutes creates the v1 routes
func NewRoutes(svc directory.Service, coord coordinator.Coordinator) *Routes {
	return &Routes{service: svc, coordinator: coord}
}

// Router creates the router of the v1 API
func Router(svc directory.Service, coord coordinator.Coordinator) http.Handler {
	routes := NewRoutes(svc, coord)

	r := chi.NewRouter()
	r.Get("/contacts", routes.listContacts)
	r.Get("/contacts/{externalId}", routes.getContact)
	r.Post("/sync", routes.triggerSync)
	r.Get("/sync/status", routes.syncStatus)

	return r
}

// listContacts handles GET /v1/contacts?limit=&cursor=&search=
func (rr *Routes) listContacts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	opts := []directory.Option{
		directory.WithCursor(query.Get("cursor")),
		directory.WithSearch(query.Get("search")),
	}
	limit, ok, err := common.QueryInt(r, "limit")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if ok {
		opts = append(opts, directory.WithLimit(limit))
	}

	result, err := rr.service.ListContacts(r.Context(), opts...)
	if err != nil {
		if errors.Is(err, directory.ErrInvalidCursor) || errors.Is(err, directory.ErrInvalidOption) {
			common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("Failed to list contacts", "error", err)
		common.WriteErrorResponse(w, "Failed to list contacts", http.StatusInternalServerError)
		return
	}

	list := result.Contacts
	if list == nil {
		list = []*contacts.ContactRecord{}
	}
	common.WriteJSONResponse(w, ContactListResponse{
		Contacts: list,
		Metadata: ListMetadata{Count: len(list), NextCursor: result.NextCursor},
	}, http.StatusOK)
}

// getContact handles GET /v1/contacts/{externalId}
func (rr *Routes) getContact(w http.ResponseWriter, r *http.Request) {
	externalID, err := common.GetAndValidateURLParam(r, "externalId")
	if err != nil {
		common.WriteErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	record, err := rr.service.GetContact(r.Context(), externalID)
	switch {
	case errors.Is(err, directory.ErrContactNotFound):
		common.WriteErrorResponse(w, "Contact not found", http.StatusNotFound)
		return
	case err != nil:
		slog.Error("Failed to get contact", "external_id", externalID, "error", err)
		common.WriteErrorResponse(w, "Failed to get contact", http.StatusInternalServerError)
		return
	}

	common.WriteJSONResponse(w, record, http.StatusOK)
}

// triggerSync handles POST /v1/sync. It never waits for the sync: 202 when
// an attempt was started, 409 when one is already running.
func (rr *Routes) triggerSync(w http.ResponseWriter, _ *http.Request) {
	started := rr.coordinator.RequestSync(coordinator.TriggerManual)

	code := http.StatusAccepted
	if !started {
		code = http.StatusConflict
	}
	common.WriteJSONResponse(w, SyncResponse{Started: started, State: rr.coordinator.Status()}, code)
}

// syncStatus handles GET /v1/sync/status
func (rr *Routes) syncStatus(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, rr.coordinator.Status(), http.StatusOK)
}
