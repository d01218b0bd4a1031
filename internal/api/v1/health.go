package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/contactdir/contactdir-server/internal/api/common"
	"github.com/contactdir/contactdir-server/internal/directory"
	"github.com/contactdir/contactdir-server/internal/versions"
)

// HealthRouter creates a router for health check endpoints
func HealthRouter(svc directory.Service) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(svc))
	r.Get("/version", versionHandler)

	return r
}

// healthHandler handles GET /health
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, map[string]string{"status": "healthy"}, http.StatusOK)
}

// readinessHandler handles GET /readiness. The server is ready once the contact store answers.
func readinessHandler(svc directory.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.CheckReadiness(r.Context()); err != nil {
			common.WriteErrorResponse(w, "directory not ready: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		common.WriteJSONResponse(w, map[string]string{"status": "ready"}, http.StatusOK)
	}
}

// versionHandler handles GET /version
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, versions.Get(), http.StatusOK)
}
