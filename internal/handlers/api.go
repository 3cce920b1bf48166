// Package handlers exposes the coordinator's HTTP API: the file upload
// lifecycle, signed downloads, replication policies and the region/node
// registry. Every request carries the caller's ID in the X-Owner-ID
// header; the download endpoint authenticates by signed token instead.
package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/DAMMAK/vault-x/internal/service"
)

var tracer = otel.Tracer("vaultx-handlers")

const ownerHeader = "X-Owner-ID"

// API bundles the handlers and their service dependencies.
type API struct {
	files       *service.FileService
	replication *service.ReplicationService
	registry    *service.RegistryService
	signer      *service.Signer
}

// NewAPI creates the HTTP API over the service layer.
func NewAPI(
	files *service.FileService,
	replication *service.ReplicationService,
	registry *service.RegistryService,
	signer *service.Signer,
) *API {
	return &API{
		files:       files,
		replication: replication,
		registry:    registry,
		signer:      signer,
	}
}

// Router builds the mux router with all routes registered.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)

	r.Handle("/files", a.owned(a.handleCreateFile)).Methods(http.MethodPost)
	r.Handle("/files", a.owned(a.handleListFiles)).Methods(http.MethodGet)
	r.Handle("/files/{id}", a.owned(a.handleGetFile)).Methods(http.MethodGet)
	r.Handle("/files/{id}", a.owned(a.handleUpdateFile)).Methods(http.MethodPatch)
	r.Handle("/files/{id}", a.owned(a.handleDeleteFile)).Methods(http.MethodDelete)
	r.Handle("/files/{id}/chunks/{index}", a.owned(a.handleUploadChunk)).Methods(http.MethodPut)
	r.Handle("/files/{id}/signed-url", a.owned(a.handleSignedURL)).Methods(http.MethodPost)
	r.Handle("/files/{id}/replication", a.owned(a.handleCreatePolicy)).Methods(http.MethodPost)
	r.Handle("/files/{id}/replication", a.owned(a.handleReplicationStatus)).Methods(http.MethodGet)

	r.HandleFunc("/download", a.handleDownload).Methods(http.MethodGet)

	r.Handle("/regions", a.owned(a.handleCreateRegion)).Methods(http.MethodPost)
	r.Handle("/regions", a.owned(a.handleListRegions)).Methods(http.MethodGet)
	r.Handle("/regions/{id}", a.owned(a.handleGetRegion)).Methods(http.MethodGet)
	r.Handle("/regions/{id}", a.owned(a.handleDeactivateRegion)).Methods(http.MethodDelete)
	r.Handle("/regions/{id}/nodes", a.owned(a.handleListNodes)).Methods(http.MethodGet)
	r.Handle("/nodes", a.owned(a.handleCreateNode)).Methods(http.MethodPost)
	r.Handle("/nodes/{id}", a.owned(a.handleGetNode)).Methods(http.MethodGet)
	r.Handle("/nodes/{id}/status", a.owned(a.handleSetNodeStatus)).Methods(http.MethodPatch)

	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "http-request")
	})

	return r
}

// ownedHandler is a handler that requires an authenticated owner.
type ownedHandler func(w http.ResponseWriter, r *http.Request, ownerID string)

// owned enforces the X-Owner-ID header before dispatching.
func (a *API) owned(h ownedHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.Header.Get(ownerHeader)
		if ownerID == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing " + ownerHeader + " header"})
			return
		}
		h(w, r, ownerID)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
