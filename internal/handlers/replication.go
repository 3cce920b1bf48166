package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
)

// handleCreatePolicy handles POST /files/{id}/replication with a list of
// target region IDs. Repeating the same policy is a no-op.
func (a *API) handleCreatePolicy(w http.ResponseWriter, r *http.Request, ownerID string) {
	ctx, span := tracer.Start(r.Context(), "create_replication_policy")
	defer span.End()

	fileID := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("file_id", fileID))

	var input struct {
		Regions []string `json:"regions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if len(input.Regions) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "at least one target region is required"})
		return
	}

	span.SetAttributes(attribute.StringSlice("target_regions", input.Regions))

	result, err := a.replication.CreatePolicy(ctx, fileID, input.Regions, ownerID)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}

	log.Printf("Replication policy set for file %s: %v", fileID, result.Regions)
	writeJSON(w, http.StatusAccepted, result)
}

func (a *API) handleReplicationStatus(w http.ResponseWriter, r *http.Request, ownerID string) {
	ctx, span := tracer.Start(r.Context(), "replication_status")
	defer span.End()

	fileID := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("file_id", fileID))

	status, err := a.replication.Status(ctx, fileID, ownerID)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
