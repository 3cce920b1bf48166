package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"

	"github.com/DAMMAK/vault-x/internal/models"
	"github.com/DAMMAK/vault-x/internal/service"
)

func (a *API) handleCreateRegion(w http.ResponseWriter, r *http.Request, ownerID string) {
	ctx, span := tracer.Start(r.Context(), "create_region")
	defer span.End()

	var input service.CreateRegionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if input.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "region name is required"})
		return
	}

	span.SetAttributes(attribute.String("region_name", input.Name))

	region, err := a.registry.CreateRegion(ctx, input)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}

	log.Printf("Region created: %s (ID: %s)", region.Name, region.ID)
	writeJSON(w, http.StatusCreated, region)
}

func (a *API) handleListRegions(w http.ResponseWriter, r *http.Request, ownerID string) {
	ctx, span := tracer.Start(r.Context(), "list_regions")
	defer span.End()

	regions, err := a.registry.ListRegions(ctx)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, regions)
}

func (a *API) handleGetRegion(w http.ResponseWriter, r *http.Request, ownerID string) {
	ctx, span := tracer.Start(r.Context(), "get_region")
	defer span.End()

	region, err := a.registry.GetRegion(ctx, mux.Vars(r)["id"])
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, region)
}

// handleDeactivateRegion handles DELETE /regions/{id}. Deactivation is
// soft: existing placements stay, new placements skip the region.
func (a *API) handleDeactivateRegion(w http.ResponseWriter, r *http.Request, ownerID string) {
	ctx, span := tracer.Start(r.Context(), "deactivate_region")
	defer span.End()

	regionID := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("region_id", regionID))

	region, err := a.registry.DeactivateRegion(ctx, regionID)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}

	log.Printf("Region deactivated: %s", region.Name)
	writeJSON(w, http.StatusOK, region)
}

func (a *API) handleCreateNode(w http.ResponseWriter, r *http.Request, ownerID string) {
	ctx, span := tracer.Start(r.Context(), "create_storage_node")
	defer span.End()

	var input service.CreateNodeInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if input.Name == "" || input.RegionID == "" || input.Capacity <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "name, region_id and a positive capacity are required"})
		return
	}

	span.SetAttributes(
		attribute.String("node_name", input.Name),
		attribute.String("region_id", input.RegionID),
	)

	node, err := a.registry.CreateNode(ctx, input)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}

	log.Printf("Storage node created: %s in region %s", node.Name, node.RegionID)
	writeJSON(w, http.StatusCreated, node)
}

func (a *API) handleGetNode(w http.ResponseWriter, r *http.Request, ownerID string) {
	ctx, span := tracer.Start(r.Context(), "get_storage_node")
	defer span.End()

	node, err := a.registry.GetNode(ctx, mux.Vars(r)["id"])
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (a *API) handleListNodes(w http.ResponseWriter, r *http.Request, ownerID string) {
	ctx, span := tracer.Start(r.Context(), "list_region_nodes")
	defer span.End()

	regionID := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("region_id", regionID))

	nodes, err := a.registry.ListOnlineNodes(ctx, regionID)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (a *API) handleSetNodeStatus(w http.ResponseWriter, r *http.Request, ownerID string) {
	ctx, span := tracer.Start(r.Context(), "set_node_status")
	defer span.End()

	nodeID := mux.Vars(r)["id"]

	var input struct {
		Status models.NodeStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if input.Status != models.NodeOnline && input.Status != models.NodeOffline {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "status must be 'online' or 'offline'"})
		return
	}

	span.SetAttributes(
		attribute.String("node_id", nodeID),
		attribute.String("status", string(input.Status)),
	)

	node, err := a.registry.SetNodeStatus(ctx, nodeID, input.Status)
	if err != nil {
		span.RecordError(err)
		writeError(w, err)
		return
	}

	log.Printf("Storage node %s marked %s", nodeID, input.Status)
	writeJSON(w, http.StatusOK, node)
}
