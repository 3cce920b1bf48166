package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/DAMMAK/vault-x/internal/models"
)

// RegistryService administers regions and storage nodes.
type RegistryService struct {
	regions RegionStore
	nodes   NodeStore
}

// NewRegistryService creates the storage registry.
func NewRegistryService(regions RegionStore, nodes NodeStore) *RegistryService {
	return &RegistryService{regions: regions, nodes: nodes}
}

// CreateRegionInput carries new-region parameters.
type CreateRegionInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

// CreateRegion registers a new region. Regions always start active.
func (rs *RegistryService) CreateRegion(ctx context.Context, input CreateRegionInput) (*models.Region, error) {
	ctx, span := tracer.Start(ctx, "registry.create_region",
		trace.WithAttributes(attribute.String("region_name", input.Name)),
	)
	defer span.End()

	now := time.Now().UTC()
	region := &models.Region{
		ID:          uuid.New().String(),
		Name:        input.Name,
		Description: input.Description,
		Location:    input.Location,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := rs.regions.CreateRegion(ctx, region); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return region, nil
}

// ListRegions returns the active regions.
func (rs *RegistryService) ListRegions(ctx context.Context) ([]*models.Region, error) {
	return rs.regions.ListActiveRegions(ctx)
}

// GetRegion returns one region, active or not.
func (rs *RegistryService) GetRegion(ctx context.Context, regionID string) (*models.Region, error) {
	return rs.regions.GetRegion(ctx, regionID)
}

// DeactivateRegion soft-deletes a region: it is excluded from future
// placement but remains addressable for files already replicated there.
func (rs *RegistryService) DeactivateRegion(ctx context.Context, regionID string) (*models.Region, error) {
	if err := rs.regions.DeactivateRegion(ctx, regionID); err != nil {
		return nil, err
	}
	return rs.regions.GetRegion(ctx, regionID)
}

// CreateNodeInput carries new-node parameters.
type CreateNodeInput struct {
	Name     string `json:"name"`
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`
	RegionID string `json:"region_id"`
	Capacity int64  `json:"capacity"`
}

// CreateNode registers a storage node in an existing region. New nodes
// start online with their full capacity available.
func (rs *RegistryService) CreateNode(ctx context.Context, input CreateNodeInput) (*models.StorageNode, error) {
	ctx, span := tracer.Start(ctx, "registry.create_node",
		trace.WithAttributes(
			attribute.String("node_name", input.Name),
			attribute.String("region_id", input.RegionID),
		),
	)
	defer span.End()

	if _, err := rs.regions.GetRegion(ctx, input.RegionID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	node := &models.StorageNode{
		ID:        uuid.New().String(),
		Name:      input.Name,
		Hostname:  input.Hostname,
		Port:      input.Port,
		RegionID:  input.RegionID,
		Capacity:  input.Capacity,
		Available: input.Capacity,
		Status:    models.NodeOnline,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := rs.nodes.CreateStorageNode(ctx, node); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return node, nil
}

// GetNode returns one storage node.
func (rs *RegistryService) GetNode(ctx context.Context, nodeID string) (*models.StorageNode, error) {
	return rs.nodes.GetStorageNode(ctx, nodeID)
}

// ListOnlineNodes returns the online nodes of a region in creation order.
func (rs *RegistryService) ListOnlineNodes(ctx context.Context, regionID string) ([]*models.StorageNode, error) {
	return rs.nodes.ListOnlineNodes(ctx, regionID)
}

// SetNodeStatus marks a node online or offline.
func (rs *RegistryService) SetNodeStatus(ctx context.Context, nodeID string, status models.NodeStatus) (*models.StorageNode, error) {
	if err := rs.nodes.UpdateNodeStatus(ctx, nodeID, status); err != nil {
		return nil, err
	}
	return rs.nodes.GetStorageNode(ctx, nodeID)
}
