package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DAMMAK/vault-x/internal/apperr"
	"github.com/DAMMAK/vault-x/internal/models"
)

func TestRegistryRegionLifecycle(t *testing.T) {
	store := newFakeStore()
	svc := NewRegistryService(store, store)
	ctx := context.Background()

	region, err := svc.CreateRegion(ctx, CreateRegionInput{Name: "us-east-1", Location: "Virginia"})
	require.NoError(t, err)
	assert.True(t, region.Active)
	assert.NotEmpty(t, region.ID)

	regions, err := svc.ListRegions(ctx)
	require.NoError(t, err)
	require.Len(t, regions, 1)

	deactivated, err := svc.DeactivateRegion(ctx, region.ID)
	require.NoError(t, err)
	assert.False(t, deactivated.Active)

	regions, err = svc.ListRegions(ctx)
	require.NoError(t, err)
	assert.Empty(t, regions)
}

func TestRegistryCreateNodeRequiresRegion(t *testing.T) {
	store := newFakeStore()
	svc := NewRegistryService(store, store)
	ctx := context.Background()

	_, err := svc.CreateNode(ctx, CreateNodeInput{Name: "node-1", RegionID: "missing", Capacity: 100})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	region, err := svc.CreateRegion(ctx, CreateRegionInput{Name: "us-east-1"})
	require.NoError(t, err)

	node, err := svc.CreateNode(ctx, CreateNodeInput{
		Name: "node-1", Hostname: "node-1.internal", Port: 9000,
		RegionID: region.ID, Capacity: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), node.Available)
	assert.Equal(t, models.NodeOnline, node.Status)
}

func TestRegistrySetNodeStatus(t *testing.T) {
	store := newFakeStore()
	svc := NewRegistryService(store, store)
	ctx := context.Background()

	region, err := svc.CreateRegion(ctx, CreateRegionInput{Name: "us-east-1"})
	require.NoError(t, err)
	node, err := svc.CreateNode(ctx, CreateNodeInput{Name: "node-1", RegionID: region.ID, Capacity: 100})
	require.NoError(t, err)

	updated, err := svc.SetNodeStatus(ctx, node.ID, models.NodeOffline)
	require.NoError(t, err)
	assert.Equal(t, models.NodeOffline, updated.Status)

	online, err := svc.ListOnlineNodes(ctx, region.ID)
	require.NoError(t, err)
	assert.Empty(t, online)
}
