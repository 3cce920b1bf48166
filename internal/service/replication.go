package service

import (
	"context"
	"fmt"
	"log"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/DAMMAK/vault-x/internal/apperr"
	"github.com/DAMMAK/vault-x/internal/models"
	"github.com/DAMMAK/vault-x/internal/queue"
	"github.com/DAMMAK/vault-x/internal/storage"
)

// ReplicationService copies complete files into additional regions with
// capacity-aware node placement.
type ReplicationService struct {
	files   FileStore
	regions RegionStore
	nodes   NodeStore
	blobs   BlobStore
	cache   Cache
	queue   Enqueuer
	leases  Leaser
}

// NewReplicationService creates the replication engine.
func NewReplicationService(
	files FileStore,
	regions RegionStore,
	nodes NodeStore,
	blobs BlobStore,
	cache Cache,
	enqueuer Enqueuer,
	leases Leaser,
) *ReplicationService {
	return &ReplicationService{
		files:   files,
		regions: regions,
		nodes:   nodes,
		blobs:   blobs,
		cache:   cache,
		queue:   enqueuer,
		leases:  leases,
	}
}

// PolicyResult is the outcome of creating a replication policy.
type PolicyResult struct {
	FileID  string                   `json:"file_id"`
	Regions []string                 `json:"regions"`
	Status  models.ReplicationStatus `json:"status"`
}

// StatusResult summarizes the file's replication progress.
type StatusResult struct {
	FileID         string                   `json:"file_id"`
	Regions        []string                 `json:"regions"`
	ReplicatedTo   []string                 `json:"replicated_to"`
	PendingRegions []string                 `json:"pending_regions"`
	Status         models.ReplicationStatus `json:"status"`
}

// CreatePolicy assigns target regions to a file and queues a replication
// job for the regions not yet assigned or replicated. Repeating the same
// policy is idempotent: the second call finds no new regions and enqueues
// nothing. The read-merge-save of the file's region set runs under the
// per-file lease, the same lease the pipeline workers hold, so a policy
// write never interleaves with a replication job's replicatedTo update.
func (rs *ReplicationService) CreatePolicy(ctx context.Context, fileID string, targetRegions []string, ownerID string) (*PolicyResult, error) {
	ctx, span := tracer.Start(ctx, "replication.create_policy",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
			attribute.StringSlice("target_regions", targetRegions),
		),
	)
	defer span.End()

	for _, regionID := range targetRegions {
		region, err := rs.regions.GetRegion(ctx, regionID)
		if err != nil {
			return nil, err
		}
		if !region.Active {
			return nil, apperr.InvalidStatef("region %s is not active", regionID)
		}
	}

	acquired, err := rs.leases.AcquireFileLease(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, fmt.Errorf("file %s: %w", fileID, apperr.ErrBusy)
	}
	defer func() {
		if err := rs.leases.ReleaseFileLease(ctx, fileID); err != nil {
			log.Printf("Warning: failed to release lease for file %s: %v", fileID, err)
		}
	}()

	file, err := rs.files.GetFileForOwner(ctx, fileID, ownerID)
	if err != nil {
		return nil, err
	}

	newRegions := subtract(subtract(targetRegions, file.Regions), file.ReplicatedTo)

	file.Regions = union(file.Regions, targetRegions)
	if err := rs.files.SaveFile(ctx, file); err != nil {
		return nil, err
	}
	rs.invalidate(ctx, fileID)

	status := models.ReplicationCompleted
	if len(newRegions) > 0 {
		status = models.ReplicationPending
		job := ReplicationJob{
			FileID:        fileID,
			OwnerID:       ownerID,
			SourceRegion:  file.Regions[0],
			TargetRegions: newRegions,
		}
		log.Printf("Queueing replication of file %s to regions %v", fileID, newRegions)
		if err := rs.queue.Enqueue(ctx, queue.ReplicationQueue, job); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	span.SetAttributes(attribute.Int("new_regions", len(newRegions)))
	return &PolicyResult{
		FileID:  fileID,
		Regions: file.Regions,
		Status:  status,
	}, nil
}

// ProcessJob replicates a file into each target region. Regions already in
// replicatedTo are skipped, so a retried job only redoes the regions that
// failed. A region with no qualifying node fails the whole job and the
// queue's retry policy takes over.
func (rs *ReplicationService) ProcessJob(ctx context.Context, job ReplicationJob) error {
	ctx, span := tracer.Start(ctx, "replication.process_job",
		trace.WithAttributes(
			attribute.String("file_id", job.FileID),
			attribute.StringSlice("target_regions", job.TargetRegions),
		),
	)
	defer span.End()

	file, err := rs.files.GetFileForOwner(ctx, job.FileID, job.OwnerID)
	if err != nil {
		return err
	}

	chunks, err := rs.files.GetChunks(ctx, job.FileID)
	if err != nil {
		return err
	}

	for _, regionID := range job.TargetRegions {
		if contains(file.ReplicatedTo, regionID) {
			continue
		}

		node, err := rs.selectNode(ctx, regionID, file.Size)
		if err != nil {
			span.RecordError(err)
			return err
		}

		// The reservation comes first so a copy that dies partway through
		// never leaves untracked replicas on the node; the reserved bytes
		// are handed back before the job fails into the retry policy.
		if err := rs.nodes.ReserveNodeCapacity(ctx, node.ID, file.Size); err != nil {
			return err
		}

		log.Printf("Replicating file %s (%d chunks) to node %s in region %s",
			file.ID, len(chunks), node.ID, regionID)
		if err := rs.copyChunks(ctx, node.ID, chunks); err != nil {
			rs.discardReplica(ctx, node.ID, chunks)
			if relErr := rs.nodes.ReleaseNodeCapacity(ctx, node.ID, file.Size); relErr != nil {
				log.Printf("Warning: failed to release %d bytes on node %s: %v", file.Size, node.ID, relErr)
			}
			return err
		}

		file.ReplicatedTo = union(file.ReplicatedTo, []string{regionID})
		if err := rs.files.SaveFile(ctx, file); err != nil {
			return err
		}
		rs.invalidate(ctx, file.ID)
		log.Printf("File %s successfully replicated to region %s", file.ID, regionID)
	}
	return nil
}

// copyChunks writes every chunk's bytes under the node's replica prefix.
func (rs *ReplicationService) copyChunks(ctx context.Context, nodeID string, chunks []*models.Chunk) error {
	for _, chunk := range chunks {
		data, err := rs.blobs.Get(ctx, storage.ChunkKey(chunk.ChunkID))
		if err != nil {
			return fmt.Errorf("chunk %d bytes unavailable: %w", chunk.Index, apperr.ErrMissingData)
		}
		if err := rs.blobs.Put(ctx, storage.NodeChunkKey(nodeID, chunk.ChunkID), data); err != nil {
			return fmt.Errorf("failed to copy chunk %d to node %s: %w", chunk.Index, nodeID, err)
		}
	}
	return nil
}

// discardReplica removes whatever part of a replica made it onto the node
// before a copy failed. Best effort; a missing object is not an error.
func (rs *ReplicationService) discardReplica(ctx context.Context, nodeID string, chunks []*models.Chunk) {
	for _, chunk := range chunks {
		if err := rs.blobs.Delete(ctx, storage.NodeChunkKey(nodeID, chunk.ChunkID)); err != nil {
			log.Printf("Warning: failed to discard replica chunk %s on node %s: %v", chunk.ChunkID, nodeID, err)
		}
	}
}

// selectNode picks the first online node in the region with room for the
// whole file. First-fit over the stable creation order keeps placement
// deterministic; it makes no attempt at best-fit packing.
func (rs *ReplicationService) selectNode(ctx context.Context, regionID string, size int64) (*models.StorageNode, error) {
	nodes, err := rs.nodes.ListOnlineNodes(ctx, regionID)
	if err != nil {
		return nil, err
	}
	for _, node := range nodes {
		if node.Available >= size {
			return node, nil
		}
	}
	return nil, fmt.Errorf("region %s has no node with %d bytes free: %w",
		regionID, size, apperr.ErrCapacityExhausted)
}

// Status reports which regions still await a copy of the file.
func (rs *ReplicationService) Status(ctx context.Context, fileID, ownerID string) (*StatusResult, error) {
	file, err := rs.files.GetFileForOwner(ctx, fileID, ownerID)
	if err != nil {
		return nil, err
	}

	pending := subtract(file.Regions, file.ReplicatedTo)
	status := models.ReplicationCompleted
	if len(pending) > 0 {
		status = models.ReplicationInProgress
	}

	return &StatusResult{
		FileID:         fileID,
		Regions:        file.Regions,
		ReplicatedTo:   file.ReplicatedTo,
		PendingRegions: pending,
		Status:         status,
	}, nil
}

func (rs *ReplicationService) invalidate(ctx context.Context, fileID string) {
	if err := rs.cache.InvalidateFileMetadata(ctx, fileID); err != nil {
		log.Printf("Warning: failed to invalidate cache for file %s: %v", fileID, err)
	}
}

// Set helpers over string slices. Order of the receiver is preserved.

func contains(set []string, value string) bool {
	for _, v := range set {
		if v == value {
			return true
		}
	}
	return false
}

func union(set, add []string) []string {
	out := append([]string{}, set...)
	for _, v := range add {
		if !contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func subtract(set, remove []string) []string {
	out := []string{}
	for _, v := range set {
		if !contains(remove, v) {
			out = append(out, v)
		}
	}
	return out
}
