package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/DAMMAK/vault-x/internal/apperr"
	"github.com/DAMMAK/vault-x/internal/models"
)

// Region and storage-node records, the content-hash index and the orphan
// chunk ledger live here. Nodes are administrator-managed and long-lived;
// the only hot mutation is the capacity reservation.

// CreateRegion persists a new region.
func (ms *MySQLStore) CreateRegion(ctx context.Context, region *models.Region) error {
	ctx, span := tracer.Start(ctx, "mysql.create_region",
		trace.WithAttributes(
			attribute.String("region_id", region.ID),
			attribute.String("region_name", region.Name),
		),
	)
	defer span.End()

	_, err := ms.db.ExecContext(ctx,
		`INSERT INTO regions (id, name, description, location, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		region.ID, region.Name, region.Description, region.Location, region.Active,
		region.CreatedAt, region.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert region: %w", err)
	}
	return nil
}

// GetRegion retrieves a region by ID regardless of active flag, so regions
// already holding replicas stay addressable after deactivation.
func (ms *MySQLStore) GetRegion(ctx context.Context, regionID string) (*models.Region, error) {
	ctx, span := tracer.Start(ctx, "mysql.get_region",
		trace.WithAttributes(attribute.String("region_id", regionID)),
	)
	defer span.End()

	var region models.Region
	err := ms.db.QueryRowContext(ctx,
		`SELECT id, name, description, location, active, created_at, updated_at
		 FROM regions WHERE id = ?`, regionID).
		Scan(&region.ID, &region.Name, &region.Description, &region.Location,
			&region.Active, &region.CreatedAt, &region.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("region %s", regionID)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query region: %w", err)
	}
	return &region, nil
}

// GetRegionByName retrieves an active region by name.
func (ms *MySQLStore) GetRegionByName(ctx context.Context, name string) (*models.Region, error) {
	ctx, span := tracer.Start(ctx, "mysql.get_region_by_name",
		trace.WithAttributes(attribute.String("region_name", name)),
	)
	defer span.End()

	var region models.Region
	err := ms.db.QueryRowContext(ctx,
		`SELECT id, name, description, location, active, created_at, updated_at
		 FROM regions WHERE name = ? AND active = TRUE`, name).
		Scan(&region.ID, &region.Name, &region.Description, &region.Location,
			&region.Active, &region.CreatedAt, &region.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("region %s", name)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query region: %w", err)
	}
	return &region, nil
}

// ListActiveRegions returns active regions in creation order.
func (ms *MySQLStore) ListActiveRegions(ctx context.Context) ([]*models.Region, error) {
	ctx, span := tracer.Start(ctx, "mysql.list_active_regions")
	defer span.End()

	rows, err := ms.db.QueryContext(ctx,
		`SELECT id, name, description, location, active, created_at, updated_at
		 FROM regions WHERE active = TRUE ORDER BY created_at ASC, id ASC`)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query regions: %w", err)
	}
	defer rows.Close()

	var regions []*models.Region
	for rows.Next() {
		var region models.Region
		if err := rows.Scan(&region.ID, &region.Name, &region.Description, &region.Location,
			&region.Active, &region.CreatedAt, &region.UpdatedAt); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan region: %w", err)
		}
		regions = append(regions, &region)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating regions: %w", err)
	}

	span.SetAttributes(attribute.Int("region_count", len(regions)))
	return regions, nil
}

// DeactivateRegion soft-deletes a region. The row is never removed.
func (ms *MySQLStore) DeactivateRegion(ctx context.Context, regionID string) error {
	ctx, span := tracer.Start(ctx, "mysql.deactivate_region",
		trace.WithAttributes(attribute.String("region_id", regionID)),
	)
	defer span.End()

	res, err := ms.db.ExecContext(ctx,
		`UPDATE regions SET active = FALSE, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), regionID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to deactivate region: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperr.NotFoundf("region %s", regionID)
	}
	return nil
}

// CreateStorageNode persists a new node.
func (ms *MySQLStore) CreateStorageNode(ctx context.Context, node *models.StorageNode) error {
	ctx, span := tracer.Start(ctx, "mysql.create_storage_node",
		trace.WithAttributes(
			attribute.String("node_id", node.ID),
			attribute.String("region_id", node.RegionID),
			attribute.Int64("capacity", node.Capacity),
		),
	)
	defer span.End()

	_, err := ms.db.ExecContext(ctx,
		`INSERT INTO storage_nodes (id, name, hostname, port, region_id, capacity, available, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		node.ID, node.Name, node.Hostname, node.Port, node.RegionID,
		node.Capacity, node.Available, node.Status, node.CreatedAt, node.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert storage node: %w", err)
	}
	return nil
}

// GetStorageNode retrieves a node by ID.
func (ms *MySQLStore) GetStorageNode(ctx context.Context, nodeID string) (*models.StorageNode, error) {
	ctx, span := tracer.Start(ctx, "mysql.get_storage_node",
		trace.WithAttributes(attribute.String("node_id", nodeID)),
	)
	defer span.End()

	var node models.StorageNode
	err := ms.db.QueryRowContext(ctx,
		`SELECT id, name, hostname, port, region_id, capacity, available, status, created_at, updated_at
		 FROM storage_nodes WHERE id = ?`, nodeID).
		Scan(&node.ID, &node.Name, &node.Hostname, &node.Port, &node.RegionID,
			&node.Capacity, &node.Available, &node.Status, &node.CreatedAt, &node.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("storage node %s", nodeID)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query storage node: %w", err)
	}
	return &node, nil
}

// ListOnlineNodes returns online nodes of a region in stable creation order,
// which keeps first-fit placement deterministic.
func (ms *MySQLStore) ListOnlineNodes(ctx context.Context, regionID string) ([]*models.StorageNode, error) {
	ctx, span := tracer.Start(ctx, "mysql.list_online_nodes",
		trace.WithAttributes(attribute.String("region_id", regionID)),
	)
	defer span.End()

	rows, err := ms.db.QueryContext(ctx,
		`SELECT id, name, hostname, port, region_id, capacity, available, status, created_at, updated_at
		 FROM storage_nodes WHERE region_id = ? AND status = ? ORDER BY created_at ASC, id ASC`,
		regionID, models.NodeOnline)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query storage nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*models.StorageNode
	for rows.Next() {
		var node models.StorageNode
		if err := rows.Scan(&node.ID, &node.Name, &node.Hostname, &node.Port, &node.RegionID,
			&node.Capacity, &node.Available, &node.Status, &node.CreatedAt, &node.UpdatedAt); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan storage node: %w", err)
		}
		nodes = append(nodes, &node)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating storage nodes: %w", err)
	}

	span.SetAttributes(attribute.Int("node_count", len(nodes)))
	return nodes, nil
}

// UpdateNodeStatus marks a node online or offline.
func (ms *MySQLStore) UpdateNodeStatus(ctx context.Context, nodeID string, status models.NodeStatus) error {
	ctx, span := tracer.Start(ctx, "mysql.update_node_status",
		trace.WithAttributes(
			attribute.String("node_id", nodeID),
			attribute.String("status", string(status)),
		),
	)
	defer span.End()

	res, err := ms.db.ExecContext(ctx,
		`UPDATE storage_nodes SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), nodeID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update node status: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperr.NotFoundf("storage node %s", nodeID)
	}
	return nil
}

// ReserveNodeCapacity atomically decrements a node's available bytes.
// The conditional WHERE keeps available from ever going negative under
// concurrent replication jobs; zero rows affected means the node no longer
// has room.
func (ms *MySQLStore) ReserveNodeCapacity(ctx context.Context, nodeID string, size int64) error {
	ctx, span := tracer.Start(ctx, "mysql.reserve_node_capacity",
		trace.WithAttributes(
			attribute.String("node_id", nodeID),
			attribute.Int64("size_bytes", size),
		),
	)
	defer span.End()

	res, err := ms.db.ExecContext(ctx,
		`UPDATE storage_nodes SET available = available - ?, updated_at = ?
		 WHERE id = ? AND available >= ?`,
		size, time.Now().UTC(), nodeID, size)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to reserve capacity: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		span.SetAttributes(attribute.Bool("capacity_exhausted", true))
		return fmt.Errorf("node %s needs %d bytes: %w", nodeID, size, apperr.ErrCapacityExhausted)
	}
	return nil
}

// ReleaseNodeCapacity returns previously reserved bytes to a node. Used to
// compensate a reservation whose chunk copy failed, capped at the node's
// declared capacity.
func (ms *MySQLStore) ReleaseNodeCapacity(ctx context.Context, nodeID string, size int64) error {
	ctx, span := tracer.Start(ctx, "mysql.release_node_capacity",
		trace.WithAttributes(
			attribute.String("node_id", nodeID),
			attribute.Int64("size_bytes", size),
		),
	)
	defer span.End()

	_, err := ms.db.ExecContext(ctx,
		`UPDATE storage_nodes SET available = LEAST(available + ?, capacity), updated_at = ?
		 WHERE id = ?`,
		size, time.Now().UTC(), nodeID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to release capacity: %w", err)
	}
	return nil
}

// IndexFileHash records the first file seen with a content hash. Later
// files with the same hash keep the original canonical owner.
func (ms *MySQLStore) IndexFileHash(ctx context.Context, hash, fileID string) error {
	ctx, span := tracer.Start(ctx, "mysql.index_file_hash",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	_, err := ms.db.ExecContext(ctx,
		`INSERT IGNORE INTO file_hashes (hash, file_id) VALUES (?, ?)`, hash, fileID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to index file hash: %w", err)
	}
	return nil
}

// LookupFileByHash returns the canonical file ID for a content hash, or
// empty when the hash is unknown.
func (ms *MySQLStore) LookupFileByHash(ctx context.Context, hash string) (string, error) {
	ctx, span := tracer.Start(ctx, "mysql.lookup_file_by_hash")
	defer span.End()

	var fileID string
	err := ms.db.QueryRowContext(ctx,
		`SELECT file_id FROM file_hashes WHERE hash = ?`, hash).Scan(&fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	} else if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to look up file hash: %w", err)
	}
	return fileID, nil
}

// IndexChunkHash records the first chunk seen with a content hash.
func (ms *MySQLStore) IndexChunkHash(ctx context.Context, hash, chunkID string) error {
	ctx, span := tracer.Start(ctx, "mysql.index_chunk_hash",
		trace.WithAttributes(attribute.String("chunk_id", chunkID)),
	)
	defer span.End()

	_, err := ms.db.ExecContext(ctx,
		`INSERT IGNORE INTO chunk_hashes (hash, chunk_id) VALUES (?, ?)`, hash, chunkID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to index chunk hash: %w", err)
	}
	return nil
}

// LookupChunkByHash returns the canonical chunk ID for a content hash, or
// empty when the hash is unknown.
func (ms *MySQLStore) LookupChunkByHash(ctx context.Context, hash string) (string, error) {
	ctx, span := tracer.Start(ctx, "mysql.lookup_chunk_by_hash")
	defer span.End()

	var chunkID string
	err := ms.db.QueryRowContext(ctx,
		`SELECT chunk_id FROM chunk_hashes WHERE hash = ?`, hash).Scan(&chunkID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	} else if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to look up chunk hash: %w", err)
	}
	return chunkID, nil
}

// AddOrphanCandidate records a chunk ID displaced by a dedup rewrite or a
// chunk-list replacement. The reclaimer deletes the bytes once no chunk row
// references the ID anymore.
func (ms *MySQLStore) AddOrphanCandidate(ctx context.Context, chunkID string) error {
	ctx, span := tracer.Start(ctx, "mysql.add_orphan_candidate",
		trace.WithAttributes(attribute.String("chunk_id", chunkID)),
	)
	defer span.End()

	_, err := ms.db.ExecContext(ctx,
		`INSERT IGNORE INTO orphan_chunks (chunk_id, created_at) VALUES (?, ?)`,
		chunkID, time.Now().UTC())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to record orphan candidate: %w", err)
	}
	return nil
}

// ListOrphanCandidates returns up to limit candidate chunk IDs, oldest first.
func (ms *MySQLStore) ListOrphanCandidates(ctx context.Context, limit int) ([]string, error) {
	ctx, span := tracer.Start(ctx, "mysql.list_orphan_candidates",
		trace.WithAttributes(attribute.Int("limit", limit)),
	)
	defer span.End()

	rows, err := ms.db.QueryContext(ctx,
		`SELECT chunk_id FROM orphan_chunks ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query orphan candidates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan orphan candidate: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating orphan candidates: %w", err)
	}
	return ids, nil
}

// CountChunkRefs counts chunk rows still referencing a chunk ID.
func (ms *MySQLStore) CountChunkRefs(ctx context.Context, chunkID string) (int, error) {
	ctx, span := tracer.Start(ctx, "mysql.count_chunk_refs",
		trace.WithAttributes(attribute.String("chunk_id", chunkID)),
	)
	defer span.End()

	var count int
	err := ms.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE chunk_id = ?`, chunkID).Scan(&count)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to count chunk references: %w", err)
	}
	return count, nil
}

// DropChunkHashRefs removes content-index entries naming a chunk ID.
// Called before the chunk's bytes are reclaimed so deduplication can never
// rewrite a live file onto a deleted blob.
func (ms *MySQLStore) DropChunkHashRefs(ctx context.Context, chunkID string) error {
	ctx, span := tracer.Start(ctx, "mysql.drop_chunk_hash_refs",
		trace.WithAttributes(attribute.String("chunk_id", chunkID)),
	)
	defer span.End()

	_, err := ms.db.ExecContext(ctx,
		`DELETE FROM chunk_hashes WHERE chunk_id = ?`, chunkID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to drop chunk hash refs: %w", err)
	}
	return nil
}

// RemoveOrphanCandidate clears a reclaimed (or still referenced) candidate.
func (ms *MySQLStore) RemoveOrphanCandidate(ctx context.Context, chunkID string) error {
	ctx, span := tracer.Start(ctx, "mysql.remove_orphan_candidate",
		trace.WithAttributes(attribute.String("chunk_id", chunkID)),
	)
	defer span.End()

	_, err := ms.db.ExecContext(ctx,
		`DELETE FROM orphan_chunks WHERE chunk_id = ?`, chunkID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to remove orphan candidate: %w", err)
	}
	return nil
}
