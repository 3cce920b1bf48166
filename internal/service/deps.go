// Package service implements the coordinator's engines: the file upload
// lifecycle, replication, deduplication, compression and the region/node
// registry. Engines depend on narrow store interfaces so the backing
// MySQL/MinIO/Redis clients can be swapped for mocks in tests.
package service

import (
	"context"

	"github.com/DAMMAK/vault-x/internal/models"
)

// FileStore is the metadata repository for files and chunks.
type FileStore interface {
	CreateFileWithChunks(ctx context.Context, file *models.File, chunks []*models.Chunk) error
	GetFile(ctx context.Context, fileID string) (*models.File, error)
	GetFileForOwner(ctx context.Context, fileID, ownerID string) (*models.File, error)
	ListFilesByOwner(ctx context.Context, ownerID string) ([]*models.File, error)
	SaveFile(ctx context.Context, file *models.File) error
	DeleteFile(ctx context.Context, fileID string) error
	GetChunks(ctx context.Context, fileID string) ([]*models.Chunk, error)
	GetChunk(ctx context.Context, fileID string, index int) (*models.Chunk, error)
	MarkChunkUploaded(ctx context.Context, fileID string, index int, hash string) (bool, error)
	UpdateFileStatus(ctx context.Context, fileID string, from, to models.FileStatus) (bool, error)
	ReplaceFileChunks(ctx context.Context, file *models.File, chunks []*models.Chunk) error
	RewriteChunkRef(ctx context.Context, fileID string, index int, canonicalChunkID string) error
}

// RegionStore is the metadata repository for regions.
type RegionStore interface {
	CreateRegion(ctx context.Context, region *models.Region) error
	GetRegion(ctx context.Context, regionID string) (*models.Region, error)
	GetRegionByName(ctx context.Context, name string) (*models.Region, error)
	ListActiveRegions(ctx context.Context) ([]*models.Region, error)
	DeactivateRegion(ctx context.Context, regionID string) error
}

// NodeStore is the metadata repository for storage nodes.
type NodeStore interface {
	CreateStorageNode(ctx context.Context, node *models.StorageNode) error
	GetStorageNode(ctx context.Context, nodeID string) (*models.StorageNode, error)
	ListOnlineNodes(ctx context.Context, regionID string) ([]*models.StorageNode, error)
	UpdateNodeStatus(ctx context.Context, nodeID string, status models.NodeStatus) error
	ReserveNodeCapacity(ctx context.Context, nodeID string, size int64) error
	ReleaseNodeCapacity(ctx context.Context, nodeID string, size int64) error
}

// HashIndex is the content-hash lookup used by deduplication, plus the
// orphan ledger fed by rewrites.
type HashIndex interface {
	IndexFileHash(ctx context.Context, hash, fileID string) error
	LookupFileByHash(ctx context.Context, hash string) (string, error)
	IndexChunkHash(ctx context.Context, hash, chunkID string) error
	LookupChunkByHash(ctx context.Context, hash string) (string, error)
	AddOrphanCandidate(ctx context.Context, chunkID string) error
}

// BlobStore holds raw chunk bytes keyed by object key.
type BlobStore interface {
	Put(ctx context.Context, objectKey string, data []byte) error
	Get(ctx context.Context, objectKey string) ([]byte, error)
	Exists(ctx context.Context, objectKey string) (bool, error)
	Delete(ctx context.Context, objectKey string) error
}

// Leaser grants exclusive per-file processing leases.
type Leaser interface {
	AcquireFileLease(ctx context.Context, fileID string) (bool, error)
	ReleaseFileLease(ctx context.Context, fileID string) error
}

// Enqueuer pushes jobs onto a named queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any) error
}

// Cache is the file-metadata read cache.
type Cache interface {
	GetFileMetadata(ctx context.Context, fileID string) (*models.File, error)
	SetFileMetadata(ctx context.Context, fileID string, file *models.File) error
	InvalidateFileMetadata(ctx context.Context, fileID string) error
}

// Decompressor inverts the compression transform on the read path.
type Decompressor interface {
	Decompress(ctx context.Context, data []byte) ([]byte, error)
}

// FileJob is the payload for the upload-completion, compression and
// deduplication queues.
type FileJob struct {
	FileID  string `json:"fileId"`
	OwnerID string `json:"ownerId"`
}

// ReplicationJob is the payload for the replication queue.
type ReplicationJob struct {
	FileID        string   `json:"fileId"`
	OwnerID       string   `json:"ownerId"`
	SourceRegion  string   `json:"sourceRegion"`
	TargetRegions []string `json:"targetRegions"`
}
