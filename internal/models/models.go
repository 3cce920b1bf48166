package models

import "time"

// FileStatus tracks a file through its upload lifecycle. Deletion is
// physical: a deleted file has no row and therefore no status.
type FileStatus string

const (
	FileUploading  FileStatus = "uploading"
	FileProcessing FileStatus = "processing"
	FileAvailable  FileStatus = "available"
	FileFailed     FileStatus = "failed"
)

// ChunkStatus tracks an individual chunk.
type ChunkStatus string

const (
	ChunkUploading ChunkStatus = "uploading"
	ChunkUploaded  ChunkStatus = "uploaded"
)

// NodeStatus is the administrative status of a storage node.
type NodeStatus string

const (
	NodeOnline  NodeStatus = "online"
	NodeOffline NodeStatus = "offline"
)

// ReplicationStatus summarizes a file's replication progress.
type ReplicationStatus string

const (
	ReplicationPending    ReplicationStatus = "pending"
	ReplicationInProgress ReplicationStatus = "in_progress"
	ReplicationCompleted  ReplicationStatus = "completed"
)

// File represents file metadata stored in MySQL.
type File struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	OriginalName string     `json:"original_name"`
	MimeType     string     `json:"mime_type"`
	Size         int64      `json:"size"`
	OwnerID      string     `json:"owner_id"`
	Status       FileStatus `json:"status"`
	// Hash is empty until the file has been fully assembled.
	Hash string `json:"hash,omitempty"`
	// Regions is the set of region IDs the file is assigned to.
	// ReplicatedTo is the subset already copied successfully; it is
	// always contained in Regions.
	Regions      []string `json:"regions"`
	ReplicatedTo []string `json:"replicated_to"`
	// Compressed is set once the compression transform has been applied,
	// so the read path knows to invert it.
	CompressionEnabled   bool      `json:"compression_enabled"`
	DeduplicationEnabled bool      `json:"deduplication_enabled"`
	Compressed           bool      `json:"compressed"`
	ChunkCount           int       `json:"chunk_count"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Chunk represents one slice of a file. The (FileID, Index) pair identifies
// the slot; ChunkID keys the chunk bytes in the blob store and may be
// rewritten to point at a canonical chunk after deduplication.
type Chunk struct {
	ChunkID string      `json:"chunk_id"`
	FileID  string      `json:"file_id"`
	Index   int         `json:"index"`
	Size    int64       `json:"size"`
	Hash    string      `json:"hash,omitempty"`
	Status  ChunkStatus `json:"status"`
	// StorageNodeID is set when the chunk has been materialized on a
	// remote node during replication.
	StorageNodeID string `json:"storage_node_id,omitempty"`
}

// Region is a named storage locality. Regions are soft-deleted: Active is
// cleared but the record stays addressable for already-replicated files.
type Region struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StorageNode is a capacity-bounded unit within a region.
type StorageNode struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Hostname  string     `json:"hostname"`
	Port      int        `json:"port"`
	RegionID  string     `json:"region_id"`
	Capacity  int64      `json:"capacity"`
	Available int64      `json:"available"`
	Status    NodeStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ChunkData holds chunk bytes and their computed identity during chunking
// and reassembly.
type ChunkData struct {
	Data  []byte
	Index int
	Hash  string
	Size  int64
}
