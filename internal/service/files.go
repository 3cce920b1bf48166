package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/DAMMAK/vault-x/internal/apperr"
	"github.com/DAMMAK/vault-x/internal/chunker"
	"github.com/DAMMAK/vault-x/internal/models"
	"github.com/DAMMAK/vault-x/internal/queue"
	"github.com/DAMMAK/vault-x/internal/storage"
)

var tracer = otel.Tracer("vaultx-service")

// FileService owns the file/chunk upload state machine: creation with a
// chunk plan, chunk uploads, the all-uploaded transition, assembly and
// the download path.
type FileService struct {
	store         FileStore
	regions       RegionStore
	blobs         BlobStore
	cache         Cache
	queue         Enqueuer
	index         HashIndex
	chunker       *chunker.Chunker
	decompressor  Decompressor
	defaultRegion string
}

// NewFileService creates the file lifecycle manager.
func NewFileService(
	store FileStore,
	regions RegionStore,
	blobs BlobStore,
	cache Cache,
	enqueuer Enqueuer,
	index HashIndex,
	ck *chunker.Chunker,
	decompressor Decompressor,
	defaultRegion string,
) *FileService {
	return &FileService{
		store:         store,
		regions:       regions,
		blobs:         blobs,
		cache:         cache,
		queue:         enqueuer,
		index:         index,
		chunker:       ck,
		decompressor:  decompressor,
		defaultRegion: defaultRegion,
	}
}

// CreateFileInput carries the client-supplied file metadata.
type CreateFileInput struct {
	Name                 string `json:"name"`
	OriginalName         string `json:"original_name"`
	MimeType             string `json:"mime_type"`
	Size                 int64  `json:"size"`
	CompressionEnabled   bool   `json:"compression_enabled"`
	DeduplicationEnabled bool   `json:"deduplication_enabled"`
}

// Create materializes a file record and its full chunk plan atomically.
// The file is placed in the configured default region, falling back to the
// first active region.
func (fs *FileService) Create(ctx context.Context, input CreateFileInput, ownerID string) (*models.File, error) {
	ctx, span := tracer.Start(ctx, "files.create",
		trace.WithAttributes(
			attribute.String("file_name", input.Name),
			attribute.Int64("file_size", input.Size),
		),
	)
	defer span.End()

	if input.Size <= 0 {
		return nil, apperr.InvalidStatef("file size must be positive")
	}

	regions, err := fs.regions.ListActiveRegions(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(regions) == 0 {
		return nil, apperr.InvalidStatef("no active storage regions")
	}

	region := regions[0]
	for _, r := range regions {
		if r.Name == fs.defaultRegion {
			region = r
			break
		}
	}

	now := time.Now().UTC()
	file := &models.File{
		ID:                   uuid.New().String(),
		Name:                 input.Name,
		OriginalName:         input.OriginalName,
		MimeType:             input.MimeType,
		Size:                 input.Size,
		OwnerID:              ownerID,
		Status:               models.FileUploading,
		Regions:              []string{region.ID},
		ReplicatedTo:         []string{},
		CompressionEnabled:   input.CompressionEnabled,
		DeduplicationEnabled: input.DeduplicationEnabled,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	sizes := fs.chunker.Plan(input.Size)
	file.ChunkCount = len(sizes)

	chunks := make([]*models.Chunk, len(sizes))
	for i, size := range sizes {
		chunks[i] = &models.Chunk{
			ChunkID: uuid.New().String(),
			FileID:  file.ID,
			Index:   i,
			Size:    size,
			Status:  models.ChunkUploading,
		}
	}

	if err := fs.store.CreateFileWithChunks(ctx, file, chunks); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("file_id", file.ID),
		attribute.Int("chunk_count", file.ChunkCount),
	)
	return file, nil
}

// List returns the owner's files through the owner index.
func (fs *FileService) List(ctx context.Context, ownerID string) ([]*models.File, error) {
	return fs.store.ListFilesByOwner(ctx, ownerID)
}

// Get returns one file scoped to its owner, consulting the cache first.
func (fs *FileService) Get(ctx context.Context, fileID, ownerID string) (*models.File, error) {
	ctx, span := tracer.Start(ctx, "files.get",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	cached, err := fs.cache.GetFileMetadata(ctx, fileID)
	if err != nil {
		log.Printf("Warning: cache lookup failed for file %s: %v", fileID, err)
	}
	if cached != nil {
		// Owner mismatch reads as not-found, same as the store.
		if cached.OwnerID != ownerID {
			return nil, apperr.NotFoundf("file %s", fileID)
		}
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return cached, nil
	}

	file, err := fs.store.GetFileForOwner(ctx, fileID, ownerID)
	if err != nil {
		return nil, err
	}

	if err := fs.cache.SetFileMetadata(ctx, fileID, file); err != nil {
		log.Printf("Warning: failed to cache file %s: %v", fileID, err)
	}
	return file, nil
}

// UpdateFileInput carries the mutable client-facing metadata.
type UpdateFileInput struct {
	Name     *string `json:"name"`
	MimeType *string `json:"mime_type"`
}

// Update changes client-facing metadata only; lifecycle fields are owned
// by the pipeline.
func (fs *FileService) Update(ctx context.Context, fileID, ownerID string, input UpdateFileInput) (*models.File, error) {
	file, err := fs.store.GetFileForOwner(ctx, fileID, ownerID)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		file.Name = *input.Name
	}
	if input.MimeType != nil {
		file.MimeType = *input.MimeType
	}

	if err := fs.store.SaveFile(ctx, file); err != nil {
		return nil, err
	}
	fs.invalidate(ctx, fileID)
	return file, nil
}

// Delete removes the file and its chunk rows. Chunk bytes are handed to
// the orphan reclaimer rather than deleted inline, because a chunk may be
// shared with other files after deduplication.
func (fs *FileService) Delete(ctx context.Context, fileID, ownerID string) error {
	ctx, span := tracer.Start(ctx, "files.delete",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	if _, err := fs.store.GetFileForOwner(ctx, fileID, ownerID); err != nil {
		return err
	}

	chunks, err := fs.store.GetChunks(ctx, fileID)
	if err != nil {
		return err
	}

	if err := fs.store.DeleteFile(ctx, fileID); err != nil {
		return err
	}

	for _, chunk := range chunks {
		if err := fs.index.AddOrphanCandidate(ctx, chunk.ChunkID); err != nil {
			log.Printf("Warning: failed to record orphan chunk %s: %v", chunk.ChunkID, err)
		}
	}

	fs.invalidate(ctx, fileID)
	return nil
}

// UploadChunk stores one chunk's bytes and, when it was the last chunk
// outstanding, flips the file to processing and enqueues assembly. Uploads
// of distinct indices run fully in parallel; the store's conditional
// transition guarantees exactly one final upload triggers assembly.
func (fs *FileService) UploadChunk(ctx context.Context, fileID string, index int, data []byte, ownerID string) error {
	ctx, span := tracer.Start(ctx, "files.upload_chunk",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
			attribute.Int("chunk_index", index),
			attribute.Int("size_bytes", len(data)),
		),
	)
	defer span.End()

	file, err := fs.store.GetFileForOwner(ctx, fileID, ownerID)
	if err != nil {
		return err
	}

	if file.Status != models.FileUploading {
		return apperr.InvalidStatef("file is not accepting uploads (status %s)", file.Status)
	}
	if index < 0 || index >= file.ChunkCount {
		return fmt.Errorf("chunk index %d of %d: %w", index, file.ChunkCount, apperr.ErrOutOfRange)
	}

	chunk, err := fs.store.GetChunk(ctx, fileID, index)
	if err != nil {
		return err
	}
	if chunk.Status != models.ChunkUploading {
		return fmt.Errorf("chunk %d: %w", index, apperr.ErrAlreadyProcessed)
	}
	if int64(len(data)) != chunk.Size {
		return apperr.InvalidStatef("chunk %d expects %d bytes, got %d", index, chunk.Size, len(data))
	}

	hash := chunker.ComputeHash(data)
	if err := fs.blobs.Put(ctx, storage.ChunkKey(chunk.ChunkID), data); err != nil {
		span.RecordError(err)
		return err
	}

	complete, err := fs.store.MarkChunkUploaded(ctx, fileID, index, hash)
	if err != nil {
		return err
	}

	if err := fs.index.IndexChunkHash(ctx, hash, chunk.ChunkID); err != nil {
		log.Printf("Warning: failed to index chunk hash: %v", err)
	}
	fs.invalidate(ctx, fileID)

	if complete {
		log.Printf("File %s fully uploaded, queueing assembly", fileID)
		if err := fs.queue.Enqueue(ctx, queue.UploadQueue, FileJob{FileID: fileID, OwnerID: ownerID}); err != nil {
			span.RecordError(err)
			return err
		}
	}
	return nil
}

// Assemble concatenates the uploaded chunks in index order, computes the
// whole-file hash and makes the file available. Re-running on an already
// available file is a no-op, so queue retries are safe.
func (fs *FileService) Assemble(ctx context.Context, fileID, ownerID string) error {
	ctx, span := tracer.Start(ctx, "files.assemble",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	file, err := fs.store.GetFileForOwner(ctx, fileID, ownerID)
	if err != nil {
		return err
	}

	switch file.Status {
	case models.FileAvailable:
		return nil
	case models.FileProcessing:
	case models.FileFailed:
		// A retried job picks a failed assembly back up.
		if _, err := fs.store.UpdateFileStatus(ctx, fileID, models.FileFailed, models.FileProcessing); err != nil {
			return err
		}
	default:
		return apperr.InvalidStatef("file %s is not ready for assembly (status %s)", fileID, file.Status)
	}

	data, err := fs.assembleBytes(ctx, file)
	if err != nil {
		span.RecordError(err)
		if _, statusErr := fs.store.UpdateFileStatus(ctx, fileID, models.FileProcessing, models.FileFailed); statusErr != nil {
			log.Printf("Warning: failed to mark file %s failed: %v", fileID, statusErr)
		}
		fs.invalidate(ctx, fileID)
		return err
	}

	file.Hash = chunker.ComputeHash(data)
	file.Status = models.FileAvailable
	if err := fs.store.SaveFile(ctx, file); err != nil {
		return err
	}
	if err := fs.index.IndexFileHash(ctx, file.Hash, file.ID); err != nil {
		log.Printf("Warning: failed to index file hash: %v", err)
	}
	fs.invalidate(ctx, fileID)

	if len(file.Regions) > 1 {
		job := ReplicationJob{
			FileID:        file.ID,
			OwnerID:       ownerID,
			SourceRegion:  file.Regions[0],
			TargetRegions: file.Regions[1:],
		}
		if err := fs.queue.Enqueue(ctx, queue.ReplicationQueue, job); err != nil {
			span.RecordError(err)
			return err
		}
	}

	span.SetAttributes(attribute.String("file_hash", file.Hash))
	return nil
}

// Download returns the file's fully assembled bytes, decompressing when
// the compression transform has been applied.
func (fs *FileService) Download(ctx context.Context, fileID, ownerID string) (*models.File, []byte, error) {
	ctx, span := tracer.Start(ctx, "files.download",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	file, err := fs.Get(ctx, fileID, ownerID)
	if err != nil {
		return nil, nil, err
	}
	if file.Status != models.FileAvailable {
		return nil, nil, apperr.InvalidStatef("file is not available (status %s)", file.Status)
	}

	data, err := fs.assembleBytes(ctx, file)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	if file.Compressed {
		data, err = fs.decompressor.Decompress(ctx, data)
		if err != nil {
			span.RecordError(err)
			return nil, nil, err
		}
	}
	return file, data, nil
}

// assembleBytes reads every chunk in index order and concatenates them.
// Any missing slot or missing bytes is reported as ErrMissingData.
func (fs *FileService) assembleBytes(ctx context.Context, file *models.File) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "files.assemble_bytes",
		trace.WithAttributes(
			attribute.String("file_id", file.ID),
			attribute.Int("chunk_count", file.ChunkCount),
		),
	)
	defer span.End()

	chunks, err := fs.store.GetChunks(ctx, file.ID)
	if err != nil {
		return nil, err
	}
	if len(chunks) != file.ChunkCount {
		return nil, fmt.Errorf("file %s has %d of %d chunks: %w",
			file.ID, len(chunks), file.ChunkCount, apperr.ErrMissingData)
	}

	parts := make([][]byte, len(chunks))
	for i, chunk := range chunks {
		if chunk.Status != models.ChunkUploaded {
			return nil, fmt.Errorf("chunk %d not uploaded: %w", chunk.Index, apperr.ErrMissingData)
		}
		data, err := fs.blobs.Get(ctx, storage.ChunkKey(chunk.ChunkID))
		if err != nil {
			return nil, fmt.Errorf("chunk %d bytes unavailable: %w", chunk.Index, apperr.ErrMissingData)
		}
		parts[i] = data
	}
	return chunker.Reassemble(parts), nil
}

func (fs *FileService) invalidate(ctx context.Context, fileID string) {
	if err := fs.cache.InvalidateFileMetadata(ctx, fileID); err != nil {
		log.Printf("Warning: failed to invalidate cache for file %s: %v", fileID, err)
	}
}
