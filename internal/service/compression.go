package service

import (
	"bytes"
	"context"
	"io"
	"log"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/DAMMAK/vault-x/internal/chunker"
	"github.com/DAMMAK/vault-x/internal/models"
	"github.com/DAMMAK/vault-x/internal/storage"
)

// CompressionService applies a reversible gzip transform to assembled file
// bytes and re-chunks the result with the standard chunking rule. The
// inverse transform runs on the read path for files marked compressed.
type CompressionService struct {
	files   FileStore
	blobs   BlobStore
	index   HashIndex
	cache   Cache
	chunker *chunker.Chunker
}

// NewCompressionService creates the compression engine.
func NewCompressionService(files FileStore, blobs BlobStore, index HashIndex, cache Cache, ck *chunker.Chunker) *CompressionService {
	return &CompressionService{
		files:   files,
		blobs:   blobs,
		index:   index,
		cache:   cache,
		chunker: ck,
	}
}

// Process compresses one file: assemble, transform, re-chunk, and swap the
// file's chunk list, size and hash for those of the transformed bytes.
// Files already compressed are left alone, so retries are safe.
func (cs *CompressionService) Process(ctx context.Context, fileID, ownerID string) error {
	ctx, span := tracer.Start(ctx, "compression.process",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	file, err := cs.files.GetFileForOwner(ctx, fileID, ownerID)
	if err != nil {
		return err
	}
	if !file.CompressionEnabled || file.Compressed {
		return nil
	}

	original, err := cs.assembleBytes(ctx, file)
	if err != nil {
		span.RecordError(err)
		return err
	}

	compressed, err := cs.Compress(ctx, original)
	if err != nil {
		span.RecordError(err)
		return err
	}

	oldChunks, err := cs.files.GetChunks(ctx, fileID)
	if err != nil {
		return err
	}

	parts := cs.chunker.Split(compressed)
	newChunks := make([]*models.Chunk, len(parts))
	for i, part := range parts {
		chunkID := uuid.New().String()
		if err := cs.blobs.Put(ctx, storage.ChunkKey(chunkID), part.Data); err != nil {
			span.RecordError(err)
			return err
		}
		if err := cs.index.IndexChunkHash(ctx, part.Hash, chunkID); err != nil {
			log.Printf("Warning: failed to index chunk hash: %v", err)
		}
		newChunks[i] = &models.Chunk{
			ChunkID: chunkID,
			FileID:  file.ID,
			Index:   part.Index,
			Size:    part.Size,
			Hash:    part.Hash,
			Status:  models.ChunkUploaded,
		}
	}

	file.Size = int64(len(compressed))
	file.Hash = chunker.ComputeHash(compressed)
	file.Compressed = true
	file.ChunkCount = len(newChunks)
	file.Status = models.FileAvailable

	if err := cs.files.ReplaceFileChunks(ctx, file, newChunks); err != nil {
		return err
	}
	if err := cs.index.IndexFileHash(ctx, file.Hash, file.ID); err != nil {
		log.Printf("Warning: failed to index file hash: %v", err)
	}

	for _, chunk := range oldChunks {
		if err := cs.index.AddOrphanCandidate(ctx, chunk.ChunkID); err != nil {
			log.Printf("Warning: failed to record orphan chunk %s: %v", chunk.ChunkID, err)
		}
	}

	if err := cs.cache.InvalidateFileMetadata(ctx, fileID); err != nil {
		log.Printf("Warning: failed to invalidate cache for file %s: %v", fileID, err)
	}

	span.SetAttributes(
		attribute.Int("original_bytes", len(original)),
		attribute.Int("compressed_bytes", len(compressed)),
	)
	log.Printf("File %s compressed: %d -> %d bytes", fileID, len(original), len(compressed))
	return nil
}

// Compress applies the gzip transform.
func (cs *CompressionService) Compress(ctx context.Context, data []byte) ([]byte, error) {
	_, span := tracer.Start(ctx, "compression.compress",
		trace.WithAttributes(attribute.Int("size_bytes", len(data))),
	)
	defer span.End()

	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := writer.Close(); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress inverts the gzip transform.
func (cs *CompressionService) Decompress(ctx context.Context, data []byte) ([]byte, error) {
	_, span := tracer.Start(ctx, "compression.decompress",
		trace.WithAttributes(attribute.Int("size_bytes", len(data))),
	)
	defer span.End()

	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer reader.Close()

	out, err := io.ReadAll(reader)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return out, nil
}

// assembleBytes mirrors the file service's read path for the compression
// input: chunks in index order, all bytes present.
func (cs *CompressionService) assembleBytes(ctx context.Context, file *models.File) ([]byte, error) {
	chunks, err := cs.files.GetChunks(ctx, file.ID)
	if err != nil {
		return nil, err
	}

	parts := make([][]byte, len(chunks))
	for i, chunk := range chunks {
		data, err := cs.blobs.Get(ctx, storage.ChunkKey(chunk.ChunkID))
		if err != nil {
			return nil, err
		}
		parts[i] = data
	}
	return chunker.Reassemble(parts), nil
}
