package service

import (
	"context"
	"log"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/DAMMAK/vault-x/internal/models"
	"github.com/DAMMAK/vault-x/internal/storage"
)

// DedupService rewrites file and chunk references to canonical
// content-addressed copies. File-level deduplication aliases the whole
// file; chunk-level deduplication rewrites individual chunk references.
// Displaced chunk IDs are recorded as orphan candidates and reclaimed in
// the background once nothing references them.
type DedupService struct {
	files FileStore
	index HashIndex
	blobs BlobStore
	cache Cache
}

// NewDedupService creates the deduplication engine.
func NewDedupService(files FileStore, index HashIndex, blobs BlobStore, cache Cache) *DedupService {
	return &DedupService{files: files, index: index, blobs: blobs, cache: cache}
}

// Process deduplicates one file. It is a no-op when deduplication is not
// enabled for the file, and chunk-level matching only runs when no
// file-level alias was found.
func (ds *DedupService) Process(ctx context.Context, fileID, ownerID string) error {
	ctx, span := tracer.Start(ctx, "dedup.process",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	file, err := ds.files.GetFileForOwner(ctx, fileID, ownerID)
	if err != nil {
		return err
	}
	if !file.DeduplicationEnabled {
		return nil
	}

	aliased, err := ds.dedupFile(ctx, file)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if aliased {
		span.SetAttributes(attribute.String("dedup_level", "file"))
		ds.invalidate(ctx, fileID)
		return nil
	}

	rewritten, err := ds.dedupChunks(ctx, file)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if rewritten > 0 {
		span.SetAttributes(
			attribute.String("dedup_level", "chunk"),
			attribute.Int("chunks_rewritten", rewritten),
		)
		ds.invalidate(ctx, fileID)
	}
	return nil
}

// dedupFile aliases the file to a canonical file with identical content:
// the chunk list, hash and size are adopted wholesale and the file becomes
// available without re-transferring any bytes.
func (ds *DedupService) dedupFile(ctx context.Context, file *models.File) (bool, error) {
	if file.Hash == "" {
		return false, nil
	}

	canonicalID, err := ds.index.LookupFileByHash(ctx, file.Hash)
	if err != nil {
		return false, err
	}
	if canonicalID == "" || canonicalID == file.ID {
		return false, nil
	}

	canonical, err := ds.files.GetFile(ctx, canonicalID)
	if err != nil {
		// A stale index entry is not a dedup opportunity.
		log.Printf("Warning: canonical file %s for hash %s unavailable: %v", canonicalID, file.Hash, err)
		return false, nil
	}

	canonChunks, err := ds.files.GetChunks(ctx, canonicalID)
	if err != nil {
		return false, err
	}

	ownChunks, err := ds.files.GetChunks(ctx, file.ID)
	if err != nil {
		return false, err
	}

	adopted := make([]*models.Chunk, len(canonChunks))
	for i, chunk := range canonChunks {
		copied := *chunk
		copied.FileID = file.ID
		adopted[i] = &copied
	}

	file.Size = canonical.Size
	file.Hash = canonical.Hash
	file.Compressed = canonical.Compressed
	file.ChunkCount = len(adopted)
	file.Status = models.FileAvailable

	if err := ds.files.ReplaceFileChunks(ctx, file, adopted); err != nil {
		return false, err
	}

	for _, chunk := range ownChunks {
		if err := ds.index.AddOrphanCandidate(ctx, chunk.ChunkID); err != nil {
			log.Printf("Warning: failed to record orphan chunk %s: %v", chunk.ChunkID, err)
		}
	}

	log.Printf("File %s deduplicated against canonical file %s", file.ID, canonicalID)
	return true, nil
}

// dedupChunks rewrites each chunk whose hash matches a canonical chunk to
// reference the canonical bytes. The rewrite is a logical reference only;
// the displaced bytes stay until the reclaimer proves them unreferenced.
func (ds *DedupService) dedupChunks(ctx context.Context, file *models.File) (int, error) {
	chunks, err := ds.files.GetChunks(ctx, file.ID)
	if err != nil {
		return 0, err
	}

	rewritten := 0
	for _, chunk := range chunks {
		if chunk.Hash == "" {
			continue
		}
		canonicalID, err := ds.index.LookupChunkByHash(ctx, chunk.Hash)
		if err != nil {
			return rewritten, err
		}
		if canonicalID == "" || canonicalID == chunk.ChunkID {
			continue
		}

		// Never rewrite onto bytes that are gone. The index entry can
		// outlive its chunk when the reclaimer races a concurrent sweep.
		present, err := ds.blobs.Exists(ctx, storage.ChunkKey(canonicalID))
		if err != nil {
			return rewritten, err
		}
		if !present {
			log.Printf("Warning: canonical chunk %s for hash %s has no bytes, skipping", canonicalID, chunk.Hash)
			continue
		}

		if err := ds.files.RewriteChunkRef(ctx, file.ID, chunk.Index, canonicalID); err != nil {
			return rewritten, err
		}
		if err := ds.index.AddOrphanCandidate(ctx, chunk.ChunkID); err != nil {
			log.Printf("Warning: failed to record orphan chunk %s: %v", chunk.ChunkID, err)
		}
		rewritten++
	}

	if rewritten > 0 {
		log.Printf("File %s: %d chunk(s) deduplicated", file.ID, rewritten)
	}
	return rewritten, nil
}

func (ds *DedupService) invalidate(ctx context.Context, fileID string) {
	if err := ds.cache.InvalidateFileMetadata(ctx, fileID); err != nil {
		log.Printf("Warning: failed to invalidate cache for file %s: %v", fileID, err)
	}
}
