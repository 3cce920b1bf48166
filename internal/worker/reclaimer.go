package worker

import (
	"context"
	"log"
	"time"

	"github.com/DAMMAK/vault-x/internal/service"
	"github.com/DAMMAK/vault-x/internal/storage"
)

const reclaimBatchSize = 100

// OrphanLedger lists chunk IDs displaced by dedup rewrites or chunk-set
// replacements and tracks whether any file still references them.
type OrphanLedger interface {
	ListOrphanCandidates(ctx context.Context, limit int) ([]string, error)
	CountChunkRefs(ctx context.Context, chunkID string) (int, error)
	DropChunkHashRefs(ctx context.Context, chunkID string) error
	RemoveOrphanCandidate(ctx context.Context, chunkID string) error
}

// Reclaimer sweeps the orphan ledger and deletes chunk blobs that no
// file references anymore. Candidates are only ever added after the
// metadata rewrite commits, so a candidate with zero references is safe
// to delete.
type Reclaimer struct {
	ledger   OrphanLedger
	blobs    service.BlobStore
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func NewReclaimer(ledger OrphanLedger, blobs service.BlobStore, interval time.Duration) *Reclaimer {
	return &Reclaimer{
		ledger:   ledger,
		blobs:    blobs,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (r *Reclaimer) Start(ctx context.Context) {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := r.Sweep(ctx); err != nil {
					log.Printf("Warning: orphan sweep failed: %v", err)
				}
			case <-r.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop and waits for any in-flight sweep to finish.
func (r *Reclaimer) Stop() {
	close(r.stop)
	<-r.done
}

// Sweep processes one batch of candidates. A candidate still referenced
// by some file is dropped from the ledger without deleting the blob; it
// gets re-added if a later rewrite displaces it again.
func (r *Reclaimer) Sweep(ctx context.Context) error {
	candidates, err := r.ledger.ListOrphanCandidates(ctx, reclaimBatchSize)
	if err != nil {
		return err
	}

	for _, chunkID := range candidates {
		refs, err := r.ledger.CountChunkRefs(ctx, chunkID)
		if err != nil {
			log.Printf("Warning: failed to count refs for chunk %s: %v", chunkID, err)
			continue
		}
		if refs == 0 {
			// The content index loses the chunk first: once the bytes are
			// gone the hash entry is a trap for the next dedup pass.
			if err := r.ledger.DropChunkHashRefs(ctx, chunkID); err != nil {
				log.Printf("Warning: failed to drop hash refs for chunk %s: %v", chunkID, err)
				continue
			}
			if err := r.blobs.Delete(ctx, storage.ChunkKey(chunkID)); err != nil {
				log.Printf("Warning: failed to delete orphan chunk %s: %v", chunkID, err)
				continue
			}
			log.Printf("Reclaimed orphan chunk %s", chunkID)
		}
		if err := r.ledger.RemoveOrphanCandidate(ctx, chunkID); err != nil {
			log.Printf("Warning: failed to clear orphan candidate %s: %v", chunkID, err)
		}
	}
	return nil
}
