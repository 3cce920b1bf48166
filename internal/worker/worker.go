// Package worker binds the job queues to the processing engines. Every
// handler takes the per-file lease before touching the file, so assembly,
// compression, deduplication and replication never run concurrently for
// one file; a held lease is a plain retryable failure handed back to the
// queue's backoff.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/DAMMAK/vault-x/internal/models"
	"github.com/DAMMAK/vault-x/internal/queue"
	"github.com/DAMMAK/vault-x/internal/service"
)

// Workers owns the queue handler registrations.
type Workers struct {
	files       *service.FileService
	compression *service.CompressionService
	dedup       *service.DedupService
	replication *service.ReplicationService
	store       service.FileStore
	leases      service.Leaser
	queue       *queue.Queue
}

// New wires the engines to the queue.
func New(
	files *service.FileService,
	compression *service.CompressionService,
	dedup *service.DedupService,
	replication *service.ReplicationService,
	store service.FileStore,
	leases service.Leaser,
	q *queue.Queue,
) *Workers {
	return &Workers{
		files:       files,
		compression: compression,
		dedup:       dedup,
		replication: replication,
		store:       store,
		leases:      leases,
		queue:       q,
	}
}

// Register installs the four pipeline handlers. Call before Queue.Start.
func (w *Workers) Register() {
	w.queue.Handle(queue.UploadQueue, w.handleUpload, w.failFile)
	w.queue.Handle(queue.CompressionQueue, w.handleCompression, w.logFailure)
	w.queue.Handle(queue.DeduplicationQueue, w.handleDeduplication, w.logFailure)
	w.queue.Handle(queue.ReplicationQueue, w.handleReplication, w.logFailure)
}

// handleUpload assembles a fully uploaded file and fans out the optional
// compression and deduplication jobs.
func (w *Workers) handleUpload(ctx context.Context, payload json.RawMessage) error {
	var job service.FileJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return queue.Unrecoverable(fmt.Errorf("malformed upload job: %w", err))
	}

	return w.withFileLease(ctx, job.FileID, func(ctx context.Context) error {
		if err := w.files.Assemble(ctx, job.FileID, job.OwnerID); err != nil {
			return err
		}

		file, err := w.store.GetFileForOwner(ctx, job.FileID, job.OwnerID)
		if err != nil {
			return err
		}

		if file.CompressionEnabled {
			if err := w.queue.Enqueue(ctx, queue.CompressionQueue, job); err != nil {
				return err
			}
		}
		if file.DeduplicationEnabled {
			if err := w.queue.Enqueue(ctx, queue.DeduplicationQueue, job); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *Workers) handleCompression(ctx context.Context, payload json.RawMessage) error {
	var job service.FileJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return queue.Unrecoverable(fmt.Errorf("malformed compression job: %w", err))
	}
	return w.withFileLease(ctx, job.FileID, func(ctx context.Context) error {
		return w.compression.Process(ctx, job.FileID, job.OwnerID)
	})
}

func (w *Workers) handleDeduplication(ctx context.Context, payload json.RawMessage) error {
	var job service.FileJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return queue.Unrecoverable(fmt.Errorf("malformed deduplication job: %w", err))
	}
	return w.withFileLease(ctx, job.FileID, func(ctx context.Context) error {
		return w.dedup.Process(ctx, job.FileID, job.OwnerID)
	})
}

func (w *Workers) handleReplication(ctx context.Context, payload json.RawMessage) error {
	var job service.ReplicationJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return queue.Unrecoverable(fmt.Errorf("malformed replication job: %w", err))
	}
	return w.withFileLease(ctx, job.FileID, func(ctx context.Context) error {
		return w.replication.ProcessJob(ctx, job)
	})
}

// withFileLease runs fn only while holding the per-file lease.
func (w *Workers) withFileLease(ctx context.Context, fileID string, fn func(ctx context.Context) error) error {
	acquired, err := w.leases.AcquireFileLease(ctx, fileID)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("file %s is being processed by another job", fileID)
	}
	defer func() {
		if err := w.leases.ReleaseFileLease(ctx, fileID); err != nil {
			log.Printf("Warning: failed to release lease for file %s: %v", fileID, err)
		}
	}()
	return fn(ctx)
}

// failFile marks the owning file failed once assembly retries are
// exhausted.
func (w *Workers) failFile(ctx context.Context, job *queue.Job, jobErr error) {
	var payload service.FileJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		log.Printf("Queue %s: cannot fail file for malformed job %s: %v", job.Queue, job.ID, err)
		return
	}

	log.Printf("File %s processing permanently failed: %v", payload.FileID, jobErr)
	if _, err := w.store.UpdateFileStatus(ctx, payload.FileID, models.FileProcessing, models.FileFailed); err != nil {
		log.Printf("Warning: failed to mark file %s failed: %v", payload.FileID, err)
	}
}

// logFailure is the terminal hook for jobs whose exhaustion leaves the
// file usable: replication leaves the region pending, and a failed
// compression or deduplication pass leaves the original chunks intact.
func (w *Workers) logFailure(ctx context.Context, job *queue.Job, jobErr error) {
	log.Printf("Queue %s: job %s permanently failed: %v", job.Queue, job.ID, jobErr)
}
