package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/DAMMAK/vault-x/internal/apperr"
	"github.com/DAMMAK/vault-x/internal/models"
)

// MySQLStore wraps metadata operations for files, chunks, regions and
// storage nodes with tracing.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore initializes a new MySQL-backed metadata store.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &MySQLStore{db: db}, nil
}

// Close closes the database connection.
func (ms *MySQLStore) Close() error {
	return ms.db.Close()
}

// Migrate creates the schema if it does not exist yet.
func (ms *MySQLStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS files (
			id CHAR(36) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			original_name VARCHAR(255) NOT NULL,
			mime_type VARCHAR(255) NOT NULL,
			size BIGINT NOT NULL,
			owner_id VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL,
			hash CHAR(64) NOT NULL DEFAULT '',
			regions TEXT NOT NULL,
			replicated_to TEXT NOT NULL,
			compression_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			deduplication_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			compressed BOOLEAN NOT NULL DEFAULT FALSE,
			chunk_count INT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			INDEX idx_files_owner (owner_id)
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			file_id CHAR(36) NOT NULL,
			idx INT NOT NULL,
			chunk_id CHAR(36) NOT NULL,
			size BIGINT NOT NULL,
			hash CHAR(64) NOT NULL DEFAULT '',
			status VARCHAR(16) NOT NULL,
			storage_node_id CHAR(36) NOT NULL DEFAULT '',
			PRIMARY KEY (file_id, idx),
			INDEX idx_chunks_chunk_id (chunk_id)
		)`,
		`CREATE TABLE IF NOT EXISTS regions (
			id CHAR(36) PRIMARY KEY,
			name VARCHAR(128) NOT NULL,
			description VARCHAR(512) NOT NULL DEFAULT '',
			location VARCHAR(255) NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE INDEX ux_regions_name (name)
		)`,
		`CREATE TABLE IF NOT EXISTS storage_nodes (
			id CHAR(36) PRIMARY KEY,
			name VARCHAR(128) NOT NULL,
			hostname VARCHAR(255) NOT NULL,
			port INT NOT NULL,
			region_id CHAR(36) NOT NULL,
			capacity BIGINT NOT NULL,
			available BIGINT NOT NULL,
			status VARCHAR(16) NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			INDEX idx_nodes_region (region_id)
		)`,
		`CREATE TABLE IF NOT EXISTS file_hashes (
			hash CHAR(64) PRIMARY KEY,
			file_id CHAR(36) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chunk_hashes (
			hash CHAR(64) PRIMARY KEY,
			chunk_id CHAR(36) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS orphan_chunks (
			chunk_id CHAR(36) PRIMARY KEY,
			created_at DATETIME NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := ms.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

// CreateFileWithChunks persists a file and its chunk plan atomically.
func (ms *MySQLStore) CreateFileWithChunks(ctx context.Context, file *models.File, chunks []*models.Chunk) error {
	ctx, span := tracer.Start(ctx, "mysql.create_file",
		trace.WithAttributes(
			attribute.String("file_id", file.ID),
			attribute.Int64("file_size", file.Size),
			attribute.Int("chunk_count", len(chunks)),
		),
	)
	defer span.End()

	tx, err := ms.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	regions, replicatedTo, err := encodeRegionSets(file)
	if err != nil {
		span.RecordError(err)
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO files (id, name, original_name, mime_type, size, owner_id, status, hash,
			regions, replicated_to, compression_enabled, deduplication_enabled, compressed,
			chunk_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		file.ID, file.Name, file.OriginalName, file.MimeType, file.Size, file.OwnerID,
		file.Status, file.Hash, regions, replicatedTo, file.CompressionEnabled,
		file.DeduplicationEnabled, file.Compressed, file.ChunkCount, file.CreatedAt, file.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert file: %w", err)
	}

	for _, chunk := range chunks {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chunks (file_id, idx, chunk_id, size, hash, status, storage_node_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			chunk.FileID, chunk.Index, chunk.ChunkID, chunk.Size, chunk.Hash, chunk.Status, chunk.StorageNodeID)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to insert chunk %d: %w", chunk.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to commit file creation: %w", err)
	}
	return nil
}

// GetFile retrieves file metadata by ID.
func (ms *MySQLStore) GetFile(ctx context.Context, fileID string) (*models.File, error) {
	ctx, span := tracer.Start(ctx, "mysql.get_file",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	row := ms.db.QueryRowContext(ctx, selectFileColumns+` FROM files WHERE id = ?`, fileID)
	file, err := scanFile(row)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			span.SetAttributes(attribute.Bool("found", false))
			return nil, apperr.NotFoundf("file %s", fileID)
		}
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Bool("found", true))
	return file, nil
}

// GetFileForOwner retrieves a file scoped to its owner. A file owned by
// someone else reports not-found, never forbidden.
func (ms *MySQLStore) GetFileForOwner(ctx context.Context, fileID, ownerID string) (*models.File, error) {
	file, err := ms.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file.OwnerID != ownerID {
		return nil, apperr.NotFoundf("file %s", fileID)
	}
	return file, nil
}

// ListFilesByOwner returns all files for an owner via the owner index.
func (ms *MySQLStore) ListFilesByOwner(ctx context.Context, ownerID string) ([]*models.File, error) {
	ctx, span := tracer.Start(ctx, "mysql.list_files_by_owner",
		trace.WithAttributes(attribute.String("owner_id", ownerID)),
	)
	defer span.End()

	rows, err := ms.db.QueryContext(ctx,
		selectFileColumns+` FROM files WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	var files []*models.File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating files: %w", err)
	}

	span.SetAttributes(attribute.Int("file_count", len(files)))
	return files, nil
}

// SaveFile updates mutable file metadata.
func (ms *MySQLStore) SaveFile(ctx context.Context, file *models.File) error {
	ctx, span := tracer.Start(ctx, "mysql.save_file",
		trace.WithAttributes(
			attribute.String("file_id", file.ID),
			attribute.String("status", string(file.Status)),
		),
	)
	defer span.End()

	regions, replicatedTo, err := encodeRegionSets(file)
	if err != nil {
		span.RecordError(err)
		return err
	}

	file.UpdatedAt = time.Now().UTC()
	_, err = ms.db.ExecContext(ctx,
		`UPDATE files SET name = ?, original_name = ?, mime_type = ?, size = ?, status = ?,
			hash = ?, regions = ?, replicated_to = ?, compressed = ?, chunk_count = ?, updated_at = ?
		 WHERE id = ?`,
		file.Name, file.OriginalName, file.MimeType, file.Size, file.Status, file.Hash,
		regions, replicatedTo, file.Compressed, file.ChunkCount, file.UpdatedAt, file.ID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update file: %w", err)
	}
	return nil
}

// DeleteFile removes the file row, its chunk rows and its content-index
// entry. Chunk bytes are handed to the reclaimer by the caller.
func (ms *MySQLStore) DeleteFile(ctx context.Context, fileID string) error {
	ctx, span := tracer.Start(ctx, "mysql.delete_file",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	tx, err := ms.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	// The content index must not keep naming the deleted file as a
	// canonical dedup target.
	if _, err := tx.ExecContext(ctx, `DELETE FROM file_hashes WHERE file_id = ?`, fileID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete file hash refs: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, fileID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete file: %w", err)
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to commit file deletion: %w", err)
	}
	return nil
}

// GetChunks retrieves all chunks for a file ordered by index.
func (ms *MySQLStore) GetChunks(ctx context.Context, fileID string) ([]*models.Chunk, error) {
	ctx, span := tracer.Start(ctx, "mysql.get_chunks",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	rows, err := ms.db.QueryContext(ctx,
		`SELECT file_id, idx, chunk_id, size, hash, status, storage_node_id
		 FROM chunks WHERE file_id = ? ORDER BY idx ASC`, fileID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		var chunk models.Chunk
		if err := rows.Scan(&chunk.FileID, &chunk.Index, &chunk.ChunkID, &chunk.Size,
			&chunk.Hash, &chunk.Status, &chunk.StorageNodeID); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, &chunk)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating chunks: %w", err)
	}

	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))
	return chunks, nil
}

// GetChunk retrieves one chunk slot of a file by index.
func (ms *MySQLStore) GetChunk(ctx context.Context, fileID string, index int) (*models.Chunk, error) {
	ctx, span := tracer.Start(ctx, "mysql.get_chunk",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
			attribute.Int("chunk_index", index),
		),
	)
	defer span.End()

	var chunk models.Chunk
	err := ms.db.QueryRowContext(ctx,
		`SELECT file_id, idx, chunk_id, size, hash, status, storage_node_id
		 FROM chunks WHERE file_id = ? AND idx = ?`, fileID, index).
		Scan(&chunk.FileID, &chunk.Index, &chunk.ChunkID, &chunk.Size,
			&chunk.Hash, &chunk.Status, &chunk.StorageNodeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFoundf("chunk %d of file %s", index, fileID)
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query chunk: %w", err)
	}
	return &chunk, nil
}

// MarkChunkUploaded records a chunk's bytes as stored and, when that chunk
// was the last one outstanding, flips the file to processing. The file row
// is locked for the whole transaction, so concurrent final uploads serialize
// and exactly one of them observes zero remaining chunks and wins the flip.
func (ms *MySQLStore) MarkChunkUploaded(ctx context.Context, fileID string, index int, hash string) (bool, error) {
	ctx, span := tracer.Start(ctx, "mysql.mark_chunk_uploaded",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
			attribute.Int("chunk_index", index),
		),
	)
	defer span.End()

	tx, err := ms.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var lockedID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM files WHERE id = ? FOR UPDATE`, fileID).Scan(&lockedID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, apperr.NotFoundf("file %s", fileID)
	} else if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to lock file row: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE chunks SET status = ?, hash = ? WHERE file_id = ? AND idx = ? AND status = ?`,
		models.ChunkUploaded, hash, fileID, index, models.ChunkUploading)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to update chunk: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return false, fmt.Errorf("chunk %d of file %s: %w", index, fileID, apperr.ErrAlreadyProcessed)
	}

	var remaining int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE file_id = ? AND status = ?`,
		fileID, models.ChunkUploading).Scan(&remaining)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to count pending chunks: %w", err)
	}

	becameProcessing := false
	if remaining == 0 {
		res, err := tx.ExecContext(ctx,
			`UPDATE files SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			models.FileProcessing, time.Now().UTC(), fileID, models.FileUploading)
		if err != nil {
			span.RecordError(err)
			return false, fmt.Errorf("failed to transition file: %w", err)
		}
		rows, _ := res.RowsAffected()
		becameProcessing = rows == 1
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to commit chunk upload: %w", err)
	}

	span.SetAttributes(
		attribute.Int("chunks_remaining", remaining),
		attribute.Bool("file_processing", becameProcessing),
	)
	return becameProcessing, nil
}

// UpdateFileStatus performs a conditional lifecycle transition and reports
// whether this call applied it.
func (ms *MySQLStore) UpdateFileStatus(ctx context.Context, fileID string, from, to models.FileStatus) (bool, error) {
	ctx, span := tracer.Start(ctx, "mysql.update_file_status",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
			attribute.String("from", string(from)),
			attribute.String("to", string(to)),
		),
	)
	defer span.End()

	res, err := ms.db.ExecContext(ctx,
		`UPDATE files SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now().UTC(), fileID, from)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to update file status: %w", err)
	}
	rows, _ := res.RowsAffected()
	return rows == 1, nil
}

// ReplaceFileChunks swaps the file's chunk list for a new one and updates
// size, hash and compression state in one transaction. Used by the
// compression and deduplication rewrites.
func (ms *MySQLStore) ReplaceFileChunks(ctx context.Context, file *models.File, chunks []*models.Chunk) error {
	ctx, span := tracer.Start(ctx, "mysql.replace_file_chunks",
		trace.WithAttributes(
			attribute.String("file_id", file.ID),
			attribute.Int("chunk_count", len(chunks)),
		),
	)
	defer span.End()

	tx, err := ms.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, file.ID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to clear chunks: %w", err)
	}
	for _, chunk := range chunks {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (file_id, idx, chunk_id, size, hash, status, storage_node_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			file.ID, chunk.Index, chunk.ChunkID, chunk.Size, chunk.Hash, chunk.Status, chunk.StorageNodeID)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to insert chunk %d: %w", chunk.Index, err)
		}
	}

	regions, replicatedTo, err := encodeRegionSets(file)
	if err != nil {
		span.RecordError(err)
		return err
	}
	file.UpdatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE files SET size = ?, hash = ?, status = ?, compressed = ?, chunk_count = ?,
			regions = ?, replicated_to = ?, updated_at = ? WHERE id = ?`,
		file.Size, file.Hash, file.Status, file.Compressed, file.ChunkCount,
		regions, replicatedTo, file.UpdatedAt, file.ID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update file: %w", err)
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to commit chunk replacement: %w", err)
	}
	return nil
}

// RewriteChunkRef points one chunk slot at a canonical chunk's bytes.
func (ms *MySQLStore) RewriteChunkRef(ctx context.Context, fileID string, index int, canonicalChunkID string) error {
	ctx, span := tracer.Start(ctx, "mysql.rewrite_chunk_ref",
		trace.WithAttributes(
			attribute.String("file_id", fileID),
			attribute.Int("chunk_index", index),
			attribute.String("canonical_chunk_id", canonicalChunkID),
		),
	)
	defer span.End()

	_, err := ms.db.ExecContext(ctx,
		`UPDATE chunks SET chunk_id = ? WHERE file_id = ? AND idx = ?`,
		canonicalChunkID, fileID, index)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to rewrite chunk reference: %w", err)
	}
	return nil
}

const selectFileColumns = `SELECT id, name, original_name, mime_type, size, owner_id, status, hash,
	regions, replicated_to, compression_enabled, deduplication_enabled, compressed,
	chunk_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*models.File, error) {
	var file models.File
	var regions, replicatedTo string
	err := row.Scan(&file.ID, &file.Name, &file.OriginalName, &file.MimeType, &file.Size,
		&file.OwnerID, &file.Status, &file.Hash, &regions, &replicatedTo,
		&file.CompressionEnabled, &file.DeduplicationEnabled, &file.Compressed,
		&file.ChunkCount, &file.CreatedAt, &file.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to scan file: %w", err)
	}

	if err := json.Unmarshal([]byte(regions), &file.Regions); err != nil {
		return nil, fmt.Errorf("failed to decode regions: %w", err)
	}
	if err := json.Unmarshal([]byte(replicatedTo), &file.ReplicatedTo); err != nil {
		return nil, fmt.Errorf("failed to decode replicated_to: %w", err)
	}
	return &file, nil
}

func encodeRegionSets(file *models.File) (string, string, error) {
	if file.Regions == nil {
		file.Regions = []string{}
	}
	if file.ReplicatedTo == nil {
		file.ReplicatedTo = []string{}
	}
	regions, err := json.Marshal(file.Regions)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode regions: %w", err)
	}
	replicatedTo, err := json.Marshal(file.ReplicatedTo)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode replicated_to: %w", err)
	}
	return string(regions), string(replicatedTo), nil
}
