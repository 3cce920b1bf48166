package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/DAMMAK/vault-x/internal/models"
)

const (
	// CacheTTL is the time-to-live for cached file metadata (5 minutes)
	CacheTTL = 5 * time.Minute

	// LeaseTTL bounds how long a crashed worker can hold a per-file
	// lease before it expires on its own.
	LeaseTTL = 2 * time.Minute
)

// RedisClient wraps the file-metadata cache and the per-file job leases
// with tracing.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient initializes a new Redis client.
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// Close closes the Redis connection.
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

// Client exposes the underlying connection for the job queue, which shares
// this Redis instance.
func (rc *RedisClient) Client() *redis.Client {
	return rc.client
}

// GetFileMetadata retrieves file metadata from cache with tracing.
func (rc *RedisClient) GetFileMetadata(ctx context.Context, fileID string) (*models.File, error) {
	ctx, span := tracer.Start(ctx, "redis.get_file_metadata",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	key := fmt.Sprintf("file:%s", fileID)
	data, err := rc.client.Get(ctx, key).Result()

	if err == redis.Nil {
		span.SetAttributes(attribute.Bool("cache_hit", false))
		return nil, nil // cache miss, not an error
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	var file models.File
	if err := json.Unmarshal([]byte(data), &file); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal cached data: %w", err)
	}

	span.SetAttributes(attribute.Bool("cache_hit", true))
	return &file, nil
}

// SetFileMetadata stores file metadata in cache with tracing.
func (rc *RedisClient) SetFileMetadata(ctx context.Context, fileID string, file *models.File) error {
	ctx, span := tracer.Start(ctx, "redis.set_file_metadata",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	key := fmt.Sprintf("file:%s", fileID)
	data, err := json.Marshal(file)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal file: %w", err)
	}

	err = rc.client.Set(ctx, key, data, CacheTTL).Err()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set cache: %w", err)
	}

	return nil
}

// InvalidateFileMetadata removes file metadata from cache with tracing.
func (rc *RedisClient) InvalidateFileMetadata(ctx context.Context, fileID string) error {
	ctx, span := tracer.Start(ctx, "redis.invalidate_file_metadata",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	key := fmt.Sprintf("file:%s", fileID)
	err := rc.client.Del(ctx, key).Err()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}

	return nil
}

// AcquireFileLease takes the per-file job lease. Assembly, compression,
// deduplication and replication jobs for one file all read-modify-write the
// same records, so only the lease holder may run; everyone else retries
// through the queue's backoff.
func (rc *RedisClient) AcquireFileLease(ctx context.Context, fileID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "redis.acquire_file_lease",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	key := fmt.Sprintf("lease:file:%s", fileID)
	acquired, err := rc.client.SetNX(ctx, key, "1", LeaseTTL).Result()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}

	span.SetAttributes(attribute.Bool("lease_acquired", acquired))
	return acquired, nil
}

// ReleaseFileLease releases the per-file job lease.
func (rc *RedisClient) ReleaseFileLease(ctx context.Context, fileID string) error {
	ctx, span := tracer.Start(ctx, "redis.release_file_lease",
		trace.WithAttributes(attribute.String("file_id", fileID)),
	)
	defer span.End()

	key := fmt.Sprintf("lease:file:%s", fileID)
	if err := rc.client.Del(ctx, key).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}
