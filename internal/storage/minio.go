package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("vaultx-storage")

// MinioClient wraps chunk blob operations with tracing. Chunk bytes are
// keyed by chunk ID; replicas copied to a storage node live under a
// node-scoped prefix, which stands in for the real inter-node transport.
type MinioClient struct {
	client     *minio.Client
	bucketName string
}

// NewMinioClient initializes a new MinIO client.
func NewMinioClient(endpoint, accessKey, secretKey, bucketName string, useSSL bool) (*MinioClient, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	mc := &MinioClient{
		client:     client,
		bucketName: bucketName,
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		log.Printf("Creating bucket: %s", bucketName)
		err = client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		log.Printf("Bucket %s created successfully", bucketName)
	}

	return mc, nil
}

// ChunkKey is the object key for a chunk's primary bytes.
func ChunkKey(chunkID string) string {
	return fmt.Sprintf("chunks/%s", chunkID)
}

// NodeChunkKey is the object key for a chunk replica on a storage node.
func NodeChunkKey(nodeID, chunkID string) string {
	return fmt.Sprintf("nodes/%s/chunks/%s", nodeID, chunkID)
}

// Put uploads a blob with tracing.
func (mc *MinioClient) Put(ctx context.Context, objectKey string, data []byte) error {
	ctx, span := tracer.Start(ctx, "minio.put",
		trace.WithAttributes(
			attribute.String("object_key", objectKey),
			attribute.Int("size_bytes", len(data)),
		),
	)
	defer span.End()

	reader := bytes.NewReader(data)
	_, err := mc.client.PutObject(ctx, mc.bucketName, objectKey, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})

	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to upload object: %w", err)
	}

	span.SetAttributes(attribute.Bool("upload_success", true))
	return nil
}

// Get downloads a blob with tracing.
func (mc *MinioClient) Get(ctx context.Context, objectKey string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "minio.get",
		trace.WithAttributes(attribute.String("object_key", objectKey)),
	)
	defer span.End()

	object, err := mc.client.GetObject(ctx, mc.bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read object data: %w", err)
	}

	span.SetAttributes(
		attribute.Int("size_bytes", len(data)),
		attribute.Bool("download_success", true),
	)
	return data, nil
}

// Exists reports whether a blob is present without fetching its bytes.
func (mc *MinioClient) Exists(ctx context.Context, objectKey string) (bool, error) {
	ctx, span := tracer.Start(ctx, "minio.exists",
		trace.WithAttributes(attribute.String("object_key", objectKey)),
	)
	defer span.End()

	_, err := mc.client.StatObject(ctx, mc.bucketName, objectKey, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		span.RecordError(err)
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}

// Delete removes a blob.
func (mc *MinioClient) Delete(ctx context.Context, objectKey string) error {
	ctx, span := tracer.Start(ctx, "minio.delete",
		trace.WithAttributes(attribute.String("object_key", objectKey)),
	)
	defer span.End()

	err := mc.client.RemoveObject(ctx, mc.bucketName, objectKey, minio.RemoveObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}
