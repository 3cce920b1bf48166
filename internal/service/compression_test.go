package service

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DAMMAK/vault-x/internal/chunker"
	"github.com/DAMMAK/vault-x/internal/models"
	"github.com/DAMMAK/vault-x/internal/storage"
)

type compressionFixture struct {
	svc   *CompressionService
	store *fakeStore
	blobs *fakeBlobs
}

func newCompressionFixture(t *testing.T) *compressionFixture {
	t.Helper()
	store := newFakeStore()
	blobs := newFakeBlobs()
	return &compressionFixture{
		svc:   NewCompressionService(store, blobs, store, fakeCache{}, chunker.NewChunker(4)),
		store: store,
		blobs: blobs,
	}
}

func (f *compressionFixture) seedFile(t *testing.T, fileID string, content []byte) *models.File {
	t.Helper()
	ctx := context.Background()
	parts := chunker.NewChunker(4).Split(content)

	chunks := make([]*models.Chunk, len(parts))
	for i, part := range parts {
		chunks[i] = &models.Chunk{
			ChunkID: fileID + "-chunk-" + string(rune('a'+i)),
			FileID:  fileID,
			Index:   part.Index,
			Size:    part.Size,
			Hash:    part.Hash,
			Status:  models.ChunkUploaded,
		}
		require.NoError(t, f.blobs.Put(ctx, storage.ChunkKey(chunks[i].ChunkID), part.Data))
	}

	file := &models.File{
		ID:                 fileID,
		Name:               fileID + ".bin",
		Size:               int64(len(content)),
		OwnerID:            testOwner,
		Status:             models.FileAvailable,
		Hash:               chunker.ComputeHash(content),
		Regions:            []string{"region-east"},
		ReplicatedTo:       []string{},
		CompressionEnabled: true,
		ChunkCount:         len(chunks),
	}
	require.NoError(t, f.store.CreateFileWithChunks(ctx, file, chunks))
	return file
}

func TestCompressRoundTrip(t *testing.T) {
	f := newCompressionFixture(t)
	data := bytes.Repeat([]byte("vault-x stores files in chunks. "), 64)

	compressed, err := f.svc.Compress(context.Background(), data)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(data))

	out, err := f.svc.Decompress(context.Background(), compressed)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, out))
}

func TestProcessRechunksCompressedBytes(t *testing.T) {
	f := newCompressionFixture(t)
	// Large enough that the gzip header and framing cannot outweigh the
	// savings on the repeated text.
	content := bytes.Repeat([]byte("vault-x stores files in chunks. "), 128)
	file := f.seedFile(t, "file-1", content)
	ctx := context.Background()
	oldCount := file.ChunkCount

	require.NoError(t, f.svc.Process(ctx, file.ID, testOwner))

	stored, err := f.store.GetFile(ctx, file.ID)
	require.NoError(t, err)
	assert.True(t, stored.Compressed)
	assert.Equal(t, models.FileAvailable, stored.Status)
	assert.Less(t, stored.Size, file.Size)

	chunks, err := f.store.GetChunks(ctx, file.ID)
	require.NoError(t, err)
	require.Len(t, chunks, stored.ChunkCount)

	// The new chunk set carries the compressed bytes and round-trips to
	// the original content.
	var assembled []byte
	for _, c := range chunks {
		assert.Equal(t, models.ChunkUploaded, c.Status)
		data, err := f.blobs.Get(ctx, storage.ChunkKey(c.ChunkID))
		require.NoError(t, err)
		assert.Equal(t, int64(len(data)), c.Size)
		assembled = append(assembled, data...)
	}
	assert.Equal(t, chunker.ComputeHash(assembled), stored.Hash)

	out, err := f.svc.Decompress(ctx, assembled)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, out))

	// Every original chunk is handed to the reclaimer.
	assert.Len(t, f.store.orphans, oldCount)
}

func TestProcessSkipsDisabledAndCompressedFiles(t *testing.T) {
	f := newCompressionFixture(t)
	ctx := context.Background()

	t.Run("compression disabled", func(t *testing.T) {
		file := f.seedFile(t, "file-plain", []byte("abcdefgh"))
		file.CompressionEnabled = false
		require.NoError(t, f.store.SaveFile(ctx, file))

		require.NoError(t, f.svc.Process(ctx, file.ID, testOwner))

		stored, err := f.store.GetFile(ctx, file.ID)
		require.NoError(t, err)
		assert.False(t, stored.Compressed)
		assert.Equal(t, file.Hash, stored.Hash)
	})

	t.Run("already compressed", func(t *testing.T) {
		file := f.seedFile(t, "file-done", []byte("abcdefgh"))
		file.Compressed = true
		require.NoError(t, f.store.SaveFile(ctx, file))

		before, err := f.store.GetChunks(ctx, file.ID)
		require.NoError(t, err)

		require.NoError(t, f.svc.Process(ctx, file.ID, testOwner))

		after, err := f.store.GetChunks(ctx, file.ID)
		require.NoError(t, err)
		assert.Equal(t, before[0].ChunkID, after[0].ChunkID)
	})
}
