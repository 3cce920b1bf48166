package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DAMMAK/vault-x/internal/chunker"
	"github.com/DAMMAK/vault-x/internal/models"
	"github.com/DAMMAK/vault-x/internal/storage"
)

type dedupFixture struct {
	svc   *DedupService
	store *fakeStore
	blobs *fakeBlobs
}

func newDedupFixture(t *testing.T) *dedupFixture {
	t.Helper()
	store := newFakeStore()
	blobs := newFakeBlobs()
	return &dedupFixture{
		svc:   NewDedupService(store, store, blobs, fakeCache{}),
		store: store,
		blobs: blobs,
	}
}

// seedFile inserts an available file whose hashes are registered in the
// content index, the way assembly and chunk uploads leave them.
func (f *dedupFixture) seedFile(t *testing.T, fileID string, content []byte, indexHashes bool) *models.File {
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
		ID:                   fileID,
		Name:                 fileID + ".bin",
		Size:                 int64(len(content)),
		OwnerID:              testOwner,
		Status:               models.FileAvailable,
		Hash:                 chunker.ComputeHash(content),
		Regions:              []string{"region-east"},
		ReplicatedTo:         []string{},
		DeduplicationEnabled: true,
		ChunkCount:           len(chunks),
	}
	require.NoError(t, f.store.CreateFileWithChunks(ctx, file, chunks))

	if indexHashes {
		require.NoError(t, f.store.IndexFileHash(ctx, file.Hash, fileID))
		for _, c := range chunks {
			require.NoError(t, f.store.IndexChunkHash(ctx, c.Hash, c.ChunkID))
		}
	}
	return file
}

func TestDedupAliasesIdenticalFile(t *testing.T) {
	f := newDedupFixture(t)
	content := []byte("abcdefghij")
	canonical := f.seedFile(t, "file-canonical", content, true)
	duplicate := f.seedFile(t, "file-duplicate", content, true)
	ctx := context.Background()

	require.NoError(t, f.svc.Process(ctx, duplicate.ID, testOwner))

	// The duplicate now references the canonical chunk set.
	chunks, err := f.store.GetChunks(ctx, duplicate.ID)
	require.NoError(t, err)
	canonChunks, err := f.store.GetChunks(ctx, canonical.ID)
	require.NoError(t, err)
	require.Len(t, chunks, len(canonChunks))
	for i := range chunks {
		assert.Equal(t, canonChunks[i].ChunkID, chunks[i].ChunkID)
		assert.Equal(t, duplicate.ID, chunks[i].FileID)
	}

	stored, err := f.store.GetFile(ctx, duplicate.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FileAvailable, stored.Status)
	assert.Equal(t, canonical.Hash, stored.Hash)

	// The displaced chunks are queued for the reclaimer.
	assert.ElementsMatch(t, []string{
		"file-duplicate-chunk-a",
		"file-duplicate-chunk-b",
		"file-duplicate-chunk-c",
	}, f.store.orphans)
}

func TestDedupSkipsDisabledFiles(t *testing.T) {
	f := newDedupFixture(t)
	content := []byte("abcdefghij")
	f.seedFile(t, "file-canonical", content, true)
	duplicate := f.seedFile(t, "file-duplicate", content, true)
	ctx := context.Background()

	duplicate.DeduplicationEnabled = false
	require.NoError(t, f.store.SaveFile(ctx, duplicate))

	require.NoError(t, f.svc.Process(ctx, duplicate.ID, testOwner))

	chunks, err := f.store.GetChunks(ctx, duplicate.ID)
	require.NoError(t, err)
	assert.Equal(t, "file-duplicate-chunk-a", chunks[0].ChunkID)
	assert.Empty(t, f.store.orphans)
}

func TestDedupCanonicalFileIsLeftAlone(t *testing.T) {
	f := newDedupFixture(t)
	content := []byte("abcdefghij")
	canonical := f.seedFile(t, "file-canonical", content, true)
	ctx := context.Background()

	require.NoError(t, f.svc.Process(ctx, canonical.ID, testOwner))

	chunks, err := f.store.GetChunks(ctx, canonical.ID)
	require.NoError(t, err)
	assert.Equal(t, "file-canonical-chunk-a", chunks[0].ChunkID)
	assert.Empty(t, f.store.orphans)
}

func TestDedupSkipsIndexEntryWithoutBytes(t *testing.T) {
	f := newDedupFixture(t)
	ctx := context.Background()

	// The index still names a chunk whose bytes are already reclaimed.
	// Rewriting onto it would leave the file unreadable, so the chunk
	// keeps its own bytes.
	target := f.seedFile(t, "file-target", []byte("abcdZZZZ"), false)
	chunks, err := f.store.GetChunks(ctx, target.ID)
	require.NoError(t, err)
	require.NoError(t, f.store.IndexChunkHash(ctx, chunks[0].Hash, "chunk-reclaimed"))

	require.NoError(t, f.svc.Process(ctx, target.ID, testOwner))

	after, err := f.store.GetChunks(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, "file-target-chunk-a", after[0].ChunkID)
	assert.Empty(t, f.store.orphans)

	// Every referenced chunk still resolves to bytes.
	for _, c := range after {
		data, err := f.blobs.Get(ctx, storage.ChunkKey(c.ChunkID))
		require.NoError(t, err)
		assert.Len(t, data, int(c.Size))
	}
}

func TestDedupRewritesMatchingChunks(t *testing.T) {
	f := newDedupFixture(t)
	ctx := context.Background()

	// Different files, one shared 4-byte chunk ("abcd") at index 0.
	f.seedFile(t, "file-canonical", []byte("abcdefgh"), true)
	target := f.seedFile(t, "file-target", []byte("abcdZZZZ"), false)
	require.NoError(t, f.store.IndexFileHash(ctx, target.Hash, target.ID))

	require.NoError(t, f.svc.Process(ctx, target.ID, testOwner))

	chunks, err := f.store.GetChunks(ctx, target.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "file-canonical-chunk-a", chunks[0].ChunkID)
	assert.Equal(t, "file-target-chunk-b", chunks[1].ChunkID)

	assert.Equal(t, []string{"file-target-chunk-a"}, f.store.orphans)
}
