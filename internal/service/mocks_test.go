package service

import (
	"context"
	"sort"
	"sync"

	"github.com/DAMMAK/vault-x/internal/apperr"
	"github.com/DAMMAK/vault-x/internal/models"
)

// fakeStore is an in-memory stand-in for the MySQL store. It mirrors the
// store's contractual behavior: owner mismatches read as not-found,
// conditional transitions report whether they won, and returned records
// are copies so callers cannot mutate shared state.
type fakeStore struct {
	mu          sync.Mutex
	files       map[string]*models.File
	chunks      map[string][]*models.Chunk
	regions     []*models.Region
	nodes       []*models.StorageNode
	fileHashes  map[string]string
	chunkHashes map[string]string
	orphans     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		files:       make(map[string]*models.File),
		chunks:      make(map[string][]*models.Chunk),
		fileHashes:  make(map[string]string),
		chunkHashes: make(map[string]string),
	}
}

func copyFile(f *models.File) *models.File {
	out := *f
	out.Regions = append([]string{}, f.Regions...)
	out.ReplicatedTo = append([]string{}, f.ReplicatedTo...)
	return &out
}

func copyChunks(chunks []*models.Chunk) []*models.Chunk {
	out := make([]*models.Chunk, len(chunks))
	for i, c := range chunks {
		copied := *c
		out[i] = &copied
	}
	return out
}

func (s *fakeStore) CreateFileWithChunks(ctx context.Context, file *models.File, chunks []*models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[file.ID] = copyFile(file)
	s.chunks[file.ID] = copyChunks(chunks)
	return nil
}

func (s *fakeStore) GetFile(ctx context.Context, fileID string) (*models.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, ok := s.files[fileID]
	if !ok {
		return nil, apperr.NotFoundf("file %s", fileID)
	}
	return copyFile(file), nil
}

func (s *fakeStore) GetFileForOwner(ctx context.Context, fileID, ownerID string) (*models.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, ok := s.files[fileID]
	if !ok || file.OwnerID != ownerID {
		return nil, apperr.NotFoundf("file %s", fileID)
	}
	return copyFile(file), nil
}

func (s *fakeStore) ListFilesByOwner(ctx context.Context, ownerID string) ([]*models.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.File
	for _, f := range s.files {
		if f.OwnerID == ownerID {
			out = append(out, copyFile(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) SaveFile(ctx context.Context, file *models.File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[file.ID]; !ok {
		return apperr.NotFoundf("file %s", file.ID)
	}
	s.files[file.ID] = copyFile(file)
	return nil
}

func (s *fakeStore) DeleteFile(ctx context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[fileID]; !ok {
		return apperr.NotFoundf("file %s", fileID)
	}
	delete(s.files, fileID)
	delete(s.chunks, fileID)
	for hash, id := range s.fileHashes {
		if id == fileID {
			delete(s.fileHashes, hash)
		}
	}
	return nil
}

func (s *fakeStore) GetChunks(ctx context.Context, fileID string) ([]*models.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chunks := copyChunks(s.chunks[fileID])
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Index < chunks[j].Index })
	return chunks, nil
}

func (s *fakeStore) GetChunk(ctx context.Context, fileID string, index int) (*models.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chunks[fileID] {
		if c.Index == index {
			copied := *c
			return &copied, nil
		}
	}
	return nil, apperr.NotFoundf("chunk %d of file %s", index, fileID)
}

func (s *fakeStore) MarkChunkUploaded(ctx context.Context, fileID string, index int, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var target *models.Chunk
	for _, c := range s.chunks[fileID] {
		if c.Index == index {
			target = c
			break
		}
	}
	if target == nil {
		return false, apperr.NotFoundf("chunk %d of file %s", index, fileID)
	}
	if target.Status != models.ChunkUploading {
		return false, apperr.ErrAlreadyProcessed
	}
	target.Status = models.ChunkUploaded
	target.Hash = hash

	for _, c := range s.chunks[fileID] {
		if c.Status != models.ChunkUploaded {
			return false, nil
		}
	}
	file := s.files[fileID]
	if file.Status != models.FileUploading {
		return false, nil
	}
	file.Status = models.FileProcessing
	return true, nil
}

func (s *fakeStore) UpdateFileStatus(ctx context.Context, fileID string, from, to models.FileStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, ok := s.files[fileID]
	if !ok || file.Status != from {
		return false, nil
	}
	file.Status = to
	return true, nil
}

func (s *fakeStore) ReplaceFileChunks(ctx context.Context, file *models.File, chunks []*models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[file.ID]; !ok {
		return apperr.NotFoundf("file %s", file.ID)
	}
	s.files[file.ID] = copyFile(file)
	s.chunks[file.ID] = copyChunks(chunks)
	return nil
}

func (s *fakeStore) RewriteChunkRef(ctx context.Context, fileID string, index int, canonicalChunkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chunks[fileID] {
		if c.Index == index {
			c.ChunkID = canonicalChunkID
			return nil
		}
	}
	return apperr.NotFoundf("chunk %d of file %s", index, fileID)
}

// RegionStore

func (s *fakeStore) CreateRegion(ctx context.Context, region *models.Region) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *region
	s.regions = append(s.regions, &copied)
	return nil
}

func (s *fakeStore) GetRegion(ctx context.Context, regionID string) (*models.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.regions {
		if r.ID == regionID {
			copied := *r
			return &copied, nil
		}
	}
	return nil, apperr.NotFoundf("region %s", regionID)
}

func (s *fakeStore) GetRegionByName(ctx context.Context, name string) (*models.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.regions {
		if r.Name == name && r.Active {
			copied := *r
			return &copied, nil
		}
	}
	return nil, apperr.NotFoundf("region %s", name)
}

func (s *fakeStore) ListActiveRegions(ctx context.Context) ([]*models.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Region
	for _, r := range s.regions {
		if r.Active {
			copied := *r
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeStore) DeactivateRegion(ctx context.Context, regionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.regions {
		if r.ID == regionID {
			r.Active = false
			return nil
		}
	}
	return apperr.NotFoundf("region %s", regionID)
}

// NodeStore

func (s *fakeStore) CreateStorageNode(ctx context.Context, node *models.StorageNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *node
	s.nodes = append(s.nodes, &copied)
	return nil
}

func (s *fakeStore) GetStorageNode(ctx context.Context, nodeID string) (*models.StorageNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.ID == nodeID {
			copied := *n
			return &copied, nil
		}
	}
	return nil, apperr.NotFoundf("storage node %s", nodeID)
}

func (s *fakeStore) ListOnlineNodes(ctx context.Context, regionID string) ([]*models.StorageNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.StorageNode
	for _, n := range s.nodes {
		if n.RegionID == regionID && n.Status == models.NodeOnline {
			copied := *n
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateNodeStatus(ctx context.Context, nodeID string, status models.NodeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.ID == nodeID {
			n.Status = status
			return nil
		}
	}
	return apperr.NotFoundf("storage node %s", nodeID)
}

func (s *fakeStore) ReserveNodeCapacity(ctx context.Context, nodeID string, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.ID == nodeID {
			if n.Available < size {
				return apperr.ErrCapacityExhausted
			}
			n.Available -= size
			return nil
		}
	}
	return apperr.NotFoundf("storage node %s", nodeID)
}

func (s *fakeStore) ReleaseNodeCapacity(ctx context.Context, nodeID string, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.ID == nodeID {
			n.Available += size
			if n.Available > n.Capacity {
				n.Available = n.Capacity
			}
			return nil
		}
	}
	return apperr.NotFoundf("storage node %s", nodeID)
}

// HashIndex. First write wins, matching INSERT IGNORE.

func (s *fakeStore) IndexFileHash(ctx context.Context, hash, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fileHashes[hash]; !ok {
		s.fileHashes[hash] = fileID
	}
	return nil
}

func (s *fakeStore) LookupFileByHash(ctx context.Context, hash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileHashes[hash], nil
}

func (s *fakeStore) IndexChunkHash(ctx context.Context, hash, chunkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chunkHashes[hash]; !ok {
		s.chunkHashes[hash] = chunkID
	}
	return nil
}

func (s *fakeStore) LookupChunkByHash(ctx context.Context, hash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunkHashes[hash], nil
}

func (s *fakeStore) AddOrphanCandidate(ctx context.Context, chunkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orphans = append(s.orphans, chunkID)
	return nil
}

// fakeBlobs is an in-memory object store.
type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (b *fakeBlobs) Put(ctx context.Context, objectKey string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[objectKey] = append([]byte{}, data...)
	return nil
}

func (b *fakeBlobs) Get(ctx context.Context, objectKey string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[objectKey]
	if !ok {
		return nil, apperr.NotFoundf("object %s", objectKey)
	}
	return append([]byte{}, data...), nil
}

func (b *fakeBlobs) Exists(ctx context.Context, objectKey string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[objectKey]
	return ok, nil
}

func (b *fakeBlobs) Delete(ctx context.Context, objectKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, objectKey)
	return nil
}

// fakeLeaser hands out per-file leases; pre-populate held to simulate a
// lease owned by someone else.
type fakeLeaser struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired []string
	released []string
}

func newFakeLeaser() *fakeLeaser {
	return &fakeLeaser{held: make(map[string]bool)}
}

func (l *fakeLeaser) AcquireFileLease(ctx context.Context, fileID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[fileID] {
		return false, nil
	}
	l.held[fileID] = true
	l.acquired = append(l.acquired, fileID)
	return true, nil
}

func (l *fakeLeaser) ReleaseFileLease(ctx context.Context, fileID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, fileID)
	l.released = append(l.released, fileID)
	return nil
}

// fakeCache never hits; writes are accepted and dropped.
type fakeCache struct{}

func (fakeCache) GetFileMetadata(ctx context.Context, fileID string) (*models.File, error) {
	return nil, nil
}

func (fakeCache) SetFileMetadata(ctx context.Context, fileID string, file *models.File) error {
	return nil
}

func (fakeCache) InvalidateFileMetadata(ctx context.Context, fileID string) error {
	return nil
}

// enqueued records one queued job.
type enqueued struct {
	Queue   string
	Payload any
}

// fakeQueue records enqueued jobs without running them.
type fakeQueue struct {
	mu   sync.Mutex
	jobs []enqueued
}

func (q *fakeQueue) Enqueue(ctx context.Context, name string, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, enqueued{Queue: name, Payload: payload})
	return nil
}

func (q *fakeQueue) all() []enqueued {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]enqueued{}, q.jobs...)
}

func (q *fakeQueue) byQueue(name string) []enqueued {
	var out []enqueued
	for _, j := range q.all() {
		if j.Queue == name {
			out = append(out, j)
		}
	}
	return out
}
