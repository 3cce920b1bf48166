package chunker

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/DAMMAK/vault-x/internal/models"
)

// Chunker computes chunk plans and splits byte streams into fixed-size
// chunks. Every chunk has the configured size except the last, which holds
// the remainder.
type Chunker struct {
	chunkSize int64
}

// NewChunker creates a new chunker with the specified chunk size.
func NewChunker(chunkSize int64) *Chunker {
	return &Chunker{chunkSize: chunkSize}
}

// ChunkSize returns the configured chunk size in bytes.
func (c *Chunker) ChunkSize() int64 {
	return c.chunkSize
}

// Count returns the number of chunks needed for a file of totalSize bytes.
func (c *Chunker) Count(totalSize int64) int {
	if totalSize <= 0 {
		return 0
	}
	return int((totalSize + c.chunkSize - 1) / c.chunkSize)
}

// Plan returns the size of every chunk for a file of totalSize bytes, in
// index order. The invariant is size(i) = min(chunkSize, total - i*chunkSize).
func (c *Chunker) Plan(totalSize int64) []int64 {
	count := c.Count(totalSize)
	sizes := make([]int64, count)
	for i := 0; i < count; i++ {
		size := totalSize - int64(i)*c.chunkSize
		if size > c.chunkSize {
			size = c.chunkSize
		}
		sizes[i] = size
	}
	return sizes
}

// Split cuts data into chunks of the configured size and hashes each one.
func (c *Chunker) Split(data []byte) []*models.ChunkData {
	var chunks []*models.ChunkData
	total := int64(len(data))
	for index, size := range c.Plan(total) {
		start := int64(index) * c.chunkSize
		part := data[start : start+size]
		chunks = append(chunks, &models.ChunkData{
			Data:  part,
			Index: index,
			Hash:  ComputeHash(part),
			Size:  size,
		})
	}
	return chunks
}

// ComputeHash computes the SHA256 hash of data as lowercase hex.
func ComputeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Reassemble combines chunks in slice order into a single byte sequence.
func Reassemble(chunks [][]byte) []byte {
	totalSize := 0
	for _, chunk := range chunks {
		totalSize += len(chunk)
	}

	result := make([]byte, 0, totalSize)
	for _, chunk := range chunks {
		result = append(result, chunk...)
	}
	return result
}

// VerifyChunkHash reports whether chunk data matches the expected hash.
func VerifyChunkHash(data []byte, expectedHash string) bool {
	return ComputeHash(data) == expectedHash
}
