package chunker

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultChunkSize = 5 * 1024 * 1024

func TestPlan(t *testing.T) {
	c := NewChunker(defaultChunkSize)

	sizes := c.Plan(12_000_000)
	require.Equal(t, []int64{5242880, 5242880, 1514240}, sizes)

	var sum int64
	for _, s := range sizes {
		sum += s
	}
	assert.Equal(t, int64(12_000_000), sum)
}

func TestPlanExactMultiple(t *testing.T) {
	c := NewChunker(defaultChunkSize)
	sizes := c.Plan(2 * defaultChunkSize)
	require.Len(t, sizes, 2)
	assert.Equal(t, int64(defaultChunkSize), sizes[0])
	assert.Equal(t, int64(defaultChunkSize), sizes[1])
}

func TestPlanSmallFile(t *testing.T) {
	c := NewChunker(defaultChunkSize)
	assert.Equal(t, []int64{17}, c.Plan(17))
	assert.Empty(t, c.Plan(0))
}

func TestSplitReassembleRoundTrip(t *testing.T) {
	c := NewChunker(1024)

	data := make([]byte, 10*1024+311)
	_, err := rand.New(rand.NewSource(42)).Read(data)
	require.NoError(t, err)

	chunks := c.Split(data)
	require.Len(t, chunks, 11)

	parts := make([][]byte, len(chunks))
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.Equal(t, int64(len(chunk.Data)), chunk.Size)
		assert.True(t, VerifyChunkHash(chunk.Data, chunk.Hash))
		parts[i] = chunk.Data
	}

	assembled := Reassemble(parts)
	require.True(t, bytes.Equal(data, assembled))

	want := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(want[:]), ComputeHash(assembled))
}

func TestVerifyChunkHashMismatch(t *testing.T) {
	data := []byte("hello world")
	hash := ComputeHash(data)

	tampered := append([]byte(nil), data...)
	tampered[0] ^= 0x01
	assert.False(t, VerifyChunkHash(tampered, hash))
}
