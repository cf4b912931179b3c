package embed

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/tiermem/metric"
)

// Compile-time check
var _ Embedder = (*HashEmbedder)(nil)

// HashEmbedder generates deterministic embeddings derived from a SHA256
// hash of the text, so the same text always produces the same vector. It
// has no semantic quality and exists for tests and offline development.
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder creates a deterministic embedder with the given
// dimension.
func NewHashEmbedder(dimension int) *HashEmbedder {
	return &HashEmbedder{dimension: dimension}
}

// Embed generates a deterministic embedding for a single text.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, e.dimension)

	seed := sha256.Sum256([]byte(text))
	buf := seed[:]

	for i := 0; i < e.dimension; i++ {
		if i*4+4 > len(buf) {
			next := sha256.Sum256(buf)
			buf = append(buf, next[:]...)
		}
		bits := binary.BigEndian.Uint32(buf[i*4 : i*4+4])
		// Map to [-1, 1)
		v[i] = float32(int32(bits)) / float32(1<<31)
	}

	return metric.Normalize(v), nil
}

// EmbedBatch generates deterministic embeddings for multiple texts.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}

	return vectors, nil
}

// Dimension returns the dimensionality of embedding vectors.
func (e *HashEmbedder) Dimension() int { return e.dimension }

// Model returns the name of the embedding model.
func (e *HashEmbedder) Model() string {
	return fmt.Sprintf("hash-%d", e.dimension)
}
