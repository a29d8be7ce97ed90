// Package testutil provides shared test doubles: a deterministic embedder
// and a scriptable generation provider.
package testutil

import (
	"context"
	"crypto/sha256"
	"sync/atomic"
)

// HashEmbedder produces deterministic embeddings derived from a SHA-256 of
// the input text. Identical text always embeds identically, so similarity
// between a query and a chunk with the same text is exactly 1.0.
//
// Thread-safe for concurrent use.
type HashEmbedder struct {
	Dimension int
	calls     atomic.Int64
}

// NewHashEmbedder creates an embedder with the given output dimension.
func NewHashEmbedder(dimension int) *HashEmbedder {
	return &HashEmbedder{Dimension: dimension}
}

// Embed implements vector.Embedder.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)

	sum := sha256.Sum256([]byte(text))
	embedding := make([]float32, e.Dimension)
	for i := range embedding {
		b := sum[i%len(sum)]
		embedding[i] = (float32(b) - 128) / 128
	}
	return embedding, nil
}

// Calls returns how many times Embed was invoked.
func (e *HashEmbedder) Calls() int64 {
	return e.calls.Load()
}
