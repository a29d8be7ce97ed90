package vector

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process chunk store with the same filter and scoring
// semantics as Store. Used by tests and local development without Postgres.
// Safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	embedder Embedder
	chunks   map[string]Chunk
}

// NewMemory creates an empty in-memory store.
func NewMemory(embedder Embedder) *Memory {
	return &Memory{embedder: embedder, chunks: make(map[string]Chunk)}
}

// Search embeds the query and ranks matching chunks by cosine similarity.
func (m *Memory) Search(ctx context.Context, query string, f Filter, topK int, minScore float64) ([]Result, error) {
	embedding, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []Result
	for _, ch := range m.chunks {
		if !f.Matches(ch) {
			continue
		}
		sim := cosineSimilarity(embedding, ch.Embedding)
		if sim < minScore {
			continue
		}
		results = append(results, Result{Chunk: ch, Similarity: sim})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Upsert stores chunks, embedding content for any chunk without a vector.
func (m *Memory) Upsert(ctx context.Context, chunks []Chunk) error {
	for i := range chunks {
		if chunks[i].ID == "" {
			chunks[i].ID = uuid.NewString()
		}
		if chunks[i].Embedding == nil {
			embedding, err := m.embedder.Embed(ctx, chunks[i].Content)
			if err != nil {
				return err
			}
			chunks[i].Embedding = embedding
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range chunks {
		m.chunks[ch.ID] = ch
	}
	return nil
}

// DeleteDocument removes all chunks of a document.
func (m *Memory) DeleteDocument(_ context.Context, documentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.chunks {
		if ch.DocumentID == documentID {
			delete(m.chunks, id)
		}
	}
	return nil
}

// DeleteProject removes all chunks belonging to a project.
func (m *Memory) DeleteProject(_ context.Context, projectID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.chunks {
		if ch.ProjectID == projectID {
			delete(m.chunks, id)
		}
	}
	return nil
}

// Count returns the number of stored chunks.
func (m *Memory) Count(context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.chunks)), nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
