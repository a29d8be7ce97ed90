package vector

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Embedder turns text into a vector. Implemented by GoogleEmbedder in
// production and by a deterministic hash embedder in tests.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GoogleEmbedder generates embeddings via the Gemini embedding API, truncated
// to the configured dimensionality to match the pgvector column width.
type GoogleEmbedder struct {
	client    *genai.Client
	model     string
	dimension int32
}

// NewGoogleEmbedder creates an embedder for the given model and output
// dimensionality.
func NewGoogleEmbedder(client *genai.Client, model string, dimension int) *GoogleEmbedder {
	return &GoogleEmbedder{client: client, model: model, dimension: int32(dimension)}
}

// Embed implements Embedder.
func (e *GoogleEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Models.EmbedContent(ctx, e.model,
		genai.Text(text),
		&genai.EmbedContentConfig{OutputDimensionality: genai.Ptr(e.dimension)},
	)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("empty embedding returned for %d-byte input", len(text))
	}
	return resp.Embeddings[0].Values, nil
}
