package inference

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Provider is the remote text-generation capability. Implementations fail
// with errors classifiable as transient, rate-limited, or provider-reported;
// the Client maps those onto its error taxonomy.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// GenerationParams are the sampling settings passed to the provider.
type GenerationParams struct {
	Model       string
	Temperature float32
	TopP        float32
	MaxTokens   int32
}

// DefaultGenerationParams returns the production sampling defaults.
func DefaultGenerationParams(model string) GenerationParams {
	return GenerationParams{
		Model:       model,
		Temperature: 0.3,
		TopP:        0.95,
		MaxTokens:   1024,
	}
}

// GoogleProvider generates text via the Gemini API.
type GoogleProvider struct {
	client *genai.Client
	params GenerationParams
}

// NewGoogleProvider creates a provider using the given client and sampling
// parameters.
func NewGoogleProvider(client *genai.Client, params GenerationParams) *GoogleProvider {
	return &GoogleProvider{client: client, params: params}
}

// Complete implements Provider.
func (p *GoogleProvider) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.Models.GenerateContent(ctx, p.params.Model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			Temperature:     genai.Ptr(p.params.Temperature),
			TopP:            genai.Ptr(p.params.TopP),
			MaxOutputTokens: p.params.MaxTokens,
		},
	)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from model %s", p.params.Model)
	}
	return text, nil
}
