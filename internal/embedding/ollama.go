package embedding

import (
	"context"

	"github.com/codementor/ragindex/internal/llm"
)

// OllamaProvider embeds through a local Ollama server
type OllamaProvider struct {
	client *llm.Client
	model  string
	dims   dimensionCache
}

// NewOllamaProvider creates a new Ollama embedding provider
func NewOllamaProvider(client *llm.Client, model string) *OllamaProvider {
	return &OllamaProvider{client: client, model: model}
}

func (p *OllamaProvider) Name() string {
	return p.model
}

func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, p, text)
}

func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return p.client.Embed(ctx, p.model, texts)
}

// Dimension asks the server for the model's embedding length and falls back
// to a probe embedding when the metadata has none.
func (p *OllamaProvider) Dimension(ctx context.Context) (int, error) {
	return p.dims.get(ctx, func(ctx context.Context) (int, error) {
		n, err := p.client.EmbeddingLength(ctx, p.model)
		if err == nil && n > 0 {
			return n, nil
		}
		return probeDimension(ctx, p)
	})
}

func (p *OllamaProvider) CheckHealth(ctx context.Context) error {
	return p.client.CheckHealth(ctx)
}
