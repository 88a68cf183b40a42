package embedding

import (
	"context"
	"fmt"
	"net/http"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/codementor/ragindex/internal/config"
)

// OpenAIProvider uses an OpenAI-compatible embeddings endpoint
type OpenAIProvider struct {
	client *openai.Client
	model  string
	dims   dimensionCache
}

// NewOpenAIProvider creates a provider reading its API key from the
// environment variable named in cfg. Every request is bounded by the
// embedding timeout.
func NewOpenAIProvider(cfg config.EmbeddingConfig) (*OpenAIProvider, error) {
	key := os.Getenv(cfg.OpenAI.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%s environment variable not set", cfg.OpenAI.APIKeyEnv)
	}

	clientConfig := openai.DefaultConfig(key)
	if cfg.OpenAI.BaseURL != "" {
		clientConfig.BaseURL = cfg.OpenAI.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.CallTimeout()}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return p.model
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, p, text)
}

// EmbedBatch sends all texts in one request. The response is reordered by
// its index field.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(p.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) || out[d.Index] != nil {
			return nil, fmt.Errorf("openai returned an unexpected embedding index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (p *OpenAIProvider) Dimension(ctx context.Context) (int, error) {
	return p.dims.get(ctx, func(ctx context.Context) (int, error) {
		return probeDimension(ctx, p)
	})
}

// CheckHealth makes sure the configured model is listed by the endpoint
func (p *OpenAIProvider) CheckHealth(ctx context.Context) error {
	_, err := p.client.GetModel(ctx, p.model)
	if err != nil {
		return fmt.Errorf("openai model %s not accessible: %w", p.model, err)
	}
	return nil
}
