package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/codementor/ragindex/internal/config"
	"github.com/codementor/ragindex/internal/llm"
)

// Provider is the interface for embedding providers
type Provider interface {
	// Name returns the model identity. Collections are named after it.
	Name() string

	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates one embedding per text, in order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding size, discovered on first use
	Dimension(ctx context.Context) (int, error)

	// CheckHealth checks if the provider is healthy
	CheckHealth(ctx context.Context) error
}

// NewProvider creates an embedding provider based on configuration
func NewProvider(cfg *config.Config) (Provider, error) {
	ec := cfg.Embedding
	switch ec.Provider {
	case "ollama":
		return NewOllamaProvider(llm.NewClient(cfg.Ollama.Host, ec.CallTimeout()), ec.Model), nil
	case "service":
		return NewServiceProvider(llm.NewServiceClient(ec.Host, ec.CallTimeout()), ec.Model), nil
	case "openai":
		return NewOpenAIProvider(ec)
	case "hugot":
		return NewHugotProvider(ec)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", ec.Provider)
	}
}

// embedOne embeds a single text through a batch call
func embedOne(ctx context.Context, p Provider, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

// probeDimension embeds a short text and measures the result
func probeDimension(ctx context.Context, p Provider) (int, error) {
	v, err := embedOne(ctx, p, "dimension probe")
	if err != nil {
		return 0, fmt.Errorf("failed to probe embedding dimension: %w", err)
	}
	return len(v), nil
}

// dimensionCache remembers the first successfully discovered dimension.
// Failures are not cached.
type dimensionCache struct {
	mu  sync.Mutex
	dim int
}

func (c *dimensionCache) get(ctx context.Context, discover func(context.Context) (int, error)) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dim > 0 {
		return c.dim, nil
	}
	dim, err := discover(ctx)
	if err != nil {
		return 0, err
	}
	if dim <= 0 {
		return 0, errors.New("embedding dimension unavailable")
	}
	c.dim = dim
	return dim, nil
}
