package embedding

import (
	"context"

	"github.com/codementor/ragindex/internal/llm"
)

// ServiceProvider wraps a remote embedding service
type ServiceProvider struct {
	client *llm.ServiceClient
	model  string
	dims   dimensionCache
}

// NewServiceProvider creates a provider backed by the service at client
func NewServiceProvider(client *llm.ServiceClient, model string) *ServiceProvider {
	return &ServiceProvider{client: client, model: model}
}

func (p *ServiceProvider) Name() string {
	return p.model
}

func (p *ServiceProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return embedOne(ctx, p, text)
}

func (p *ServiceProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return p.client.EmbedBatch(ctx, texts)
}

func (p *ServiceProvider) Dimension(ctx context.Context) (int, error) {
	return p.dims.get(ctx, p.client.Dimension)
}

func (p *ServiceProvider) CheckHealth(ctx context.Context) error {
	_, err := p.client.CheckHealth(ctx)
	return err
}
