package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// defaultMaxLength is the token limit sent with every batch
const defaultMaxLength = 512

// ServiceClient talks to a self-hosted embedding service exposing
// /embed/batch and /health
type ServiceClient struct {
	host       string
	maxLength  int
	httpClient *http.Client
}

// ServiceBatchRequest represents a batch embedding request
type ServiceBatchRequest struct {
	Texts     []string `json:"texts"`
	MaxLength int      `json:"max_length,omitempty"`
}

// ServiceBatchResponse represents a batch embedding response
type ServiceBatchResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Dimension  int         `json:"dimension"`
	Count      int         `json:"count"`
}

// ServiceHealthResponse is the /health answer. Dimension is the size of the
// vectors the loaded model produces.
type ServiceHealthResponse struct {
	Status    string `json:"status"`
	Model     string `json:"model"`
	Device    string `json:"device"`
	Dimension int    `json:"dimension"`
}

// NewServiceClient creates a new embedding service client
func NewServiceClient(host string, timeout time.Duration) *ServiceClient {
	return &ServiceClient{
		host:       strings.TrimSuffix(host, "/"),
		maxLength:  defaultMaxLength,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// CheckHealth fetches /health and fails unless the service reports "ok"
func (c *ServiceClient) CheckHealth(ctx context.Context) (*ServiceHealthResponse, error) {
	var health ServiceHealthResponse
	if err := doJSON(ctx, c.httpClient, "embedding service", http.MethodGet, c.host+"/health", nil, &health); err != nil {
		return nil, err
	}
	if health.Status != "" && health.Status != "ok" {
		return nil, fmt.Errorf("embedding service is %s", health.Status)
	}
	return &health, nil
}

// EmbedBatch embeds texts in one request, one vector per text in order
func (c *ServiceClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var batch ServiceBatchResponse
	req := ServiceBatchRequest{Texts: texts, MaxLength: c.maxLength}
	if err := doJSON(ctx, c.httpClient, "embedding service", http.MethodPost, c.host+"/embed/batch", req, &batch); err != nil {
		return nil, err
	}
	if len(batch.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d embeddings for %d inputs", len(batch.Embeddings), len(texts))
	}
	return batch.Embeddings, nil
}

// Dimension returns the embedding dimension reported by /health
func (c *ServiceClient) Dimension(ctx context.Context) (int, error) {
	health, err := c.CheckHealth(ctx)
	if err != nil {
		return 0, err
	}
	if health.Dimension <= 0 {
		return 0, fmt.Errorf("embedding service did not report a dimension")
	}
	return health.Dimension, nil
}
