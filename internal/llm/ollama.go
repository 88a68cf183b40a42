package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// EmbedRequest represents a request to the batch embedding API
type EmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// EmbedResponse represents a response with one embedding per input
type EmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// ShowRequest asks for the metadata of a local model
type ShowRequest struct {
	Model string `json:"model"`
}

// ShowResponse is the part of /api/show the client reads
type ShowResponse struct {
	ModelInfo map[string]any `json:"model_info"`
}

// Client is an Ollama API client
type Client struct {
	host       string
	httpClient *http.Client
}

// NewClient creates a new Ollama client. Every request is bounded by timeout.
func NewClient(host string, timeout time.Duration) *Client {
	return &Client{
		host: strings.TrimSuffix(host, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Host returns the base URL of the server
func (c *Client) Host() string {
	return c.host
}

// Embed generates one embedding per text in a single request
func (c *Client) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var embResp EmbedResponse
	if err := c.post(ctx, "/api/embed", EmbedRequest{Model: model, Input: texts}, &embResp); err != nil {
		return nil, err
	}

	if len(embResp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(embResp.Embeddings), len(texts))
	}
	return embResp.Embeddings, nil
}

// EmbeddingLength reads the embedding size of model from its metadata. It
// returns 0 without error when the model does not advertise one.
func (c *Client) EmbeddingLength(ctx context.Context, model string) (int, error) {
	var show ShowResponse
	if err := c.post(ctx, "/api/show", ShowRequest{Model: model}, &show); err != nil {
		return 0, err
	}

	arch, _ := show.ModelInfo["general.architecture"].(string)
	if arch == "" {
		return 0, nil
	}
	// JSON numbers decode as float64
	if n, ok := show.ModelInfo[arch+".embedding_length"].(float64); ok {
		return int(n), nil
	}
	return 0, nil
}

// CheckHealth checks if Ollama is running and accessible
func (c *Client) CheckHealth(ctx context.Context) error {
	return doJSON(ctx, c.httpClient, "ollama", http.MethodGet, c.host+"/api/tags", nil, nil)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	return doJSON(ctx, c.httpClient, "ollama", http.MethodPost, c.host+path, in, out)
}
