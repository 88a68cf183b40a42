package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codementor/ragindex/internal/config"
	"github.com/codementor/ragindex/internal/llm"
)

type ollamaFake struct {
	showLength int
	shows      atomic.Int32
	embeds     atomic.Int32
	failShow   bool
}

func (f *ollamaFake) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/show", func(w http.ResponseWriter, _ *http.Request) {
		f.shows.Add(1)
		if f.failShow {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		info := map[string]any{"general.architecture": "bert"}
		if f.showLength > 0 {
			info["bert.embedding_length"] = f.showLength
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"model_info": info})
	})
	mux.HandleFunc("POST /api/embed", func(w http.ResponseWriter, r *http.Request) {
		f.embeds.Add(1)
		var req llm.EmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := llm.EmbedResponse{Model: req.Model}
		for range req.Input {
			resp.Embeddings = append(resp.Embeddings, make([]float32, 5))
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("Dimension from model metadata is cached", func(t *testing.T) {
		fake := &ollamaFake{showLength: 768}
		p := NewOllamaProvider(llm.NewClient(fake.server(t).URL, 5*time.Second), "nomic-embed-text:latest")

		for i := 0; i < 3; i++ {
			dim, err := p.Dimension(ctx)
			require.NoError(t, err)
			assert.Equal(t, 768, dim)
		}
		assert.EqualValues(t, 1, fake.shows.Load())
		assert.Zero(t, fake.embeds.Load())
		assert.Equal(t, "nomic-embed-text:latest", p.Name())
	})

	t.Run("Falls back to embedding a sample text", func(t *testing.T) {
		fake := &ollamaFake{failShow: true}
		p := NewOllamaProvider(llm.NewClient(fake.server(t).URL, 5*time.Second), "m")

		dim, err := p.Dimension(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, dim)
		assert.EqualValues(t, 1, fake.embeds.Load())
	})

	t.Run("Embed and health", func(t *testing.T) {
		fake := &ollamaFake{}
		p := NewOllamaProvider(llm.NewClient(fake.server(t).URL, 5*time.Second), "m")

		v, err := p.Embed(ctx, "hello")
		require.NoError(t, err)
		assert.Len(t, v, 5)
		assert.NoError(t, p.CheckHealth(ctx))
	})

	t.Run("Unreachable server does not cache a dimension", func(t *testing.T) {
		p := NewOllamaProvider(llm.NewClient("http://127.0.0.1:1", time.Second), "m")
		_, err := p.Dimension(ctx)
		assert.Error(t, err)
		_, err = p.Dimension(ctx)
		assert.Error(t, err)
	})
}

func TestOpenAIProvider(t *testing.T) {
	ctx := context.Background()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// answer out of order
		var data []map[string]any
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(i), 0, 0},
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": "text-embedding-3-small"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	t.Setenv("RAGINDEX_TEST_OPENAI_KEY", "test-key")
	cfg := config.DefaultConfig().Embedding
	cfg.Provider = "openai"
	cfg.Model = "text-embedding-3-small"
	cfg.OpenAI.BaseURL = srv.URL + "/v1"
	cfg.OpenAI.APIKeyEnv = "RAGINDEX_TEST_OPENAI_KEY"

	p, err := NewOpenAIProvider(cfg)
	require.NoError(t, err)

	vecs, err := p.EmbedBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, v := range vecs {
		assert.Equal(t, float32(i), v[0])
	}

	dim, err := p.Dimension(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, dim)

	t.Run("Missing key", func(t *testing.T) {
		cfg.OpenAI.APIKeyEnv = "RAGINDEX_TEST_UNSET_KEY"
		_, err := NewOpenAIProvider(cfg)
		assert.Error(t, err)
	})
}

func TestOpenAIProviderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	t.Setenv("RAGINDEX_TEST_OPENAI_KEY", "test-key")
	cfg := config.DefaultConfig().Embedding
	cfg.Model = "text-embedding-3-small"
	cfg.Timeout = 1
	cfg.OpenAI.BaseURL = srv.URL + "/v1"
	cfg.OpenAI.APIKeyEnv = "RAGINDEX_TEST_OPENAI_KEY"

	p, err := NewOpenAIProvider(cfg)
	require.NoError(t, err)

	start := time.Now()
	_, err = p.EmbedBatch(context.Background(), []string{"slow"})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestNewProvider(t *testing.T) {
	cfg := config.DefaultConfig()

	p, err := NewProvider(cfg)
	require.NoError(t, err)
	assert.IsType(t, &OllamaProvider{}, p)
	assert.Equal(t, cfg.Embedding.Model, p.Name())

	cfg.Embedding.Provider = "service"
	p, err = NewProvider(cfg)
	require.NoError(t, err)
	assert.IsType(t, &ServiceProvider{}, p)

	cfg.Embedding.Provider = "word2vec"
	_, err = NewProvider(cfg)
	assert.Error(t, err)
}

func TestHugotProvider(t *testing.T) {
	if testing.Short() || os.Getenv("RAGINDEX_TEST_HUGOT") == "" {
		t.Skip("set RAGINDEX_TEST_HUGOT=1 to run (downloads a model)")
	}

	cfg := config.DefaultConfig().Embedding
	cfg.Model = "sentence-transformers/all-MiniLM-L6-v2"
	cfg.Hugot.ModelDir = t.TempDir()

	p, err := NewHugotProvider(cfg)
	require.NoError(t, err)
	defer p.Close()

	dim, err := p.Dimension(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 384, dim)
}
