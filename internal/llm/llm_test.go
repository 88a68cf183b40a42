package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req EmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Model != "nomic-embed-text" {
			http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
			return
		}
		resp := EmbedResponse{Model: req.Model}
		for i := range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{float32(i), 1, 0})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("POST /api/show", func(w http.ResponseWriter, r *http.Request) {
		var req ShowRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		info := map[string]any{}
		if req.Model == "nomic-embed-text" {
			info["general.architecture"] = "nomic-bert"
			info["nomic-bert.embedding_length"] = 768
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"model_info": info})
	})
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"models":[]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient(t *testing.T) {
	ctx := context.Background()
	srv := fakeOllama(t)
	c := NewClient(srv.URL, 5*time.Second)

	t.Run("Embed sends one request for the whole batch", func(t *testing.T) {
		vecs, err := c.Embed(ctx, "nomic-embed-text", []string{"a", "b", "c"})
		require.NoError(t, err)
		require.Len(t, vecs, 3)
		assert.Equal(t, []float32{2, 1, 0}, vecs[2])
	})

	t.Run("Empty input makes no request", func(t *testing.T) {
		vecs, err := NewClient("http://127.0.0.1:1", time.Second).Embed(ctx, "m", nil)
		require.NoError(t, err)
		assert.Empty(t, vecs)
	})

	t.Run("Error status carries the body", func(t *testing.T) {
		_, err := c.Embed(ctx, "missing", []string{"a"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 404")
		assert.Contains(t, err.Error(), "model not found")
	})

	t.Run("Embedding length from model info", func(t *testing.T) {
		n, err := c.EmbeddingLength(ctx, "nomic-embed-text")
		require.NoError(t, err)
		assert.Equal(t, 768, n)

		n, err = c.EmbeddingLength(ctx, "llama3")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Health", func(t *testing.T) {
		assert.NoError(t, c.CheckHealth(ctx))
		assert.Error(t, NewClient("http://127.0.0.1:1", time.Second).CheckHealth(ctx))
	})
}

func TestServiceClient(t *testing.T) {
	ctx := context.Background()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /embed/batch", func(w http.ResponseWriter, r *http.Request) {
		var req ServiceBatchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 512, req.MaxLength)
		resp := ServiceBatchResponse{Dimension: 2, Count: len(req.Texts)}
		for range req.Texts {
			resp.Embeddings = append(resp.Embeddings, []float32{0.6, 0.8})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(ServiceHealthResponse{Status: "ok", Model: "codebert", Dimension: 2})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewServiceClient(srv.URL, 5*time.Second)

	vecs, err := c.EmbedBatch(ctx, []string{"x", "y"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)

	dim, err := c.Dimension(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, dim)
}

func TestServiceClientRejectsBadAnswers(t *testing.T) {
	ctx := context.Background()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /embed/batch", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(ServiceBatchResponse{Embeddings: [][]float32{{1}}})
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(ServiceHealthResponse{Status: "loading"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewServiceClient(srv.URL+"/", 5*time.Second)

	_, err := c.EmbedBatch(ctx, []string{"x", "y"})
	assert.ErrorContains(t, err, "1 embeddings for 2 inputs")

	_, err = c.Dimension(ctx)
	assert.ErrorContains(t, err, "loading")
}
