package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codementor/ragindex/internal/ragerr"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	APIKey string
	Body   map[string]any
}

type fakeQdrant struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (f *fakeQdrant) record(r *http.Request) recordedRequest {
	rec := recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		APIKey: r.Header.Get("api-key"),
	}
	_ = json.NewDecoder(r.Body).Decode(&rec.Body)

	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()
	return rec
}

func (f *fakeQdrant) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok"})
}

func newFakeQdrant(t *testing.T) (*fakeQdrant, *QdrantStore) {
	t.Helper()
	fake := &fakeQdrant{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections", func(w http.ResponseWriter, r *http.Request) {
		fake.record(r)
		writeResult(w, map[string]any{"collections": []map[string]any{{"name": "a_chunks__g1"}, {"name": "other"}}})
	})
	mux.HandleFunc("GET /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		fake.record(r)
		if r.PathValue("name") == "missing" {
			http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
			return
		}
		writeResult(w, map[string]any{
			"points_count": 42,
			"config": map[string]any{
				"params": map[string]any{"vectors": map[string]any{"size": 768, "distance": "Cosine"}},
			},
		})
	})
	mux.HandleFunc("PUT /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		fake.record(r)
		writeResult(w, true)
	})
	mux.HandleFunc("PUT /collections/{name}/index", func(w http.ResponseWriter, r *http.Request) {
		fake.record(r)
		writeResult(w, map[string]any{"status": "completed"})
	})
	mux.HandleFunc("DELETE /collections/{name}", func(w http.ResponseWriter, r *http.Request) {
		fake.record(r)
		writeResult(w, true)
	})
	mux.HandleFunc("PUT /collections/{name}/points", func(w http.ResponseWriter, r *http.Request) {
		fake.record(r)
		if r.PathValue("name") == "broken" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		writeResult(w, map[string]any{"status": "completed"})
	})
	mux.HandleFunc("POST /collections/{name}/points/delete", func(w http.ResponseWriter, r *http.Request) {
		fake.record(r)
		writeResult(w, map[string]any{"status": "completed"})
	})
	mux.HandleFunc("POST /collections/{name}/points/search", func(w http.ResponseWriter, r *http.Request) {
		fake.record(r)
		writeResult(w, []map[string]any{
			{"id": "p1", "score": 0.9, "payload": map[string]any{"path": "a.go", "chunk_index": 0}, "vector": []float32{1, 0}},
			{"id": 7, "score": 0.5, "payload": map[string]any{"path": "b.go", "chunk_index": 1}, "vector": []float32{0, 1}},
		})
	})
	mux.HandleFunc("POST /collections/{name}/points/scroll", func(w http.ResponseWriter, r *http.Request) {
		rec := fake.record(r)
		if rec.Body["offset"] == nil {
			writeResult(w, map[string]any{
				"points":           []map[string]any{{"id": "p1", "payload": map[string]any{"path": "a.go"}}},
				"next_page_offset": "p2",
			})
			return
		}
		writeResult(w, map[string]any{
			"points":           []map[string]any{{"id": "p2", "payload": map[string]any{"path": "b.go"}}},
			"next_page_offset": nil,
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return fake, NewQdrantStore(server.URL, "secret", 5*time.Second)
}

func TestQdrantStore(t *testing.T) {
	ctx := context.Background()

	t.Run("List collections", func(t *testing.T) {
		fake, store := newFakeQdrant(t)
		names, err := store.ListCollections(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a_chunks__g1", "other"}, names)
		assert.Equal(t, "secret", fake.last().APIKey)
	})

	t.Run("Collection info", func(t *testing.T) {
		_, store := newFakeQdrant(t)
		info, err := store.CollectionInfo(ctx, "a_chunks__g1")
		require.NoError(t, err)
		require.NotNil(t, info)
		assert.Equal(t, 768, info.Dimension)
		assert.Equal(t, 42, info.PointsCount)
	})

	t.Run("Missing collection has no info", func(t *testing.T) {
		_, store := newFakeQdrant(t)
		info, err := store.CollectionInfo(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, info)
	})

	t.Run("Create collection with cosine distance and payload indexes", func(t *testing.T) {
		fake, store := newFakeQdrant(t)
		require.NoError(t, store.CreateCollection(ctx, "c", 384))

		require.Len(t, fake.requests, 3)
		create := fake.requests[0]
		assert.Equal(t, http.MethodPut, create.Method)
		assert.Equal(t, "/collections/c", create.Path)
		vectors := create.Body["vectors"].(map[string]any)
		assert.Equal(t, float64(384), vectors["size"])
		assert.Equal(t, "Cosine", vectors["distance"])

		assert.Equal(t, "/collections/c/index", fake.requests[1].Path)
		assert.Equal(t, "path", fake.requests[1].Body["field_name"])
		assert.Equal(t, "session_id", fake.requests[2].Body["field_name"])
	})

	t.Run("Upsert waits for commit", func(t *testing.T) {
		fake, store := newFakeQdrant(t)
		points := []Point{{ID: "id-1", Vector: []float32{1, 2}, Payload: map[string]any{"path": "a.go"}}}
		require.NoError(t, store.Upsert(ctx, "c", points, true))

		req := fake.last()
		assert.Equal(t, "/collections/c/points", req.Path)
		assert.Equal(t, "wait=true", req.Query)
		assert.Len(t, req.Body["points"], 1)
	})

	t.Run("Upsert failure is a vector store error", func(t *testing.T) {
		_, store := newFakeQdrant(t)
		err := store.Upsert(ctx, "broken", []Point{{ID: "x", Vector: []float32{1}}}, true)
		require.Error(t, err)

		var vsErr *ragerr.VectorStoreError
		require.ErrorAs(t, err, &vsErr)
		assert.Equal(t, "upsert", vsErr.Op)
		assert.Equal(t, "broken", vsErr.Collection)
	})

	t.Run("Delete by filter", func(t *testing.T) {
		fake, store := newFakeQdrant(t)
		filter := Where(Match(KeySessionID, "s1"), Match(KeyPath, "a.go"))
		require.NoError(t, store.DeleteByFilter(ctx, "c", filter))

		req := fake.last()
		assert.Equal(t, "/collections/c/points/delete", req.Path)
		must := req.Body["filter"].(map[string]any)["must"].([]any)
		require.Len(t, must, 2)
		first := must[0].(map[string]any)
		assert.Equal(t, "session_id", first["key"])
		assert.Equal(t, "s1", first["match"].(map[string]any)["value"])
	})

	t.Run("Search with match any", func(t *testing.T) {
		fake, store := newFakeQdrant(t)
		filter := Where(Match(KeySessionID, "s1"), MatchAny(KeyPath, "a.go", "b.go"))
		results, err := store.Search(ctx, "c", []float32{1, 0}, 5, filter, true)
		require.NoError(t, err)

		require.Len(t, results, 2)
		assert.Equal(t, "p1", results[0].ID)
		assert.Equal(t, "7", results[1].ID)
		assert.Equal(t, []float32{1, 0}, results[0].Vector)

		req := fake.last()
		assert.Equal(t, true, req.Body["with_vector"])
		must := req.Body["filter"].(map[string]any)["must"].([]any)
		anyMatch := must[1].(map[string]any)["match"].(map[string]any)["any"]
		assert.Equal(t, []any{"a.go", "b.go"}, anyMatch)
	})

	t.Run("Scroll follows page offsets", func(t *testing.T) {
		_, store := newFakeQdrant(t)
		results, err := store.Scroll(ctx, "c", Where(Match(KeySessionID, "s1")))
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "a.go", PayloadString(results[0].Payload, KeyPath))
		assert.Equal(t, "b.go", PayloadString(results[1].Payload, KeyPath))
	})
}
