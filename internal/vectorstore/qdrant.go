package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codementor/ragindex/internal/ragerr"
)

// scrollPageSize is the number of points fetched per scroll request
const scrollPageSize = 256

// QdrantStore implements Store over the Qdrant REST API
type QdrantStore struct {
	host       string
	apiKey     string
	httpClient *http.Client
}

// NewQdrantStore creates a new Qdrant vector store. Each request is bounded
// by timeout.
func NewQdrantStore(host, apiKey string, timeout time.Duration) *QdrantStore {
	return &QdrantStore{
		host:       strings.TrimSuffix(host, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// statusError is a non-2xx answer from Qdrant
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant returned %d: %s", e.Code, e.Body)
}

// do sends a JSON request and decodes the "result" field of the answer
// into out when out is not nil.
func (q *QdrantStore) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.host+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return &statusError{Code: resp.StatusCode, Body: string(bodyBytes)}
	}

	if out == nil {
		return nil
	}

	envelope := struct {
		Result any `json:"result"`
	}{Result: out}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func collectionPath(name string, parts ...string) string {
	p := "/collections/" + url.PathEscape(name)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// ListCollections implements Store
func (q *QdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	var result struct {
		Collections []struct {
			Name string `json:"name"`
		} `json:"collections"`
	}
	if err := q.do(ctx, http.MethodGet, "/collections", nil, &result); err != nil {
		return nil, ragerr.Store("list collections", "", err)
	}

	names := make([]string, len(result.Collections))
	for i, c := range result.Collections {
		names[i] = c.Name
	}
	return names, nil
}

// CollectionInfo implements Store
func (q *QdrantStore) CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	var result struct {
		PointsCount int `json:"points_count"`
		Config      struct {
			Params struct {
				Vectors json.RawMessage `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}

	err := q.do(ctx, http.MethodGet, collectionPath(name), nil, &result)
	var se *statusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, ragerr.Store("collection info", name, err)
	}

	dim, err := vectorSize(result.Config.Params.Vectors)
	if err != nil {
		return nil, ragerr.Store("collection info", name, err)
	}

	return &CollectionInfo{
		Name:        name,
		Dimension:   dim,
		PointsCount: result.PointsCount,
	}, nil
}

// vectorSize reads the size of the unnamed vector, or of the single named
// vector when the collection was created with named vectors.
func vectorSize(raw json.RawMessage) (int, error) {
	var single struct {
		Size int `json:"size"`
	}
	if err := json.Unmarshal(raw, &single); err == nil && single.Size > 0 {
		return single.Size, nil
	}

	var named map[string]struct {
		Size int `json:"size"`
	}
	if err := json.Unmarshal(raw, &named); err != nil {
		return 0, fmt.Errorf("failed to read vector params: %w", err)
	}
	if len(named) != 1 {
		return 0, fmt.Errorf("expected one vector config, found %d", len(named))
	}
	for _, v := range named {
		return v.Size, nil
	}
	return 0, nil
}

// CreateCollection implements Store. Keyword payload indexes are created on
// path and session_id since every query filters on them.
func (q *QdrantStore) CreateCollection(ctx context.Context, name string, dimension int) error {
	createReq := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if err := q.do(ctx, http.MethodPut, collectionPath(name), createReq, nil); err != nil {
		return ragerr.Store("create collection", name, err)
	}

	for _, field := range []string{KeyPath, KeySessionID} {
		indexReq := map[string]any{
			"field_name":   field,
			"field_schema": "keyword",
		}
		if err := q.do(ctx, http.MethodPut, collectionPath(name, "index")+"?wait=true", indexReq, nil); err != nil {
			return ragerr.Store("create payload index", name, err)
		}
	}
	return nil
}

// DeleteCollection implements Store. Deleting a missing collection is not
// an error.
func (q *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	err := q.do(ctx, http.MethodDelete, collectionPath(name), nil, nil)
	var se *statusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil
	}
	return ragerr.Store("delete collection", name, err)
}

// Upsert implements Store
func (q *QdrantStore) Upsert(ctx context.Context, collection string, points []Point, wait bool) error {
	if len(points) == 0 {
		return nil
	}

	path := collectionPath(collection, "points")
	if wait {
		path += "?wait=true"
	}
	upsertReq := map[string]any{"points": points}

	return ragerr.Store("upsert", collection, q.do(ctx, http.MethodPut, path, upsertReq, nil))
}

// DeleteByFilter implements Store
func (q *QdrantStore) DeleteByFilter(ctx context.Context, collection string, filter Filter) error {
	deleteReq := map[string]any{"filter": qdrantFilter(filter)}
	path := collectionPath(collection, "points", "delete") + "?wait=true"

	return ragerr.Store("delete points", collection, q.do(ctx, http.MethodPost, path, deleteReq, nil))
}

// qdrantPoint is a point as returned by search and scroll
type qdrantPoint struct {
	ID      any            `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
	Vector  []float32      `json:"vector"`
}

func (p qdrantPoint) result() SearchResult {
	return SearchResult{
		ID:      valueString(p.ID),
		Score:   p.Score,
		Payload: p.Payload,
		Vector:  p.Vector,
	}
}

// Search implements Store
func (q *QdrantStore) Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter, withVectors bool) ([]SearchResult, error) {
	searchReq := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  withVectors,
	}
	if !filter.IsEmpty() {
		searchReq["filter"] = qdrantFilter(filter)
	}

	var points []qdrantPoint
	if err := q.do(ctx, http.MethodPost, collectionPath(collection, "points", "search"), searchReq, &points); err != nil {
		return nil, ragerr.Store("search", collection, err)
	}

	results := make([]SearchResult, len(points))
	for i, p := range points {
		results[i] = p.result()
	}
	return results, nil
}

// MMRSearch implements Store
func (q *QdrantStore) MMRSearch(ctx context.Context, collection string, vector []float32, opts MMROptions, filter Filter) ([]SearchResult, error) {
	return mmrSearch(ctx, q, collection, vector, opts, filter)
}

// Scroll implements Store
func (q *QdrantStore) Scroll(ctx context.Context, collection string, filter Filter) ([]SearchResult, error) {
	var (
		results []SearchResult
		offset  any
	)

	for {
		scrollReq := map[string]any{
			"limit":        scrollPageSize,
			"with_payload": true,
			"with_vector":  false,
		}
		if !filter.IsEmpty() {
			scrollReq["filter"] = qdrantFilter(filter)
		}
		if offset != nil {
			scrollReq["offset"] = offset
		}

		var page struct {
			Points         []qdrantPoint `json:"points"`
			NextPageOffset any           `json:"next_page_offset"`
		}
		if err := q.do(ctx, http.MethodPost, collectionPath(collection, "points", "scroll"), scrollReq, &page); err != nil {
			return nil, ragerr.Store("scroll", collection, err)
		}

		for _, p := range page.Points {
			results = append(results, p.result())
		}

		if page.NextPageOffset == nil {
			return results, nil
		}
		offset = page.NextPageOffset
	}
}

// Close closes the store (no-op for HTTP client)
func (q *QdrantStore) Close() error {
	return nil
}

func qdrantFilter(f Filter) map[string]any {
	must := make([]map[string]any, 0, len(f.Must))
	for _, c := range f.Must {
		var match map[string]any
		if len(c.Values) == 1 {
			match = map[string]any{"value": c.Values[0]}
		} else {
			match = map[string]any{"any": c.Values}
		}
		must = append(must, map[string]any{
			"key":   c.Key,
			"match": match,
		})
	}
	return map[string]any{"must": must}
}
