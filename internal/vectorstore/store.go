// Package vectorstore provides the collection-oriented vector storage used by
// the indexer and retriever, with Qdrant, pgvector and in-memory backends.
package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/codementor/ragindex/internal/config"
)

// Payload keys written for every chunk
const (
	KeyPath       = "path"
	KeyChunkIndex = "chunk_index"
	KeySessionID  = "session_id"
	KeyText       = "text"
	KeyByteLength = "byte_length"
)

// Point is a vector with its payload
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// SearchResult is a point returned by a query. Score is the cosine
// similarity to the query vector; Vector is only set when requested.
type SearchResult struct {
	ID      string         `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
	Vector  []float32      `json:"vector,omitempty"`
}

// CollectionInfo describes an existing collection
type CollectionInfo struct {
	Name        string `json:"name"`
	Dimension   int    `json:"dimension"`
	PointsCount int    `json:"points_count"`
}

// MMROptions configures a maximal marginal relevance search
type MMROptions struct {
	K      int
	FetchK int
	Lambda float64
}

// Store is the interface for vector storage backends. All collections use
// cosine distance.
type Store interface {
	// ListCollections returns the names of all collections
	ListCollections(ctx context.Context) ([]string, error)

	// CollectionInfo returns nil and no error when the collection does not exist
	CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error)

	CreateCollection(ctx context.Context, name string, dimension int) error
	DeleteCollection(ctx context.Context, name string) error

	// Upsert writes points. With wait the call returns once they are searchable.
	Upsert(ctx context.Context, collection string, points []Point, wait bool) error

	DeleteByFilter(ctx context.Context, collection string, filter Filter) error

	// Search returns up to limit points ordered by decreasing similarity
	Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter, withVectors bool) ([]SearchResult, error)

	// MMRSearch fetches FetchK candidates and reranks them for diversity
	MMRSearch(ctx context.Context, collection string, vector []float32, opts MMROptions, filter Filter) ([]SearchResult, error)

	// Scroll returns every point matching filter, without vectors
	Scroll(ctx context.Context, collection string, filter Filter) ([]SearchResult, error)

	Close() error
}

// New creates the store selected by cfg.Type
func New(ctx context.Context, cfg config.VectorConfig) (Store, error) {
	timeout := cfg.CallTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	switch cfg.Type {
	case "qdrant", "":
		return NewQdrantStore(cfg.QdrantURL(), cfg.APIKey, timeout), nil
	case "pgvector", "postgres":
		return NewPGVectorStore(ctx, cfg.DSN, timeout)
	case "memory":
		return NewMemoryStore(cfg.DataPath)
	default:
		return nil, fmt.Errorf("unknown vector store type: %s", cfg.Type)
	}
}

// PayloadString returns the string stored under key, or ""
func PayloadString(p map[string]any, key string) string {
	if v, ok := p[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// PayloadInt returns the integer stored under key, or 0. JSON decoding
// yields float64 for numbers.
func PayloadInt(p map[string]any, key string) int {
	if v, ok := p[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case float32:
			return int(n)
		case int:
			return n
		case int64:
			return int(n)
		}
	}
	return 0
}
