// Package retriever finds the chunks of a session that are relevant to a query.
package retriever

import (
	"context"
	"log/slog"
	"strings"

	"github.com/codementor/ragindex/internal/config"
	"github.com/codementor/ragindex/internal/ragerr"
	"github.com/codementor/ragindex/internal/vectorstore"
)

// RetrievalResult is a chunk returned to callers. Metadata is the stored
// payload without the text.
type RetrievalResult struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
	Score    float32        `json:"score"`
}

// Path returns the source path of the chunk
func (r RetrievalResult) Path() string {
	return vectorstore.PayloadString(r.Metadata, vectorstore.KeyPath)
}

// QueryEmbedder embeds a query
type QueryEmbedder interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the read side of vectorstore.Store
type Searcher interface {
	Search(ctx context.Context, collection string, vector []float32, limit int, filter vectorstore.Filter, withVectors bool) ([]vectorstore.SearchResult, error)
	MMRSearch(ctx context.Context, collection string, vector []float32, opts vectorstore.MMROptions, filter vectorstore.Filter) ([]vectorstore.SearchResult, error)
}

// Retriever runs queries against one store with one embedding model
type Retriever struct {
	store    Searcher
	embedder QueryEmbedder
	config   config.RetrievalConfig
	logger   *slog.Logger
}

// NewRetriever creates a new retriever
func NewRetriever(cfg config.RetrievalConfig, embedder QueryEmbedder, store Searcher, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		store:    store,
		embedder: embedder,
		config:   cfg,
		logger:   logger,
	}
}

// GetRelevantChunks returns up to K diverse chunks of sessionID for query.
//
// FetchK candidates are reranked by MMR, then walked in that order: a
// candidate is dropped when it scores below MinScore, when its path already
// contributed MaxChunksPerFile chunks, or when its trimmed text duplicates an
// accepted chunk.
func (r *Retriever) GetRelevantChunks(ctx context.Context, collection, sessionID, query string) ([]RetrievalResult, error) {
	vector, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	candidates, err := r.store.MMRSearch(ctx, collection, vector, vectorstore.MMROptions{
		K:      r.config.FetchK,
		FetchK: r.config.FetchK,
		Lambda: r.config.DiversityLambda,
	}, sessionFilter(sessionID))
	if err != nil {
		return nil, ragerr.Store("mmr search", collection, err)
	}

	maxPerFile := r.config.MaxChunksPerFile
	if maxPerFile <= 0 {
		maxPerFile = 2
	}

	perFile := make(map[string]int)
	seen := make(map[string]bool)
	var out []RetrievalResult
	var lowScore, capped, duplicate int

	for _, c := range candidates {
		if float64(c.Score) < r.config.MinScore {
			lowScore++
			continue
		}
		path := vectorstore.PayloadString(c.Payload, vectorstore.KeyPath)
		if perFile[path] >= maxPerFile {
			capped++
			continue
		}
		text := strings.TrimSpace(vectorstore.PayloadString(c.Payload, vectorstore.KeyText))
		if seen[text] {
			duplicate++
			continue
		}

		seen[text] = true
		perFile[path]++
		out = append(out, toResult(c, text))
		if len(out) >= r.config.K {
			break
		}
	}

	r.logger.Debug("relevant chunks",
		"collection", collection,
		"session_id", sessionID,
		"candidates", len(candidates),
		"accepted", len(out),
		"below_min_score", lowScore,
		"capped", capped,
		"duplicates", duplicate,
	)
	return out, nil
}

// GetChunks returns the k nearest chunks of sessionID, restricted to
// allowedPaths when it is not empty. No cap or dedup is applied.
func (r *Retriever) GetChunks(ctx context.Context, collection, sessionID, query string, k int, allowedPaths []string) ([]RetrievalResult, error) {
	if k <= 0 {
		k = r.config.K
	}

	vector, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	filter := sessionFilter(sessionID)
	if len(allowedPaths) > 0 {
		paths := make([]string, len(allowedPaths))
		for i, p := range allowedPaths {
			paths[i] = vectorstore.NormalizePath(p)
		}
		filter = filter.And(vectorstore.MatchAny(vectorstore.KeyPath, paths...))
	}

	hits, err := r.store.Search(ctx, collection, vector, k, filter, false)
	if err != nil {
		return nil, ragerr.Store("search", collection, err)
	}
	vectorstore.SortResults(hits)

	out := make([]RetrievalResult, len(hits))
	for i, h := range hits {
		out[i] = toResult(h, strings.TrimSpace(vectorstore.PayloadString(h.Payload, vectorstore.KeyText)))
	}
	return out, nil
}

func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, ragerr.Embedding(r.embedder.Name(), err)
	}
	return vector, nil
}

func sessionFilter(sessionID string) vectorstore.Filter {
	return vectorstore.Where(vectorstore.Match(vectorstore.KeySessionID, sessionID))
}

func toResult(r vectorstore.SearchResult, text string) RetrievalResult {
	meta := make(map[string]any, len(r.Payload))
	for k, v := range r.Payload {
		if k != vectorstore.KeyText {
			meta[k] = v
		}
	}
	return RetrievalResult{Text: text, Metadata: meta, Score: r.Score}
}
