package session

import (
	"context"
	"sort"

	"github.com/codementor/ragindex/internal/ragerr"
	"github.com/codementor/ragindex/internal/retriever"
	"github.com/codementor/ragindex/internal/vectorstore"
)

// Session scopes indexing and retrieval to one session id. It is a value
// owned by the caller; two sessions of the same manager never share state
// beyond the collection.
type Session struct {
	ID      string
	manager *Manager
}

// IndexFiles indexes files for the session and returns the number of chunks
// written. Unreadable files are skipped.
func (s Session) IndexFiles(ctx context.Context, files []string) (int, error) {
	return s.manager.index(ctx, s.ID, files, false)
}

// RefreshFiles replaces what the session indexed for files
func (s Session) RefreshFiles(ctx context.Context, files []string) (int, error) {
	return s.manager.index(ctx, s.ID, files, true)
}

// GetChunks returns the k nearest chunks, restricted to allowedPaths when
// it is not empty. k <= 0 uses the configured k.
func (s Session) GetChunks(ctx context.Context, query string, k int, allowedPaths []string) ([]retriever.RetrievalResult, error) {
	t, release, err := s.manager.read(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.manager.retriever.GetChunks(ctx, t.Collection, s.ID, query, k, allowedPaths)
}

// GetRelevantChunks returns diverse relevant chunks for query
func (s Session) GetRelevantChunks(ctx context.Context, query string) ([]retriever.RetrievalResult, error) {
	t, release, err := s.manager.read(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.manager.retriever.GetRelevantChunks(ctx, t.Collection, s.ID, query)
}

// BuildRAGPrompt retrieves chunks for query and assembles the prompt. It
// returns ragerr.ErrNoChunksFound when nothing matches.
func (s Session) BuildRAGPrompt(ctx context.Context, query, systemPrompt string, allowedPaths []string) (string, error) {
	chunks, err := s.GetChunks(ctx, query, s.manager.topK, allowedPaths)
	if err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return "", ragerr.ErrNoChunksFound
	}
	return s.manager.prompts.BuildPrompt(systemPrompt, query, chunks), nil
}

// PurgeCollection empties the collection. It affects every session of the
// manager.
func (s Session) PurgeCollection(ctx context.Context) error {
	return s.manager.Purge(ctx)
}

// ListPaths returns the sorted distinct paths indexed for the session
func (s Session) ListPaths(ctx context.Context) ([]string, error) {
	t, release, err := s.manager.read(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	points, err := s.manager.store.Scroll(ctx, t.Collection,
		vectorstore.Where(vectorstore.Match(vectorstore.KeySessionID, s.ID)))
	if err != nil {
		return nil, ragerr.Store("scroll", t.Collection, err)
	}

	seen := make(map[string]bool)
	var paths []string
	for _, p := range points {
		path := vectorstore.PayloadString(p.Payload, vectorstore.KeyPath)
		if path != "" && !seen[path] {
			seen[path] = true
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths, nil
}
