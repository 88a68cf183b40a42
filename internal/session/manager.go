// Package session owns the collection of an embedding model and exposes the
// indexing and retrieval operations scoped to one session id.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/codementor/ragindex/internal/config"
	"github.com/codementor/ragindex/internal/indexer"
	"github.com/codementor/ragindex/internal/ragerr"
	"github.com/codementor/ragindex/internal/retriever"
	"github.com/codementor/ragindex/internal/vectorstore"
)

// Provider is the embedding model the manager indexes and queries with
type Provider interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension(ctx context.Context) (int, error)
}

// Manager owns the collection of one embedding model.
//
// The collection is addressed through generations: the concrete collection
// is "<base>__g<N>" and Purge moves to N+1 instead of recreating a
// collection in place. Writers are serialised; readers only hold the lock
// while resolving the current generation.
type Manager struct {
	store     vectorstore.Store
	provider  Provider
	indexer   *indexer.Indexer
	retriever *retriever.Retriever
	prompts   PromptBuilder
	topK      int
	base      string
	logger    *slog.Logger

	writeMu sync.Mutex
	// held shared by queries so a purge does not drop a generation under them
	inflight sync.RWMutex

	mu         sync.RWMutex
	ready      bool
	generation int
	dimension  int
}

// NewManager creates a manager for provider's collection in store. Nothing
// is touched until the first call that needs the collection.
func NewManager(cfg *config.Config, provider Provider, store vectorstore.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:     store,
		provider:  provider,
		indexer:   indexer.NewIndexer(cfg.Indexer, provider, store, logger),
		retriever: retriever.NewRetriever(cfg.Retrieval, provider, store, logger),
		prompts:   DefaultPromptBuilder{},
		topK:      cfg.Retrieval.K,
		base:      CollectionBase(provider.Name()),
		logger:    logger,
	}
}

// WithPromptBuilder replaces the prompt assembler
func (m *Manager) WithPromptBuilder(p PromptBuilder) *Manager {
	m.prompts = p
	return m
}

// CollectionBase derives the collection name of an embedding model
func CollectionBase(model string) string {
	if strings.TrimSpace(model) == "" {
		return "code_chunks"
	}
	name := strings.NewReplacer(":", "_", "/", "_", " ", "_").Replace(model)
	return strings.ToLower(name) + "_chunks"
}

func generationName(base string, n int) string {
	return fmt.Sprintf("%s__g%d", base, n)
}

// parseGeneration returns N for "<base>__g<N>"
func parseGeneration(base, name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, base+"__g")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Base returns the collection base name
func (m *Manager) Base() string {
	return m.base
}

// Collection returns the name of the current generation, or "" before Ensure
func (m *Manager) Collection() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.ready {
		return ""
	}
	return generationName(m.base, m.generation)
}

// Ensure makes the collection usable. It adopts the newest existing
// generation, or creates the first one with the provider's dimension. An
// existing collection of another dimension is a DimensionMismatchError.
func (m *Manager) Ensure(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready {
		return nil
	}

	dim, err := m.provider.Dimension(ctx)
	if err != nil {
		return ragerr.Embedding(m.provider.Name(), err)
	}

	gens, err := m.generations(ctx)
	if err != nil {
		return err
	}

	if len(gens) == 0 {
		name := generationName(m.base, 1)
		if err := m.store.CreateCollection(ctx, name, dim); err != nil {
			return ragerr.Store("create collection", name, err)
		}
		m.logger.Info("created collection", "collection", name, "dimension", dim)
		m.generation, m.dimension, m.ready = 1, dim, true
		return nil
	}

	current := gens[len(gens)-1]
	name := generationName(m.base, current)
	info, err := m.store.CollectionInfo(ctx, name)
	if err != nil {
		return ragerr.Store("collection info", name, err)
	}
	if info == nil {
		return ragerr.Store("collection info", name, errors.New("collection disappeared"))
	}
	if info.Dimension != dim {
		return &ragerr.DimensionMismatchError{Collection: name, Expected: info.Dimension, Got: dim}
	}

	// leftovers of an interrupted purge
	for _, n := range gens[:len(gens)-1] {
		m.dropCollection(ctx, generationName(m.base, n))
	}

	m.generation, m.dimension, m.ready = current, dim, true
	return nil
}

// generations lists the existing generation numbers in ascending order
func (m *Manager) generations(ctx context.Context) ([]int, error) {
	names, err := m.store.ListCollections(ctx)
	if err != nil {
		return nil, ragerr.Store("list collections", "", err)
	}
	var gens []int
	for _, name := range names {
		if n, ok := parseGeneration(m.base, name); ok {
			gens = append(gens, n)
		}
	}
	sort.Ints(gens)
	return gens, nil
}

// target resolves the current generation, initialising it on first use
func (m *Manager) target(ctx context.Context) (indexer.Target, error) {
	m.mu.RLock()
	if m.ready {
		t := indexer.Target{Collection: generationName(m.base, m.generation), Dimension: m.dimension}
		m.mu.RUnlock()
		return t, nil
	}
	m.mu.RUnlock()

	if err := m.Ensure(ctx); err != nil {
		return indexer.Target{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return indexer.Target{Collection: generationName(m.base, m.generation), Dimension: m.dimension}, nil
}

// read resolves the current generation for a query. The generation stays
// alive until release is called.
func (m *Manager) read(ctx context.Context) (t indexer.Target, release func(), err error) {
	m.inflight.RLock()
	t, err = m.target(ctx)
	if err != nil {
		m.inflight.RUnlock()
		return indexer.Target{}, nil, err
	}
	return t, m.inflight.RUnlock, nil
}

// Purge empties the collection for every session. It creates the next
// generation with the provider's current dimension, switches to it, then
// deletes every older generation. Purge is the way out of a
// DimensionMismatchError after a model change, so it does not go through
// Ensure. Failing to delete an old generation is logged, not returned.
func (m *Manager) Purge(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	dim, err := m.provider.Dimension(ctx)
	if err != nil {
		return ragerr.Embedding(m.provider.Name(), err)
	}
	gens, err := m.generations(ctx)
	if err != nil {
		return err
	}

	m.mu.RLock()
	next := m.generation + 1
	m.mu.RUnlock()
	if len(gens) > 0 && gens[len(gens)-1] >= next {
		next = gens[len(gens)-1] + 1
	}
	name := generationName(m.base, next)

	if err := m.store.CreateCollection(ctx, name, dim); err != nil {
		return ragerr.Store("create collection", name, err)
	}

	m.mu.Lock()
	m.generation, m.dimension, m.ready = next, dim, true
	m.mu.Unlock()

	m.logger.Info("purged collection", "collection", name, "dimension", dim, "dropped", len(gens))

	m.inflight.Lock()
	for _, n := range gens {
		m.dropCollection(ctx, generationName(m.base, n))
	}
	m.inflight.Unlock()
	return nil
}

func (m *Manager) dropCollection(ctx context.Context, name string) {
	if err := m.store.DeleteCollection(ctx, name); err != nil {
		m.logger.Warn("failed to delete old generation", "collection", name, "error", err)
	}
}

// Session returns the handle of session id
func (m *Manager) Session(id string) (Session, error) {
	if strings.TrimSpace(id) == "" {
		return Session{}, errors.New("session id is required")
	}
	return Session{ID: id, manager: m}, nil
}

func (m *Manager) index(ctx context.Context, sessionID string, files []string, refresh bool) (int, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	t, err := m.target(ctx)
	if err != nil {
		return 0, err
	}
	if refresh {
		return m.indexer.RefreshFiles(ctx, t, sessionID, files)
	}
	return m.indexer.IndexFiles(ctx, t, sessionID, files)
}
