package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/codementor/ragindex/internal/ragerr"
)

type memCollection struct {
	Dimension int               `json:"dimension"`
	Points    map[string]*Point `json:"points"`
}

// MemoryStore is an in-memory vector store with optional JSON persistence
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	dataPath    string
}

// NewMemoryStore creates a new in-memory vector store. When dataPath is set
// existing data is loaded from it and every write is persisted.
func NewMemoryStore(dataPath string) (*MemoryStore, error) {
	store := &MemoryStore{
		collections: make(map[string]*memCollection),
		dataPath:    dataPath,
	}

	if dataPath != "" {
		if err := store.load(); err != nil {
			return nil, ragerr.Store("load", "", err)
		}
	}

	return store, nil
}

// ListCollections implements Store
func (m *MemoryStore) ListCollections(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CollectionInfo implements Store
func (m *MemoryStore) CollectionInfo(_ context.Context, name string) (*CollectionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.collections[name]
	if !ok {
		return nil, nil
	}
	return &CollectionInfo{Name: name, Dimension: c.Dimension, PointsCount: len(c.Points)}, nil
}

// CreateCollection implements Store
func (m *MemoryStore) CreateCollection(_ context.Context, name string, dimension int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.collections[name]; ok {
		return ragerr.Store("create collection", name, fmt.Errorf("collection already exists"))
	}
	m.collections[name] = &memCollection{Dimension: dimension, Points: make(map[string]*Point)}

	return ragerr.Store("create collection", name, m.persist())
}

// DeleteCollection implements Store
func (m *MemoryStore) DeleteCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.collections, name)
	return ragerr.Store("delete collection", name, m.persist())
}

// Upsert implements Store. Writes are synchronous so wait has no effect.
func (m *MemoryStore) Upsert(_ context.Context, collection string, points []Point, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.collection(collection)
	if err != nil {
		return ragerr.Store("upsert", collection, err)
	}

	for _, p := range points {
		if len(p.Vector) != c.Dimension {
			return &ragerr.DimensionMismatchError{Collection: collection, Expected: c.Dimension, Got: len(p.Vector)}
		}
	}
	for i := range points {
		p := points[i]
		c.Points[p.ID] = &p
	}

	return ragerr.Store("upsert", collection, m.persist())
}

// DeleteByFilter implements Store
func (m *MemoryStore) DeleteByFilter(_ context.Context, collection string, filter Filter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.collection(collection)
	if err != nil {
		return ragerr.Store("delete points", collection, err)
	}

	for id, p := range c.Points {
		if filter.Matches(p.Payload) {
			delete(c.Points, id)
		}
	}

	return ragerr.Store("delete points", collection, m.persist())
}

// Search implements Store using cosine similarity over all matching points
func (m *MemoryStore) Search(_ context.Context, collection string, vector []float32, limit int, filter Filter, withVectors bool) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, err := m.collection(collection)
	if err != nil {
		return nil, ragerr.Store("search", collection, err)
	}
	if len(vector) != c.Dimension {
		return nil, &ragerr.DimensionMismatchError{Collection: collection, Expected: c.Dimension, Got: len(vector)}
	}

	var scored []SearchResult
	for _, p := range c.Points {
		if !filter.Matches(p.Payload) {
			continue
		}
		r := SearchResult{
			ID:      p.ID,
			Score:   CosineSimilarity(vector, p.Vector),
			Payload: p.Payload,
		}
		if withVectors {
			r.Vector = p.Vector
		}
		scored = append(scored, r)
	}

	SortResults(scored)
	if limit < len(scored) {
		scored = scored[:limit]
	}
	return scored, nil
}

// MMRSearch implements Store
func (m *MemoryStore) MMRSearch(ctx context.Context, collection string, vector []float32, opts MMROptions, filter Filter) ([]SearchResult, error) {
	return mmrSearch(ctx, m, collection, vector, opts, filter)
}

// Scroll implements Store
func (m *MemoryStore) Scroll(_ context.Context, collection string, filter Filter) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, err := m.collection(collection)
	if err != nil {
		return nil, ragerr.Store("scroll", collection, err)
	}

	var results []SearchResult
	for _, p := range c.Points {
		if filter.Matches(p.Payload) {
			results = append(results, SearchResult{ID: p.ID, Payload: p.Payload})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results, nil
}

// Close persists the store
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persist()
}

func (m *MemoryStore) collection(name string) (*memCollection, error) {
	c, ok := m.collections[name]
	if !ok {
		return nil, fmt.Errorf("collection %s not found", name)
	}
	return c, nil
}

// persist saves the store to disk; callers hold the write lock
func (m *MemoryStore) persist() error {
	if m.dataPath == "" {
		return nil
	}

	dir := filepath.Dir(m.dataPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.Marshal(m.collections)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if err := os.WriteFile(m.dataPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// load loads the store from disk
func (m *MemoryStore) load() error {
	data, err := os.ReadFile(m.dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	return json.Unmarshal(data, &m.collections)
}
