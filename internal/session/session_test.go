package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codementor/ragindex/internal/config"
	"github.com/codementor/ragindex/internal/ragerr"
	"github.com/codementor/ragindex/internal/vectorstore"
)

// letterProvider embeds texts as letter histograms
type letterProvider struct {
	dim int
}

func (p letterProvider) Name() string { return "Test/Model:Latest" }

func (p letterProvider) vector(text string) []float32 {
	v := make([]float32, p.dim)
	v[0] = 0.01
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[int(r-'a')%p.dim]++
		}
	}
	return v
}

func (p letterProvider) Embed(_ context.Context, text string) ([]float32, error) {
	return p.vector(text), nil
}

func (p letterProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

func (p letterProvider) Dimension(context.Context) (int, error) { return p.dim, nil }

func newTestManager(t *testing.T) (*Manager, *vectorstore.MemoryStore) {
	t.Helper()
	store, err := vectorstore.NewMemoryStore("")
	require.NoError(t, err)
	return NewManager(config.DefaultConfig(), letterProvider{dim: 8}, store, slog.New(slog.DiscardHandler)), store
}

func writeFiles(t *testing.T, files map[string]string) []string {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for name, content := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
		paths = append(paths, p)
	}
	return paths
}

func TestCollectionBase(t *testing.T) {
	assert.Equal(t, "nomic-embed-text_latest_chunks", CollectionBase("nomic-embed-text:latest"))
	assert.Equal(t, "sentence-transformers_all-minilm-l6-v2_chunks", CollectionBase("sentence-transformers/all-MiniLM-L6-v2"))
	assert.Equal(t, "my_model_chunks", CollectionBase("My Model"))
	assert.Equal(t, "code_chunks", CollectionBase(""))
}

func TestEnsure(t *testing.T) {
	ctx := context.Background()

	t.Run("Creates the first generation", func(t *testing.T) {
		m, store := newTestManager(t)
		assert.Empty(t, m.Collection())
		require.NoError(t, m.Ensure(ctx))
		assert.Equal(t, "test_model_latest_chunks__g1", m.Collection())

		info, err := store.CollectionInfo(ctx, m.Collection())
		require.NoError(t, err)
		require.NotNil(t, info)
		assert.Equal(t, 8, info.Dimension)
	})

	t.Run("Adopts the newest generation and drops older ones", func(t *testing.T) {
		m, store := newTestManager(t)
		require.NoError(t, store.CreateCollection(ctx, "test_model_latest_chunks__g2", 8))
		require.NoError(t, store.CreateCollection(ctx, "test_model_latest_chunks__g3", 8))
		require.NoError(t, store.CreateCollection(ctx, "unrelated", 3))

		require.NoError(t, m.Ensure(ctx))
		assert.Equal(t, "test_model_latest_chunks__g3", m.Collection())

		names, err := store.ListCollections(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"test_model_latest_chunks__g3", "unrelated"}, names)
	})

	t.Run("Existing collection of another dimension", func(t *testing.T) {
		m, store := newTestManager(t)
		require.NoError(t, store.CreateCollection(ctx, "test_model_latest_chunks__g1", 4))

		err := m.Ensure(ctx)
		var dimErr *ragerr.DimensionMismatchError
		require.ErrorAs(t, err, &dimErr)
		assert.Equal(t, 4, dimErr.Expected)
		assert.Equal(t, 8, dimErr.Got)
	})
}

func TestSession(t *testing.T) {
	ctx := context.Background()
	files := writeFiles(t, map[string]string{
		"apples.txt":  "apples are crunchy and sweet",
		"bananas.txt": "bananas are soft and yellow",
	})

	t.Run("Index then query", func(t *testing.T) {
		m, _ := newTestManager(t)
		s, err := m.Session("s1")
		require.NoError(t, err)

		n, err := s.IndexFiles(ctx, files)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		chunks, err := s.GetChunks(ctx, "apples", 1, nil)
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, "apples are crunchy and sweet", chunks[0].Text)

		relevant, err := s.GetRelevantChunks(ctx, "apples")
		require.NoError(t, err)
		assert.NotEmpty(t, relevant)

		paths, err := s.ListPaths(ctx)
		require.NoError(t, err)
		assert.Len(t, paths, 2)
		for _, p := range paths {
			assert.NotContains(t, p, "\\")
		}
	})

	t.Run("Refresh does not duplicate", func(t *testing.T) {
		m, store := newTestManager(t)
		s, err := m.Session("s1")
		require.NoError(t, err)

		_, err = s.IndexFiles(ctx, files)
		require.NoError(t, err)
		n, err := s.RefreshFiles(ctx, files)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		points, err := store.Scroll(ctx, m.Collection(), vectorstore.Filter{})
		require.NoError(t, err)
		assert.Len(t, points, 2)
	})

	t.Run("Sessions do not see each other", func(t *testing.T) {
		m, _ := newTestManager(t)
		s1, err := m.Session("s1")
		require.NoError(t, err)
		s2, err := m.Session("s2")
		require.NoError(t, err)

		_, err = s1.IndexFiles(ctx, files)
		require.NoError(t, err)

		chunks, err := s2.GetChunks(ctx, "apples", 5, nil)
		require.NoError(t, err)
		assert.Empty(t, chunks)

		_, err = s2.BuildRAGPrompt(ctx, "apples", "", nil)
		assert.ErrorIs(t, err, ragerr.ErrNoChunksFound)
	})

	t.Run("Prompt lists the extracts before the question", func(t *testing.T) {
		m, _ := newTestManager(t)
		s, err := m.Session("s1")
		require.NoError(t, err)
		_, err = s.IndexFiles(ctx, files)
		require.NoError(t, err)

		prompt, err := s.BuildRAGPrompt(ctx, "what color are bananas?", "Be brief.", []string{files[0], files[1]})
		require.NoError(t, err)
		assert.Contains(t, prompt, "Be brief.")
		assert.Contains(t, prompt, "--- Extract 1 ---")
		assert.Contains(t, prompt, "--- Extract 2 ---")
		assert.Contains(t, prompt, "bananas are soft and yellow")
		assert.Less(t, strings.Index(prompt, "--- Extract 2 ---"), strings.Index(prompt, "Question: what color are bananas?"))

		_, err = s.BuildRAGPrompt(ctx, "apples", "", []string{"/not/indexed.go"})
		assert.True(t, errors.Is(err, ragerr.ErrNoChunksFound))
	})

	t.Run("Empty session id", func(t *testing.T) {
		m, _ := newTestManager(t)
		_, err := m.Session(" ")
		assert.Error(t, err)
	})
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	files := writeFiles(t, map[string]string{"notes.md": "# Notes\n\nsomething to remember"})

	m, store := newTestManager(t)
	s1, err := m.Session("s1")
	require.NoError(t, err)
	s2, err := m.Session("s2")
	require.NoError(t, err)

	_, err = s1.IndexFiles(ctx, files)
	require.NoError(t, err)
	_, err = s2.IndexFiles(ctx, files)
	require.NoError(t, err)

	require.NoError(t, s1.PurgeCollection(ctx))
	assert.Equal(t, "test_model_latest_chunks__g2", m.Collection())

	names, err := store.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"test_model_latest_chunks__g2"}, names)

	for _, s := range []Session{s1, s2} {
		chunks, err := s.GetChunks(ctx, "remember", 5, nil)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	}

	n, err := s2.IndexFiles(ctx, files)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPurgeAfterModelChange(t *testing.T) {
	ctx := context.Background()
	files := writeFiles(t, map[string]string{"notes.md": "something to remember"})

	m, store := newTestManager(t)
	require.NoError(t, store.CreateCollection(ctx, "test_model_latest_chunks__g1", 4))

	s, err := m.Session("s1")
	require.NoError(t, err)
	_, err = s.IndexFiles(ctx, files)
	var dimErr *ragerr.DimensionMismatchError
	require.ErrorAs(t, err, &dimErr)

	require.NoError(t, m.Purge(ctx))
	assert.Equal(t, "test_model_latest_chunks__g2", m.Collection())

	info, err := store.CollectionInfo(ctx, m.Collection())
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, 8, info.Dimension)

	names, err := store.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"test_model_latest_chunks__g2"}, names)

	n, err := s.IndexFiles(ctx, files)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPurgeBeforeFirstUse(t *testing.T) {
	m, store := newTestManager(t)
	require.NoError(t, m.Purge(context.Background()))
	assert.Equal(t, "test_model_latest_chunks__g1", m.Collection())

	names, err := store.ListCollections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"test_model_latest_chunks__g1"}, names)
}

func TestConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	files := writeFiles(t, map[string]string{"a.txt": "alpha beta gamma", "b.txt": "delta epsilon"})
	m, _ := newTestManager(t)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 10; i++ {
		s, err := m.Session("s" + string(rune('a'+i)))
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.IndexFiles(ctx, files); err != nil {
				errs <- err
				return
			}
			res, err := s.GetChunks(ctx, "alpha", 5, nil)
			if err != nil {
				errs <- err
				return
			}
			for _, r := range res {
				if r.Metadata[vectorstore.KeySessionID] != s.ID {
					errs <- errors.New("result from another session")
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Purge(ctx); err != nil {
			errs <- err
		}
	}()
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}
