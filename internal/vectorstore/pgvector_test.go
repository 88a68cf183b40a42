package vectorstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func startPGVector(t *testing.T) *PGVectorStore {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	pgContainer, err := postgres.Run(
		ctx,
		"pgvector/pgvector:pg17",
		postgres.WithDatabase("database"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, pgContainer)
	require.NoError(t, err, "error starting postgres container")

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	store, err := NewPGVectorStore(ctx, connStr, 10*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "nomic-embed-text_latest_chunks__g1", tableName("nomic-embed-text_latest_chunks__g1"))

	base := "sentence-transformers_paraphrase-multilingual-mpnet-base-v2_chunks"
	g1, g2 := tableName(base+"__g1"), tableName(base+"__g2")
	assert.NotEqual(t, g1, g2)
	for _, table := range []string{g1, g2} {
		for _, suffix := range indexSuffixes {
			assert.LessOrEqual(t, len(table+suffix), maxIdentLen)
		}
	}
}

func TestPGVectorCallTimeout(t *testing.T) {
	ctx, cancel := (&PGVectorStore{timeout: time.Second}).call(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 100*time.Millisecond)

	ctx, cancel = (&PGVectorStore{}).call(context.Background())
	defer cancel()
	_, ok = ctx.Deadline()
	assert.False(t, ok)
}

func TestPGVectorStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	store := startPGVector(t)
	ctx := context.Background()

	const name = "nomic-embed-text_latest_chunks__g1"

	t.Run("Create and describe collection", func(t *testing.T) {
		require.NoError(t, store.CreateCollection(ctx, name, 3))

		names, err := store.ListCollections(ctx)
		require.NoError(t, err)
		assert.Contains(t, names, name)

		info, err := store.CollectionInfo(ctx, name)
		require.NoError(t, err)
		require.NotNil(t, info)
		assert.Equal(t, 3, info.Dimension)
		assert.Equal(t, 0, info.PointsCount)

		missing, err := store.CollectionInfo(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("Upsert search and delete", func(t *testing.T) {
		points := []Point{
			chunkPoint(uuid.NewString(), "s1", "a.go", 0, 1, 0, 0),
			chunkPoint(uuid.NewString(), "s1", "b.go", 0, 0, 1, 0),
			chunkPoint(uuid.NewString(), "s2", "a.go", 0, 1, 0, 0),
		}
		require.NoError(t, store.Upsert(ctx, name, points, true))

		results, err := store.Search(ctx, name, []float32{1, 0, 0}, 10, Where(Match(KeySessionID, "s1")), true)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "a.go", PayloadString(results[0].Payload, KeyPath))
		assert.InDelta(t, 1.0, results[0].Score, 1e-5)
		assert.Equal(t, []float32{1, 0, 0}, results[0].Vector)

		results, err = store.Search(ctx, name, []float32{1, 0, 0}, 10,
			Where(Match(KeySessionID, "s1"), MatchAny(KeyPath, "b.go", "c.go")), false)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Nil(t, results[0].Vector)

		require.NoError(t, store.DeleteByFilter(ctx, name, Where(Match(KeySessionID, "s1"), Match(KeyPath, "a.go"))))
		remaining, err := store.Scroll(ctx, name, Filter{})
		require.NoError(t, err)
		assert.Len(t, remaining, 2)
	})

	t.Run("Delete collection", func(t *testing.T) {
		require.NoError(t, store.DeleteCollection(ctx, name))
		info, err := store.CollectionInfo(ctx, name)
		require.NoError(t, err)
		assert.Nil(t, info)
	})

	t.Run("Long collection names", func(t *testing.T) {
		base := strings.Repeat("very-long-model-name_", 4) + "chunks"
		for _, name := range []string{base + "__g1", base + "__g2"} {
			require.NoError(t, store.CreateCollection(ctx, name, 3))
			require.NoError(t, store.Upsert(ctx, name, []Point{chunkPoint(uuid.NewString(), "s1", "a.go", 0, 1, 0, 0)}, true))
		}

		names, err := store.ListCollections(ctx)
		require.NoError(t, err)
		assert.Contains(t, names, base+"__g1")
		assert.Contains(t, names, base+"__g2")

		info, err := store.CollectionInfo(ctx, base+"__g2")
		require.NoError(t, err)
		require.NotNil(t, info)
		assert.Equal(t, 1, info.PointsCount)

		require.NoError(t, store.DeleteCollection(ctx, base+"__g1"))
		require.NoError(t, store.DeleteCollection(ctx, base+"__g2"))
	})
}
