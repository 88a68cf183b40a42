package vectorstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/codementor/ragindex/internal/ragerr"
)

// registryTable records the collections owned by the store and their
// dimensionality. Each collection is a table of its own.
const registryTable = "ragindex_collections"

// maxIdentLen is the identifier length above which Postgres truncates
const maxIdentLen = 63

// indexSuffixes name the indexes created next to a collection table
var indexSuffixes = []string{"_embedding_idx", "_session_path_idx"}

// tableName maps a collection to its table. Names that would not fit in an
// identifier with an index suffix are replaced by a hash of the name; the
// registry keeps the collection name itself.
func tableName(collection string) string {
	longest := 0
	for _, suffix := range indexSuffixes {
		longest = max(longest, len(suffix))
	}
	if len(collection)+longest <= maxIdentLen {
		return collection
	}
	sum := sha256.Sum256([]byte(collection))
	return "rc_" + hex.EncodeToString(sum[:12])
}

func quoteTable(collection string) string {
	return pq.QuoteIdentifier(tableName(collection))
}

// PGVectorStore implements Store on PostgreSQL with the pgvector extension
type PGVectorStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPGVectorStore connects to dsn and prepares the extension and registry.
// A positive timeout bounds every call.
func NewPGVectorStore(ctx context.Context, dsn string, timeout time.Duration) (*PGVectorStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, ragerr.Store("connect", "", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, ragerr.Store("connect", "", err)
	}

	s := &PGVectorStore{db: db, timeout: timeout}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, ragerr.Store("init", "", err)
	}
	return s, nil
}

// call bounds ctx by the store timeout
func (s *PGVectorStore) call(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *PGVectorStore) init(ctx context.Context) error {
	ctx, cancel := s.call(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			dimension INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`, pq.QuoteIdentifier(registryTable)))
	if err != nil {
		return fmt.Errorf("failed to create registry table: %w", err)
	}
	return nil
}

// ListCollections implements Store
func (s *PGVectorStore) ListCollections(ctx context.Context) ([]string, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT name FROM %s ORDER BY name`, pq.QuoteIdentifier(registryTable)))
	if err != nil {
		return nil, ragerr.Store("list collections", "", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, ragerr.Store("list collections", "", err)
		}
		names = append(names, name)
	}
	return names, ragerr.Store("list collections", "", rows.Err())
}

// CollectionInfo implements Store
func (s *PGVectorStore) CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()

	info := &CollectionInfo{Name: name}
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT dimension FROM %s WHERE name = $1`, pq.QuoteIdentifier(registryTable)),
		name,
	).Scan(&info.Dimension)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, ragerr.Store("collection info", name, err)
	}

	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, quoteTable(name))).Scan(&info.PointsCount)
	if err != nil {
		return nil, ragerr.Store("collection info", name, err)
	}
	return info, nil
}

// CreateCollection implements Store. An HNSW index with cosine operators
// backs the similarity search.
func (s *PGVectorStore) CreateCollection(ctx context.Context, name string, dimension int) error {
	ctx, cancel := s.call(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ragerr.Store("create collection", name, err)
	}
	defer tx.Rollback()

	table := tableName(name)
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE %s (
			id UUID PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			payload JSONB NOT NULL
		)`, pq.QuoteIdentifier(table), dimension),
		fmt.Sprintf(`CREATE INDEX %s ON %s USING hnsw (embedding vector_cosine_ops)`,
			pq.QuoteIdentifier(table+indexSuffixes[0]), pq.QuoteIdentifier(table)),
		fmt.Sprintf(`CREATE INDEX %s ON %s ((payload->>'session_id'), (payload->>'path'))`,
			pq.QuoteIdentifier(table+indexSuffixes[1]), pq.QuoteIdentifier(table)),
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return ragerr.Store("create collection", name, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (name, dimension) VALUES ($1, $2)`, pq.QuoteIdentifier(registryTable)),
		name, dimension,
	)
	if err != nil {
		return ragerr.Store("create collection", name, err)
	}

	return ragerr.Store("create collection", name, tx.Commit())
}

// DeleteCollection implements Store
func (s *PGVectorStore) DeleteCollection(ctx context.Context, name string) error {
	ctx, cancel := s.call(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ragerr.Store("delete collection", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoteTable(name))); err != nil {
		return ragerr.Store("delete collection", name, err)
	}
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE name = $1`, pq.QuoteIdentifier(registryTable)),
		name,
	)
	if err != nil {
		return ragerr.Store("delete collection", name, err)
	}

	return ragerr.Store("delete collection", name, tx.Commit())
}

// Upsert implements Store. Points are written in one transaction, which is
// committed before returning, so wait has no effect.
func (s *PGVectorStore) Upsert(ctx context.Context, collection string, points []Point, _ bool) error {
	if len(points) == 0 {
		return nil
	}
	ctx, cancel := s.call(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ragerr.Store("upsert", collection, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, embedding, payload) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, payload = EXCLUDED.payload`,
		quoteTable(collection)))
	if err != nil {
		return ragerr.Store("upsert", collection, err)
	}
	defer stmt.Close()

	for _, p := range points {
		id, err := uuid.Parse(p.ID)
		if err != nil {
			return ragerr.Store("upsert", collection, fmt.Errorf("invalid point id %q: %w", p.ID, err))
		}
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return ragerr.Store("upsert", collection, fmt.Errorf("failed to marshal payload: %w", err))
		}
		if _, err := stmt.ExecContext(ctx, id, pgvector.NewVector(p.Vector), payload); err != nil {
			return ragerr.Store("upsert", collection, err)
		}
	}

	return ragerr.Store("upsert", collection, tx.Commit())
}

// DeleteByFilter implements Store
func (s *PGVectorStore) DeleteByFilter(ctx context.Context, collection string, filter Filter) error {
	ctx, cancel := s.call(ctx)
	defer cancel()

	where, args := sqlWhere(filter, 1)
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s%s`, quoteTable(collection), where), args...)
	return ragerr.Store("delete points", collection, err)
}

// Search implements Store. Scores are 1 - cosine distance.
func (s *PGVectorStore) Search(ctx context.Context, collection string, vector []float32, limit int, filter Filter, withVectors bool) ([]SearchResult, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()

	where, args := sqlWhere(filter, 3)
	query := fmt.Sprintf(
		`SELECT id, payload, 1 - (embedding <=> $1) AS score, embedding
		FROM %s%s
		ORDER BY embedding <=> $1
		LIMIT $2`,
		quoteTable(collection), where)
	args = append([]any{pgvector.NewVector(vector), limit}, args...)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ragerr.Store("search", collection, err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			r         SearchResult
			payload   []byte
			embedding pgvector.Vector
		)
		if err := rows.Scan(&r.ID, &payload, &r.Score, &embedding); err != nil {
			return nil, ragerr.Store("search", collection, err)
		}
		if err := json.Unmarshal(payload, &r.Payload); err != nil {
			return nil, ragerr.Store("search", collection, err)
		}
		if withVectors {
			r.Vector = embedding.Slice()
		}
		results = append(results, r)
	}
	return results, ragerr.Store("search", collection, rows.Err())
}

// MMRSearch implements Store
func (s *PGVectorStore) MMRSearch(ctx context.Context, collection string, vector []float32, opts MMROptions, filter Filter) ([]SearchResult, error) {
	return mmrSearch(ctx, s, collection, vector, opts, filter)
}

// Scroll implements Store
func (s *PGVectorStore) Scroll(ctx context.Context, collection string, filter Filter) ([]SearchResult, error) {
	ctx, cancel := s.call(ctx)
	defer cancel()

	where, args := sqlWhere(filter, 1)
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, payload FROM %s%s ORDER BY id`, quoteTable(collection), where),
		args...)
	if err != nil {
		return nil, ragerr.Store("scroll", collection, err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			r       SearchResult
			payload []byte
		)
		if err := rows.Scan(&r.ID, &payload); err != nil {
			return nil, ragerr.Store("scroll", collection, err)
		}
		if err := json.Unmarshal(payload, &r.Payload); err != nil {
			return nil, ragerr.Store("scroll", collection, err)
		}
		results = append(results, r)
	}
	return results, ragerr.Store("scroll", collection, rows.Err())
}

// Close closes the database connection
func (s *PGVectorStore) Close() error {
	return s.db.Close()
}

// sqlWhere renders f as a WHERE clause on the jsonb payload. Placeholders
// are numbered from first.
func sqlWhere(f Filter, first int) (string, []any) {
	if f.IsEmpty() {
		return "", nil
	}

	clauses := make([]string, 0, len(f.Must))
	args := make([]any, 0, len(f.Must))
	for i, c := range f.Must {
		field := fmt.Sprintf("payload->>%s", pq.QuoteLiteral(c.Key))
		n := first + i
		if len(c.Values) == 1 {
			clauses = append(clauses, fmt.Sprintf("%s = $%d", field, n))
			args = append(args, valueString(c.Values[0]))
			continue
		}
		values := make([]string, len(c.Values))
		for j, v := range c.Values {
			values[j] = valueString(v)
		}
		clauses = append(clauses, fmt.Sprintf("%s = ANY($%d)", field, n))
		args = append(args, pq.Array(values))
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
