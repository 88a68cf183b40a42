package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codementor/ragindex/internal/config"
	"github.com/codementor/ragindex/internal/extract"
	"github.com/codementor/ragindex/internal/ragerr"
	"github.com/codementor/ragindex/internal/vectorstore"
)

// Embedder turns texts into vectors
type Embedder interface {
	Name() string
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Writer is the part of vectorstore.Store the indexer writes through
type Writer interface {
	Upsert(ctx context.Context, collection string, points []vectorstore.Point, wait bool) error
	DeleteByFilter(ctx context.Context, collection string, filter vectorstore.Filter) error
}

// TextExtractor reads the text of a file
type TextExtractor interface {
	Extract(path string) (string, error)
}

// Indexer chunks files, embeds the chunks and writes them to a collection
type Indexer struct {
	config    config.IndexerConfig
	extractor TextExtractor
	embedder  Embedder
	store     Writer
	detectors Detectors
	logger    *slog.Logger
}

// NewIndexer creates a new indexer with the default extractor and boundary
// detectors
func NewIndexer(cfg config.IndexerConfig, embedder Embedder, store Writer, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		config:    cfg,
		extractor: extract.New(),
		embedder:  embedder,
		store:     store,
		detectors: DefaultDetectors(),
		logger:    logger,
	}
}

// WithExtractor replaces the text extractor
func (idx *Indexer) WithExtractor(e TextExtractor) *Indexer {
	idx.extractor = e
	return idx
}

// IndexFiles indexes files into target for sessionID and returns the number
// of chunks written.
func (idx *Indexer) IndexFiles(ctx context.Context, target Target, sessionID string, files []string) (int, error) {
	result, err := idx.Index(ctx, target, sessionID, files)
	if err != nil {
		return 0, err
	}
	return result.Chunks, nil
}

// RefreshFiles removes what was indexed for files in sessionID, then indexes
// them again.
func (idx *Indexer) RefreshFiles(ctx context.Context, target Target, sessionID string, files []string) (int, error) {
	for _, f := range files {
		filter := vectorstore.Where(
			vectorstore.Match(vectorstore.KeySessionID, sessionID),
			vectorstore.Match(vectorstore.KeyPath, vectorstore.NormalizePath(f)),
		)
		if err := idx.store.DeleteByFilter(ctx, target.Collection, filter); err != nil {
			return 0, err
		}
	}
	return idx.IndexFiles(ctx, target, sessionID, files)
}

// Index is IndexFiles with a detailed result. Unreadable files are logged and
// skipped; embedding and storage failures abort the call.
func (idx *Indexer) Index(ctx context.Context, target Target, sessionID string, files []string) (*IndexResult, error) {
	startTime := time.Now()
	result := &IndexResult{ChunksByLang: make(map[string]int)}

	perFile := idx.chunkFiles(sessionID, files)

	var chunks []Chunk
	for i, fc := range perFile {
		if fc.err != nil {
			idx.logger.Warn("skipping file", "path", files[i], "error", fc.err)
			result.Skipped = append(result.Skipped, SkippedFile{Path: files[i], Reason: fc.err.Error()})
			continue
		}
		result.Files = append(result.Files, files[i])
		result.ChunksByLang[GetLanguage(filepath.Ext(files[i]))] += len(fc.chunks)
		chunks = append(chunks, fc.chunks...)
	}

	if len(chunks) == 0 {
		result.ElapsedTime = time.Since(startTime).String()
		return result, nil
	}

	vectors, err := idx.embed(ctx, target, chunks)
	if err != nil {
		return nil, err
	}

	if err := idx.upsert(ctx, target, chunks, vectors); err != nil {
		return nil, err
	}

	result.Chunks = len(chunks)
	result.ElapsedTime = time.Since(startTime).String()

	idx.logger.Info("indexed files",
		"collection", target.Collection,
		"session_id", sessionID,
		"files", len(result.Files),
		"skipped", len(result.Skipped),
		"chunks", result.Chunks,
		"elapsed", result.ElapsedTime,
	)
	return result, nil
}

type fileChunks struct {
	chunks []Chunk
	err    error
}

// chunkFiles reads and segments files concurrently. Results keep the order
// of files.
func (idx *Indexer) chunkFiles(sessionID string, files []string) []fileChunks {
	out := make([]fileChunks, len(files))

	var wg sync.WaitGroup
	// Use a semaphore to limit concurrency
	sem := make(chan struct{}, 10)

	for i, file := range files {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			chunks, err := idx.ChunkFile(file, sessionID)
			out[i] = fileChunks{chunks: chunks, err: err}
		}()
	}

	wg.Wait()
	return out
}

// ChunkFile extracts and segments a single file
func (idx *Indexer) ChunkFile(path, sessionID string) ([]Chunk, error) {
	text, err := idx.extractor.Extract(path)
	if err != nil {
		return nil, err
	}

	var texts []string
	switch extract.Classify(path) {
	case extract.KindDocument, extract.KindProse:
		texts, err = SegmentDoc(text, idx.config.ChunkSize, idx.config.ChunkOverlap)
	default:
		texts, err = SegmentCode(text, idx.config.ChunkSize, idx.config.ChunkOverlap, idx.detectors.For(filepath.Ext(path)))
	}
	if err != nil {
		return nil, &ragerr.ExtractionError{Path: path, Err: err}
	}

	source := vectorstore.NormalizePath(path)
	chunks := make([]Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = Chunk{
			Text:       t,
			SourcePath: source,
			ChunkIndex: i,
			SessionID:  sessionID,
			ByteLength: len(t),
		}
	}
	return chunks, nil
}

// embed computes all vectors in one call and checks their shape
func (idx *Indexer) embed(ctx context.Context, target Target, chunks []Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, ragerr.Embedding(idx.embedder.Name(), err)
	}
	if len(vectors) != len(chunks) {
		return nil, ragerr.Embedding(idx.embedder.Name(),
			fmt.Errorf("expected %d vectors, got %d", len(chunks), len(vectors)))
	}

	dim := target.Dimension
	for _, v := range vectors {
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim {
			return nil, &ragerr.DimensionMismatchError{Collection: target.Collection, Expected: dim, Got: len(v)}
		}
	}
	return vectors, nil
}

// upsert writes points in batches and waits for each batch to be committed.
// The first failing batch fails the call.
func (idx *Indexer) upsert(ctx context.Context, target Target, chunks []Chunk, vectors [][]float32) error {
	points := make([]vectorstore.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vectorstore.Point{
			ID:      uuid.New().String(),
			Vector:  vectors[i],
			Payload: c.Payload(),
		}
	}

	batchSize := idx.config.UpsertBatchSize
	if batchSize <= 0 {
		batchSize = 128
	}

	for i := 0; i < len(points); i += batchSize {
		end := min(i+batchSize, len(points))
		if err := idx.store.Upsert(ctx, target.Collection, points[i:end], true); err != nil {
			return ragerr.Store("upsert", target.Collection, err)
		}
		idx.logger.Debug("upserted batch", "collection", target.Collection, "points", end-i)
	}
	return nil
}
