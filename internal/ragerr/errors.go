// Package ragerr defines the error taxonomy shared by the indexing and
// retrieval components. Errors wrap their cause and are meant to be
// inspected with errors.Is and errors.As.
package ragerr

import (
	"errors"
	"fmt"
)

// ErrNoChunksFound signals that nothing has been indexed for the requested
// scope yet. Callers should index first.
var ErrNoChunksFound = errors.New("no chunks found")

// ExtractionError is a per-file failure while reading or extracting text.
// The indexer logs it and skips the file.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// EmbeddingError aborts the whole index or retrieval call.
type EmbeddingError struct {
	Model string
	Err   error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding with %s: %v", e.Model, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// VectorStoreError aborts the vector store operation it came from.
type VectorStoreError struct {
	Op         string
	Collection string
	Err        error
}

func (e *VectorStoreError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("vector store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("vector store %s on %s: %v", e.Op, e.Collection, e.Err)
}

func (e *VectorStoreError) Unwrap() error { return e.Err }

// DimensionMismatchError reports vectors whose length differs from the
// dimensionality of the collection they target.
type DimensionMismatchError struct {
	Collection string
	Expected   int
	Got        int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch on %s: collection has %d, got %d", e.Collection, e.Expected, e.Got)
}

// Store wraps err as a VectorStoreError unless it already is one.
func Store(op, collection string, err error) error {
	if err == nil {
		return nil
	}
	var vsErr *VectorStoreError
	if errors.As(err, &vsErr) {
		return err
	}
	return &VectorStoreError{Op: op, Collection: collection, Err: err}
}

// Embedding wraps err as an EmbeddingError unless it already is one.
func Embedding(model string, err error) error {
	if err == nil {
		return nil
	}
	var embErr *EmbeddingError
	if errors.As(err, &embErr) {
		return err
	}
	return &EmbeddingError{Model: model, Err: err}
}
