package indexer

import (
	"github.com/codementor/ragindex/internal/extract"
	"github.com/codementor/ragindex/internal/vectorstore"
)

// Chunk is a bounded piece of a file, ready to be embedded
type Chunk struct {
	Text       string `json:"text"`
	SourcePath string `json:"path"`        // forward slashes
	ChunkIndex int    `json:"chunk_index"` // position within the file, from 0
	SessionID  string `json:"session_id"`
	ByteLength int    `json:"byte_length"`
}

// Payload returns the vector store payload of the chunk
func (c Chunk) Payload() map[string]any {
	return map[string]any{
		vectorstore.KeyPath:       c.SourcePath,
		vectorstore.KeyChunkIndex: c.ChunkIndex,
		vectorstore.KeySessionID:  c.SessionID,
		vectorstore.KeyText:       c.Text,
		vectorstore.KeyByteLength: c.ByteLength,
	}
}

// Target is the collection an index call writes to. A zero Dimension
// disables the vector size check.
type Target struct {
	Collection string
	Dimension  int
}

// SkippedFile is a file left out of an index call
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// IndexResult represents the result of an index call
type IndexResult struct {
	Files        []string       `json:"files"`
	Skipped      []SkippedFile  `json:"skipped,omitempty"`
	Chunks       int            `json:"chunks"`
	ChunksByLang map[string]int `json:"chunks_by_lang"`
	ElapsedTime  string         `json:"elapsed_time"`
}

// FileInfo is a file found by a Scanner
type FileInfo struct {
	Path string
	Kind extract.Kind
	Size int64
}
