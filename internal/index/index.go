// Package index stores chunk vectors with metadata and answers
// nearest-neighbor queries. Two backends implement the same contract: an
// in-memory index for transient, request-scoped sets and tests, and a
// Qdrant-backed index that survives process restarts.
package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrDimensionMismatch is returned when a vector's dimension does not match
// the index's established dimension. Mixing dimensions is always fatal.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Payload is the metadata bag persisted with every entry, sufficient to
// reconstruct a Result without recomputation.
type Payload struct {
	SourceFile         string
	SourceName         string
	FileSize           int64
	FileExtension      string
	ModifiedAt         time.Time
	RelativePath       string
	ChunkIndex         int
	TotalChunks        int
	Section            string
	EmbeddingModel     string
	EmbeddingDimension int
}

// Entry is the persisted unit: chunk text, metadata, and vector, addressable
// by a stable identifier derived from source path and chunk index.
type Entry struct {
	ID      string
	Text    string
	Vector  []float32
	Payload Payload
}

// Result is a read-only projection returned by Search. Constructed fresh per
// query, never persisted.
type Result struct {
	Text       string
	Score      float64 // Cosine similarity
	Source     string  // Relative path of the originating file
	SourceName string  // Base file name, used for citations
	ChunkIndex int
}

// Index is the vector index contract. Upsert replaces entries sharing the
// same ID; Search returns the topK highest-scoring entries in descending
// score order.
type Index interface {
	Upsert(ctx context.Context, entries []Entry) error
	Search(ctx context.Context, vector []float32, topK int) ([]Result, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	Close() error
}

// EntryID derives the stable identifier for a chunk from its source's
// relative path and chunk index. Re-indexing a source produces the same IDs,
// so upserts supersede stale chunks instead of duplicating them.
func EntryID(relativePath string, chunkIndex int) string {
	name := fmt.Sprintf("docrag://%s#%d", relativePath, chunkIndex)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
