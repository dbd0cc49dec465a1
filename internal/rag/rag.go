// Package rag composes the scanner, splitter, embedding engine, and vector
// index into the two operations the rest of the system uses: indexing a
// documents folder and enhancing queries with retrieved context.
package rag

import (
	"errors"
	"time"
)

// Orchestration-level errors. Component-level failures carry their own types
// (scanner.LoadError, splitter.ProcessingError, embedding.EmbeddingError).
var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("rag: manager is closed")

	// ErrNotInitialized is returned when an operation runs before Initialize.
	ErrNotInitialized = errors.New("rag: manager not initialized")

	// ErrNoDocumentsFolder is returned by indexing when the configured
	// documents folder was invalid at initialization.
	ErrNoDocumentsFolder = errors.New("rag: documents folder unavailable")
)

// State describes the manager's readiness.
type State int

const (
	StateNotInitialized State = iota
	StateInitializing
	StateReady
	// StateDegraded means initialization partially failed (documents folder
	// invalid, or the embedding model fell back to the deterministic
	// stand-in). A degraded manager still answers queries.
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateNotInitialized:
		return "not_initialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// UploadedFile describes a user-uploaded file already validated and staged
// to local disk by the caller. Cleanup of the staged copy is the caller's
// responsibility.
type UploadedFile struct {
	Path         string // Temporary on-disk path
	DocumentID   string // Caller-generated identifier
	OriginalName string // File name as uploaded
}

// FailedDocument records one source that failed during an indexing run.
type FailedDocument struct {
	Path   string
	Reason string
}

// IndexStats summarizes one indexing run.
type IndexStats struct {
	DocumentsProcessed int
	DocumentsFailed    []FailedDocument
	ChunksCreated      int
	EmbeddingDimension int
	Duration           time.Duration
}

// Stats is the status surface exposed to health checks.
type Stats struct {
	State              State
	Degraded           bool
	DegradedReason     string
	IndexedChunks      int
	EmbeddingModel     string
	EmbeddingDimension int
}
