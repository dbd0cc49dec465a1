// Package embedding converts text into fixed-length vectors.
//
// The real provider is the OpenAI embeddings API (the configured model); when
// it cannot be loaded the factory falls back to a deterministic hash-derived
// stand-in so the rest of the pipeline stays exercisable. The fallback is
// logged as degraded, never silent.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Engine produces embedding vectors. Load must succeed before Embed or
// EmbedOne may be called; Dimension is only meaningful after Load.
type Engine interface {
	Load(ctx context.Context) error
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	ModelName() string
}

// EmbeddingError reports a model load or inference failure.
type EmbeddingError struct {
	Model string
	Err   error
}

func (e *EmbeddingError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("embedding error [%s]: %v", e.Model, e.Err)
	}
	return fmt.Sprintf("embedding error: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// ErrNotLoaded is returned when embedding is attempted before Load.
var ErrNotLoaded = errors.New("model not loaded, call Load first")

// NewEngine selects an embedding engine: the OpenAI provider for the given
// model, or the deterministic stand-in when the provider cannot be loaded.
// The returned flag reports whether the engine is the degraded stand-in.
func NewEngine(ctx context.Context, model string, batchSize int, logger *slog.Logger) (Engine, bool) {
	if logger == nil {
		logger = slog.Default()
	}

	engine, err := NewOpenAIEngine(model, batchSize)
	if err == nil {
		if loadErr := engine.Load(ctx); loadErr == nil {
			logger.Info("embedding model loaded", "model", model, "dimension", engine.Dimension())
			return engine, false
		} else {
			err = loadErr
		}
	}

	logger.Warn("embedding model unavailable, falling back to deterministic stand-in",
		"model", model, "error", err)
	standin := NewHashEngine()
	_ = standin.Load(ctx) // never fails
	return standin, true
}
