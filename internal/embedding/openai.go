package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

// DefaultBatchSize bounds how many texts go into one embeddings request.
const DefaultBatchSize = 32

// OpenAIEngine generates embeddings with the OpenAI embeddings API.
// It batches requests and retries rate-limit errors with exponential backoff.
type OpenAIEngine struct {
	client    *openai.Client
	model     string
	batchSize int
	dimension int
	loaded    bool
}

// NewOpenAIEngine creates an engine for the given model. It reads
// OPENAI_API_KEY from the environment and fails if the key is not set.
func NewOpenAIEngine(model string, batchSize int) (*OpenAIEngine, error) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		return nil, &EmbeddingError{Model: model, Err: errors.New("OPENAI_API_KEY environment variable not set")}
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	// openai-go reads OPENAI_API_KEY from the environment
	client := openai.NewClient()

	return &OpenAIEngine{
		client:    &client,
		model:     model,
		batchSize: batchSize,
	}, nil
}

// Load verifies the model by embedding a probe text and records the vector
// dimension reported by the API.
func (e *OpenAIEngine) Load(ctx context.Context) error {
	vectors, err := e.embedBatchWithRetry(ctx, []string{"ping"})
	if err != nil {
		return &EmbeddingError{Model: e.model, Err: fmt.Errorf("load model: %w", err)}
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return &EmbeddingError{Model: e.model, Err: errors.New("probe returned no vector")}
	}
	e.dimension = len(vectors[0])
	e.loaded = true
	return nil
}

// Embed generates embeddings for the given texts in input order, processing
// them in batches no larger than the configured batch size.
func (e *OpenAIEngine) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if !e.loaded {
		return nil, &EmbeddingError{Model: e.model, Err: ErrNotLoaded}
	}

	allEmbeddings := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))
		batch := texts[i:end]

		embeddings, err := e.embedBatchWithRetry(ctx, batch)
		if err != nil {
			return nil, &EmbeddingError{Model: e.model, Err: fmt.Errorf("batch %d-%d: %w", i, end, err)}
		}
		allEmbeddings = append(allEmbeddings, embeddings...)
	}
	return allEmbeddings, nil
}

// EmbedOne generates the embedding for a single text.
func (e *OpenAIEngine) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Dimension returns the vector dimension learned at Load, 0 before Load.
func (e *OpenAIEngine) Dimension() int { return e.dimension }

// ModelName returns the configured model identifier.
func (e *OpenAIEngine) ModelName() string { return e.model }

// embedBatchWithRetry generates embeddings for one batch, retrying rate
// limit errors (HTTP 429) with exponential backoff. Other errors are
// permanent and fail immediately.
func (e *OpenAIEngine) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32

	operation := func() error {
		resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: e.model,
		})
		if err != nil {
			if isRateLimitError(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		embeddings = make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			embeddings[i] = toFloat32(data.Embedding)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	return embeddings, err
}

// isRateLimitError checks if the error is a rate limit error (HTTP 429).
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// toFloat32 converts the API's float64 vectors to the float32 the index
// stores.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
