package index

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
)

// ErrQdrantUnreachable is returned when the Qdrant server cannot be reached
// within the startup retry budget.
var ErrQdrantUnreachable = fmt.Errorf("qdrant server unreachable")

// upsertBatchSize bounds how many points go into one upsert request.
const upsertBatchSize = 100

// Qdrant is the persistent vector index backend. It owns the on-disk
// representation of embedded chunks and is the only component that survives
// process restarts.
type Qdrant struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrant connects to Qdrant, verifies health with retry, and ensures the
// collection exists with cosine distance at the given dimension.
func NewQdrant(ctx context.Context, host string, port int, collection string, dimension int) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	q := &Qdrant{
		client:     client,
		collection: collection,
		dimension:  dimension,
	}

	if err := q.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}
	if err := q.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

// healthCheckWithRetry probes Qdrant with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (q *Qdrant) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		return q.Health(ctx)
	}
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

// Health performs a single health check against Qdrant.
func (q *Qdrant) Health(ctx context.Context) error {
	result, err := q.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// ensureCollection creates the collection if it does not exist.
// Idempotent - safe to call multiple times.
func (q *Qdrant) ensureCollection(ctx context.Context) error {
	collections, err := q.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, name := range collections {
		if name == q.collection {
			return nil
		}
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			"content": {
				Size:     uint64(q.dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

// Upsert stores entries in batches, replacing points that share an ID.
// Entry IDs are deterministic, so re-indexing a changed file supersedes its
// stale chunks instead of duplicating them.
func (q *Qdrant) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	for i, e := range entries {
		if len(e.Vector) != q.dimension {
			return fmt.Errorf("%w: entry %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(e.Vector), q.dimension)
		}
	}

	for i := 0; i < len(entries); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(entries))
		batch := entries[i:end]
		points := make([]*qdrant.PointStruct, len(batch))

		for j, e := range batch {
			points[j] = &qdrant.PointStruct{
				Id: qdrant.NewIDUUID(e.ID),
				Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
					"content": qdrant.NewVector(e.Vector...),
				}),
				Payload: qdrant.NewValueMap(map[string]any{
					"text":                e.Text,
					"source_file":         e.Payload.SourceFile,
					"source_name":         e.Payload.SourceName,
					"file_size":           e.Payload.FileSize,
					"file_extension":      e.Payload.FileExtension,
					"modified_date":       e.Payload.ModifiedAt.Format(time.RFC3339),
					"relative_path":       e.Payload.RelativePath,
					"chunk_index":         e.Payload.ChunkIndex,
					"total_chunks":        e.Payload.TotalChunks,
					"section":             e.Payload.Section,
					"embedding_model":     e.Payload.EmbeddingModel,
					"embedding_dimension": e.Payload.EmbeddingDimension,
				}),
			}
		}

		if err := q.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("upsert batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

// upsertWithRetry performs one upsert request with exponential backoff.
func (q *Qdrant) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: q.collection,
			Points:         points,
		})
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

// Search performs cosine similarity search and returns the topK entries
// with scores, ordered by score descending.
func (q *Qdrant) Search(ctx context.Context, vector []float32, topK int) ([]Result, error) {
	if len(vector) != q.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(vector), q.dimension)
	}
	if topK <= 0 {
		return nil, nil
	}

	vectorName := "content"
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Using:          &vectorName,
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	results := make([]Result, 0, len(points))
	for _, p := range points {
		payload := p.Payload
		results = append(results, Result{
			Text:       payload["text"].GetStringValue(),
			Score:      float64(p.Score),
			Source:     payload["relative_path"].GetStringValue(),
			SourceName: payload["source_name"].GetStringValue(),
			ChunkIndex: int(payload["chunk_index"].GetIntegerValue()),
		})
	}
	return results, nil
}

// Count returns the total number of stored points.
func (q *Qdrant) Count(ctx context.Context) (int, error) {
	collection, err := q.client.GetCollectionInfo(ctx, q.collection)
	if err != nil {
		return 0, fmt.Errorf("get collection: %w", err)
	}
	return int(collection.GetPointsCount()), nil
}

// Clear deletes all points by dropping and recreating the collection.
func (q *Qdrant) Clear(ctx context.Context) error {
	if err := q.client.DeleteCollection(ctx, q.collection); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return q.ensureCollection(ctx)
}

// Close closes the Qdrant client connection.
func (q *Qdrant) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}
