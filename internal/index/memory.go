package index

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Memory is an in-memory vector index. It backs transient, request-scoped
// sets built from uploaded files, and serves as the default backend when no
// Qdrant instance is configured. Safe for concurrent reads; writes take the
// exclusive lock.
type Memory struct {
	mu        sync.RWMutex
	entries   map[string]*memoryEntry
	order     []string // IDs in first-insertion order, for deterministic ties
	dimension int      // Established by the first upserted vector
}

type memoryEntry struct {
	entry    Entry
	position int
}

// NewMemory creates an empty in-memory index. The dimension is established
// by the first upserted vector.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*memoryEntry)}
}

// Upsert stores entries, replacing any existing entry with the same ID. A
// replaced entry keeps its original insertion position.
func (m *Memory) Upsert(ctx context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		if m.dimension == 0 {
			m.dimension = len(e.Vector)
		}
		if len(e.Vector) != m.dimension {
			return ErrDimensionMismatch
		}
		if existing, ok := m.entries[e.ID]; ok {
			existing.entry = e
			continue
		}
		m.entries[e.ID] = &memoryEntry{entry: e, position: len(m.order)}
		m.order = append(m.order, e.ID)
	}
	return nil
}

// Search returns the topK entries by cosine similarity, sorted descending.
// Ties break by original insertion order.
func (m *Memory) Search(ctx context.Context, vector []float32, topK int) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 || topK <= 0 {
		return nil, nil
	}
	if m.dimension != 0 && len(vector) != m.dimension {
		return nil, ErrDimensionMismatch
	}

	type scored struct {
		entry    *memoryEntry
		score    float64
		position int
	}
	ranked := make([]scored, 0, len(m.entries))
	for _, e := range m.entries {
		ranked = append(ranked, scored{
			entry:    e,
			score:    cosineSimilarity(vector, e.entry.Vector),
			position: e.position,
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].position < ranked[j].position
	})

	if topK > len(ranked) {
		topK = len(ranked)
	}
	results := make([]Result, topK)
	for i := 0; i < topK; i++ {
		e := ranked[i].entry.entry
		results[i] = Result{
			Text:       e.Text,
			Score:      ranked[i].score,
			Source:     e.Payload.RelativePath,
			SourceName: e.Payload.SourceName,
			ChunkIndex: e.Payload.ChunkIndex,
		}
	}
	return results, nil
}

// Count returns the number of stored entries.
func (m *Memory) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

// Clear removes all entries and resets the established dimension.
func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*memoryEntry)
	m.order = nil
	m.dimension = 0
	return nil
}

// Close is a no-op for the in-memory index.
func (m *Memory) Close() error { return nil }

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
