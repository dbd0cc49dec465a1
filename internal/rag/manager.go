package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bull/docrag/internal/config"
	"github.com/bull/docrag/internal/embedding"
	"github.com/bull/docrag/internal/index"
	"github.com/bull/docrag/internal/scanner"
	"github.com/bull/docrag/internal/splitter"
)

// Manager is the retrieval orchestrator. One long-lived instance is shared
// across requests; lifecycle (Initialize/Close) belongs to the host
// process's startup and shutdown hooks.
//
// Queries are read-only against the index and safe to run concurrently.
// Concurrent IndexAllDocuments runs are not safe against each other and must
// be serialized by the caller.
type Manager struct {
	cfg    *config.Config
	logger *slog.Logger

	mu             sync.RWMutex
	state          State
	closed         bool
	degraded       bool
	degradedReason string

	scanner  *scanner.Scanner
	splitter *splitter.Splitter
	engine   embedding.Engine
	index    index.Index
}

// NewManager creates an uninitialized Manager for the given config.
func NewManager(cfg *config.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:    cfg,
		logger: logger,
		state:  StateNotInitialized,
	}
}

// Initialize loads the embedding engine, opens the vector index, and
// validates the documents folder. An unreachable index is fatal; a missing
// folder or an embedding-model fallback leaves the manager Degraded but
// able to answer queries.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.state = StateInitializing
	m.mu.Unlock()

	engine, degraded := embedding.NewEngine(ctx, m.cfg.Embedding.Model, m.cfg.Embedding.BatchSize, m.logger)
	degradedReason := ""
	if degraded {
		degradedReason = "embedding model fell back to deterministic stand-in"
	}

	idx, err := m.openIndex(ctx, engine.Dimension())
	if err != nil {
		m.mu.Lock()
		m.state = StateNotInitialized
		m.mu.Unlock()
		return fmt.Errorf("open vector index: %w", err)
	}

	split := splitter.New(splitter.Options{
		ChunkSize:     m.cfg.Splitter.ChunkSize,
		ChunkOverlap:  m.cfg.Splitter.ChunkOverlap,
		Separators:    m.cfg.Splitter.Separators,
		KeepSeparator: m.cfg.Splitter.KeepSeparator,
	}, m.logger)

	scan, err := scanner.New(m.cfg.DocumentsDir, m.logger)
	if err != nil {
		m.logger.Warn("documents folder unavailable, indexing disabled",
			"folder", m.cfg.DocumentsDir, "error", err)
		degraded = true
		if degradedReason != "" {
			degradedReason += "; "
		}
		degradedReason += "documents folder unavailable"
		scan = nil
	}

	m.mu.Lock()
	m.engine = engine
	m.index = idx
	m.splitter = split
	m.scanner = scan
	m.degraded = degraded
	m.degradedReason = degradedReason
	if degraded {
		m.state = StateDegraded
	} else {
		m.state = StateReady
	}
	m.mu.Unlock()

	m.logger.Info("retrieval manager initialized",
		"state", m.State().String(),
		"model", engine.ModelName(),
		"dimension", engine.Dimension(),
		"backend", m.cfg.Index.Backend,
	)
	return nil
}

func (m *Manager) openIndex(ctx context.Context, dimension int) (index.Index, error) {
	switch m.cfg.Index.Backend {
	case "qdrant":
		q := m.cfg.Index.Qdrant
		return index.NewQdrant(ctx, q.Host, q.Port, q.Collection, dimension)
	default:
		return index.NewMemory(), nil
	}
}

// State returns the current readiness state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return StateNotInitialized
	}
	return m.state
}

// ready returns an orchestration error unless the manager can serve.
func (m *Manager) ready() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	if m.state != StateReady && m.state != StateDegraded {
		return ErrNotInitialized
	}
	return nil
}

// IndexAllDocuments scans the configured folder, splits and embeds every
// supported document, and upserts the results into the persistent index.
// Safe to call repeatedly: entry IDs are stable, so unchanged files upsert
// in place and changed files supersede their stale chunks. Callers must
// serialize concurrent invocations.
func (m *Manager) IndexAllDocuments(ctx context.Context) (*IndexStats, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	if m.scanner == nil {
		return nil, ErrNoDocumentsFolder
	}

	start := time.Now()
	stats := &IndexStats{EmbeddingDimension: m.engine.Dimension()}

	sources, err := m.scanner.Scan(true)
	if err != nil {
		return nil, fmt.Errorf("scan documents: %w", err)
	}
	m.logger.Info("indexing documents", "folder", m.scanner.Root(), "found", len(sources))

	results, failures := m.splitter.ProcessAll(ctx, sources)
	for _, f := range failures {
		stats.DocumentsFailed = append(stats.DocumentsFailed, FailedDocument{
			Path:   f.Source.RelativePath,
			Reason: f.Err.Error(),
		})
	}

	for _, res := range results {
		entries, err := m.embedChunks(ctx, res.Chunks)
		if err != nil {
			m.logger.Warn("failed to embed document", "path", res.Source.RelativePath, "error", err)
			stats.DocumentsFailed = append(stats.DocumentsFailed, FailedDocument{
				Path:   res.Source.RelativePath,
				Reason: err.Error(),
			})
			continue
		}
		if err := m.index.Upsert(ctx, entries); err != nil {
			m.logger.Warn("failed to store document", "path", res.Source.RelativePath, "error", err)
			stats.DocumentsFailed = append(stats.DocumentsFailed, FailedDocument{
				Path:   res.Source.RelativePath,
				Reason: err.Error(),
			})
			continue
		}
		stats.DocumentsProcessed++
		stats.ChunksCreated += len(entries)
	}

	stats.Duration = time.Since(start)
	m.logger.Info("indexing complete",
		"processed", stats.DocumentsProcessed,
		"failed", len(stats.DocumentsFailed),
		"chunks", stats.ChunksCreated,
		"duration", stats.Duration,
	)
	return stats, nil
}

// embedChunks embeds chunk texts and packages them as index entries with the
// full metadata bag.
func (m *Manager) embedChunks(ctx context.Context, chunks []splitter.Chunk) ([]index.Entry, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := m.engine.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	entries := make([]index.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = index.Entry{
			ID:     index.EntryID(c.Source.RelativePath, c.Index),
			Text:   c.Text,
			Vector: vectors[i],
			Payload: index.Payload{
				SourceFile:         c.Source.Path,
				SourceName:         c.Source.Name,
				FileSize:           c.Source.Size,
				FileExtension:      c.Source.Extension,
				ModifiedAt:         c.Source.ModifiedAt,
				RelativePath:       c.Source.RelativePath,
				ChunkIndex:         c.Index,
				TotalChunks:        c.Total,
				Section:            c.Section,
				EmbeddingModel:     m.engine.ModelName(),
				EmbeddingDimension: m.engine.Dimension(),
			},
		}
	}
	return entries, nil
}

// EnhanceQueryWithContext embeds the query, retrieves up to
// max_context_chunks results above the similarity threshold, and appends
// their text to the query. Retrieval failures degrade to no context: the
// original query comes back with an empty result list and no error, so a
// missing context block never blocks the chat path.
func (m *Manager) EnhanceQueryWithContext(ctx context.Context, query string) (string, []index.Result, error) {
	if err := m.ready(); err != nil {
		return query, nil, err
	}

	vector, err := m.engine.EmbedOne(ctx, query)
	if err != nil {
		m.logger.Warn("query embedding failed, returning query unchanged", "error", err)
		return query, nil, nil
	}

	results, err := m.index.Search(ctx, vector, m.cfg.Retrieval.MaxContextChunks)
	if err != nil {
		m.logger.Warn("index search failed, returning query unchanged", "error", err)
		return query, nil, nil
	}

	kept := m.applyThreshold(results)
	if len(kept) == 0 {
		return query, nil, nil
	}
	return m.fuse(query, kept), kept, nil
}

// ProcessUploadedDocumentsWithContext indexes the uploaded files into a
// request-scoped transient set, searches it together with the persistent
// index, and proceeds as EnhanceQueryWithContext over the merged ranking.
// Uploaded vectors are never written to the persistent index.
func (m *Manager) ProcessUploadedDocumentsWithContext(ctx context.Context, query string, uploads []UploadedFile) (string, []index.Result, error) {
	if err := m.ready(); err != nil {
		return query, nil, err
	}

	transient := index.NewMemory()
	for _, up := range uploads {
		if err := m.indexUpload(ctx, transient, up); err != nil {
			m.logger.Warn("failed to process uploaded file",
				"name", up.OriginalName, "id", up.DocumentID, "error", err)
		}
	}

	vector, err := m.engine.EmbedOne(ctx, query)
	if err != nil {
		m.logger.Warn("query embedding failed, returning query unchanged", "error", err)
		return query, nil, nil
	}

	topK := m.cfg.Retrieval.MaxContextChunks

	persistent, err := m.index.Search(ctx, vector, topK)
	if err != nil {
		m.logger.Warn("persistent index search failed, continuing with uploads only", "error", err)
		persistent = nil
	}
	uploaded, err := transient.Search(ctx, vector, topK)
	if err != nil {
		m.logger.Warn("transient index search failed", "error", err)
		uploaded = nil
	}

	// Merge and re-rank by score, then cap at the context budget.
	merged := append(persistent, uploaded...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > topK {
		merged = merged[:topK]
	}

	kept := m.applyThreshold(merged)
	if len(kept) == 0 {
		return query, nil, nil
	}
	return m.fuse(query, kept), kept, nil
}

// indexUpload splits and embeds one uploaded file into the transient index.
// Entry IDs are namespaced by the caller-generated document ID so uploads
// cannot collide with persistent entries or each other.
func (m *Manager) indexUpload(ctx context.Context, transient *index.Memory, up UploadedFile) error {
	meta, err := scanner.Describe(up.Path)
	if err != nil {
		return err
	}
	if up.OriginalName != "" {
		meta.Name = up.OriginalName
		meta.RelativePath = up.OriginalName
	}

	chunks, err := m.splitter.Process(ctx, meta)
	if err != nil {
		return err
	}

	entries, err := m.embedChunks(ctx, chunks)
	if err != nil {
		return err
	}
	for i := range entries {
		entries[i].ID = index.EntryID("upload/"+up.DocumentID, entries[i].Payload.ChunkIndex)
	}
	return transient.Upsert(ctx, entries)
}

// applyThreshold drops results scoring below the configured similarity
// threshold.
func (m *Manager) applyThreshold(results []index.Result) []index.Result {
	var kept []index.Result
	for _, r := range results {
		if r.Score >= m.cfg.Retrieval.SimilarityThreshold {
			kept = append(kept, r)
		}
	}
	return kept
}

// fuse appends the retrieved context block to the original query. Each block
// is prefixed with its source name when configured, blocks are joined by the
// configured context separator.
func (m *Manager) fuse(query string, results []index.Result) string {
	blocks := make([]string, len(results))
	for i, r := range results {
		if m.cfg.IncludeSources() {
			blocks[i] = fmt.Sprintf("[Source: %s]\n%s", r.SourceName, r.Text)
		} else {
			blocks[i] = r.Text
		}
	}

	var b strings.Builder
	b.WriteString(query)
	b.WriteString("\n\nRelevant context from documents:\n\n")
	b.WriteString(strings.Join(blocks, m.cfg.Retrieval.ContextSeparator))
	return b.String()
}

// Stats reports readiness, indexed chunk count, and embedding details for
// an externally maintained health/status surface.
func (m *Manager) Stats(ctx context.Context) Stats {
	m.mu.RLock()
	state := m.state
	if m.closed {
		state = StateNotInitialized
	}
	degraded := m.degraded
	reason := m.degradedReason
	engine := m.engine
	idx := m.index
	m.mu.RUnlock()

	stats := Stats{
		State:          state,
		Degraded:       degraded,
		DegradedReason: reason,
	}
	if engine != nil {
		stats.EmbeddingModel = engine.ModelName()
		stats.EmbeddingDimension = engine.Dimension()
	}
	if idx != nil {
		if count, err := idx.Count(ctx); err == nil {
			stats.IndexedChunks = count
		}
	}
	return stats
}

// Close releases the index handle. All operations after Close fail with
// ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.state = StateNotInitialized
	if m.index != nil {
		return m.index.Close()
	}
	return nil
}
