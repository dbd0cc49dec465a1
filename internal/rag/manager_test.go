package rag

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docrag/internal/config"
	"github.com/bull/docrag/internal/embedding"
)

// Tests run against the in-memory backend with the deterministic stand-in
// embedder (no OPENAI_API_KEY), so identical texts score exactly 1.0 and
// unrelated texts score near zero.

func testConfig(t *testing.T, docsDir string) *config.Config {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	cfg := config.Default()
	cfg.DocumentsDir = docsDir
	return cfg
}

func testManager(t *testing.T, docsDir string) *Manager {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(testConfig(t, docsDir), logger)
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() { m.Close() })
	return m
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestInitialize_DegradedWithStandInEmbedder(t *testing.T) {
	m := testManager(t, t.TempDir())

	assert.Equal(t, StateDegraded, m.State())

	stats := m.Stats(context.Background())
	assert.True(t, stats.Degraded)
	assert.Contains(t, stats.DegradedReason, "stand-in")
	assert.Equal(t, embedding.HashModelName, stats.EmbeddingModel)
	assert.Equal(t, embedding.HashDimension, stats.EmbeddingDimension)
}

func TestInitialize_MissingFolderStillAnswersQueries(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	m := testManager(t, missing)

	assert.Equal(t, StateDegraded, m.State())
	stats := m.Stats(context.Background())
	assert.Contains(t, stats.DegradedReason, "documents folder unavailable")

	// Indexing is disabled but the query path still works.
	_, err := m.IndexAllDocuments(context.Background())
	require.ErrorIs(t, err, ErrNoDocumentsFolder)

	augmented, results, err := m.EnhanceQueryWithContext(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", augmented)
	assert.Empty(t, results)
}

func TestIndexAllDocuments(t *testing.T) {
	docs := t.TempDir()
	writeDoc(t, docs, "a.txt", "the first document body")
	writeDoc(t, docs, "b.md", "# Heading\n\nthe second document body")

	m := testManager(t, docs)
	ctx := context.Background()

	stats, err := m.IndexAllDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DocumentsProcessed)
	assert.Empty(t, stats.DocumentsFailed)
	assert.Equal(t, 2, stats.ChunksCreated)
	assert.Equal(t, embedding.HashDimension, stats.EmbeddingDimension)

	assert.Equal(t, 2, m.Stats(ctx).IndexedChunks)
}

func TestIndexAllDocuments_Idempotent(t *testing.T) {
	docs := t.TempDir()
	writeDoc(t, docs, "a.txt", "stable content")

	m := testManager(t, docs)
	ctx := context.Background()

	_, err := m.IndexAllDocuments(ctx)
	require.NoError(t, err)
	first := m.Stats(ctx).IndexedChunks

	// Entry IDs are stable, so a second run upserts in place.
	_, err = m.IndexAllDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, m.Stats(ctx).IndexedChunks)
}

func TestIndexAllDocuments_CollectsFailures(t *testing.T) {
	docs := t.TempDir()
	writeDoc(t, docs, "good.txt", "fine content")
	writeDoc(t, docs, "broken.pdf", "not actually a pdf")

	m := testManager(t, docs)

	stats, err := m.IndexAllDocuments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DocumentsProcessed)
	require.Len(t, stats.DocumentsFailed, 1)
	assert.Equal(t, "broken.pdf", stats.DocumentsFailed[0].Path)
	assert.NotEmpty(t, stats.DocumentsFailed[0].Reason)
}

func TestEnhanceQuery_RetrievesMatchingChunk(t *testing.T) {
	docs := t.TempDir()
	content := "the quarterly report covers revenue and churn"
	writeDoc(t, docs, "report.txt", content)

	m := testManager(t, docs)
	ctx := context.Background()
	_, err := m.IndexAllDocuments(ctx)
	require.NoError(t, err)

	// The stand-in embedder maps identical text to identical vectors, so
	// querying with the chunk's own text scores 1.0.
	augmented, results, err := m.EnhanceQueryWithContext(ctx, content)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, "report.txt", results[0].SourceName)

	assert.True(t, strings.HasPrefix(augmented, content))
	assert.Contains(t, augmented, "Relevant context from documents:")
	assert.Contains(t, augmented, "[Source: report.txt]")
	assert.Contains(t, augmented, content)
}

func TestEnhanceQuery_BelowThresholdLeavesQueryUnchanged(t *testing.T) {
	docs := t.TempDir()
	writeDoc(t, docs, "report.txt", "the quarterly report covers revenue and churn")

	m := testManager(t, docs)
	ctx := context.Background()
	_, err := m.IndexAllDocuments(ctx)
	require.NoError(t, err)

	query := "completely unrelated topic about gardening"
	augmented, results, err := m.EnhanceQueryWithContext(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, query, augmented)
	assert.Empty(t, results)
}

func TestEnhanceQuery_EmptyIndex(t *testing.T) {
	m := testManager(t, t.TempDir())

	augmented, results, err := m.EnhanceQueryWithContext(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, "anything", augmented)
	assert.Empty(t, results)
}

func TestEnhanceQuery_WithoutSourcePrefix(t *testing.T) {
	docs := t.TempDir()
	content := "content without a citation prefix"
	writeDoc(t, docs, "doc.txt", content)

	cfg := testConfig(t, docs)
	noSources := false
	cfg.Retrieval.IncludeSources = &noSources

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(cfg, logger)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))
	defer m.Close()

	_, err := m.IndexAllDocuments(ctx)
	require.NoError(t, err)

	augmented, results, err := m.EnhanceQueryWithContext(ctx, content)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.NotContains(t, augmented, "[Source:")
	assert.Contains(t, augmented, content)
}

func TestProcessUploads_TransientOnly(t *testing.T) {
	// Persistent documents folder stays empty.
	m := testManager(t, t.TempDir())
	ctx := context.Background()

	staged := t.TempDir()
	content := "uploaded memo about the offsite agenda"
	path := writeDoc(t, staged, "staged-123.txt", content)

	augmented, results, err := m.ProcessUploadedDocumentsWithContext(ctx, content, []UploadedFile{
		{Path: path, DocumentID: "doc-123", OriginalName: "memo.txt"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Equal(t, "memo.txt", results[0].SourceName, "results carry the original upload name")
	assert.Contains(t, augmented, content)

	// Uploaded vectors never reach the persistent index.
	assert.Equal(t, 0, m.Stats(ctx).IndexedChunks)
}

func TestProcessUploads_MergesWithPersistent(t *testing.T) {
	docs := t.TempDir()
	indexed := "persistent knowledge about billing"
	writeDoc(t, docs, "billing.txt", indexed)

	m := testManager(t, docs)
	ctx := context.Background()
	_, err := m.IndexAllDocuments(ctx)
	require.NoError(t, err)

	staged := t.TempDir()
	path := writeDoc(t, staged, "up.txt", indexed)

	// Both the persistent chunk and the upload match the query exactly, so
	// the merged ranking contains both at score 1.0.
	_, results, err := m.ProcessUploadedDocumentsWithContext(ctx, indexed, []UploadedFile{
		{Path: path, DocumentID: "doc-9", OriginalName: "up.txt"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	names := []string{results[0].SourceName, results[1].SourceName}
	assert.Contains(t, names, "billing.txt")
	assert.Contains(t, names, "up.txt")
}

func TestProcessUploads_BadFileSkipped(t *testing.T) {
	m := testManager(t, t.TempDir())
	ctx := context.Background()

	query := "does not matter"
	augmented, results, err := m.ProcessUploadedDocumentsWithContext(ctx, query, []UploadedFile{
		{Path: filepath.Join(t.TempDir(), "missing.txt"), DocumentID: "doc-x", OriginalName: "missing.txt"},
	})
	require.NoError(t, err)
	assert.Equal(t, query, augmented)
	assert.Empty(t, results)
}

func TestOperations_BeforeInitialize(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	m := NewManager(config.Default(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := m.IndexAllDocuments(context.Background())
	require.ErrorIs(t, err, ErrNotInitialized)

	query := "q"
	augmented, _, err := m.EnhanceQueryWithContext(context.Background(), query)
	require.ErrorIs(t, err, ErrNotInitialized)
	assert.Equal(t, query, augmented)
}

func TestOperations_AfterClose(t *testing.T) {
	m := testManager(t, t.TempDir())
	require.NoError(t, m.Close())

	_, err := m.IndexAllDocuments(context.Background())
	require.ErrorIs(t, err, ErrClosed)

	_, _, err = m.EnhanceQueryWithContext(context.Background(), "q")
	require.ErrorIs(t, err, ErrClosed)

	_, _, err = m.ProcessUploadedDocumentsWithContext(context.Background(), "q", nil)
	require.ErrorIs(t, err, ErrClosed)

	assert.Equal(t, StateNotInitialized, m.State())

	// Close is idempotent.
	require.NoError(t, m.Close())
}

func TestThreshold_Respected(t *testing.T) {
	docs := t.TempDir()
	content := "exact match chunk"
	writeDoc(t, docs, "doc.txt", content)

	cfg := testConfig(t, docs)
	cfg.Retrieval.SimilarityThreshold = 0.99

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(cfg, logger)
	ctx := context.Background()
	require.NoError(t, m.Initialize(ctx))
	defer m.Close()

	_, err := m.IndexAllDocuments(ctx)
	require.NoError(t, err)

	// Exactly matching text scores ~1.0 and survives the tight threshold.
	_, results, err := m.EnhanceQueryWithContext(ctx, content)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	// Different text hashes to an uncorrelated vector and is dropped.
	_, results, err = m.EnhanceQueryWithContext(ctx, "some other text entirely")
	require.NoError(t, err)
	assert.Empty(t, results)
}
