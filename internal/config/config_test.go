package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "documents", cfg.DocumentsDir)
	assert.Equal(t, 1000, cfg.Splitter.ChunkSize)
	assert.Equal(t, 200, cfg.Splitter.ChunkOverlap)
	assert.Equal(t, []string{"\n\n", "\n", ". ", " ", ""}, cfg.Splitter.Separators)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 32, cfg.Embedding.BatchSize)
	assert.Equal(t, 0.7, cfg.Retrieval.SimilarityThreshold)
	assert.Equal(t, 5, cfg.Retrieval.MaxContextChunks)
	assert.Equal(t, "memory", cfg.Index.Backend)
	assert.True(t, cfg.IncludeSources())
	assert.True(t, cfg.AutoIndexEnabled())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
documents_dir: /data/docs
auto_index: false
splitter:
  chunk_size: 500
  chunk_overlap: 50
retrieval:
  similarity_threshold: 0.5
  max_context_chunks: 3
  include_sources: false
index:
  backend: qdrant
  qdrant:
    collection: kb
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/docs", cfg.DocumentsDir)
	assert.False(t, cfg.AutoIndexEnabled())
	assert.Equal(t, 500, cfg.Splitter.ChunkSize)
	assert.Equal(t, 50, cfg.Splitter.ChunkOverlap)
	assert.Equal(t, 0.5, cfg.Retrieval.SimilarityThreshold)
	assert.Equal(t, 3, cfg.Retrieval.MaxContextChunks)
	assert.False(t, cfg.IncludeSources())

	// Qdrant sub-defaults fill in around the file's values.
	require.NotNil(t, cfg.Index.Qdrant)
	assert.Equal(t, "kb", cfg.Index.Qdrant.Collection)
	assert.Equal(t, "localhost", cfg.Index.Qdrant.Host)
	assert.Equal(t, 6334, cfg.Index.Qdrant.Port)

	// Unspecified sections keep their defaults.
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RAG_DOCUMENTS_DIR", "/env/docs")
	t.Setenv("RAG_EMBEDDING_MODEL", "text-embedding-3-large")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/env/docs", cfg.DocumentsDir)
	assert.Equal(t, "text-embedding-3-large", cfg.Embedding.Model)
}

func TestLoad_QdrantEnvOverrides(t *testing.T) {
	t.Setenv("QDRANT_HOST", "qdrant.internal")
	t.Setenv("QDRANT_PORT", "7000")

	path := writeConfig(t, "index:\n  backend: qdrant\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.Index.Qdrant)
	assert.Equal(t, "qdrant.internal", cfg.Index.Qdrant.Host)
	assert.Equal(t, 7000, cfg.Index.Qdrant.Port)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"overlap not below size", "splitter:\n  chunk_size: 100\n  chunk_overlap: 100\n"},
		{"threshold above one", "retrieval:\n  similarity_threshold: 1.5\n"},
		{"unknown backend", "index:\n  backend: redis\n"},
		{"malformed yaml", "splitter: [not, a, map\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			assert.Error(t, err)
		})
	}
}
