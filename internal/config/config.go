// Package config holds the retrieval pipeline configuration.
// Config is loaded once at startup and treated as read-only afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// QdrantConfig contains connection details for the Qdrant index backend.
type QdrantConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Collection string `yaml:"collection"`
}

// SplitterConfig configures how document text is split into chunks.
type SplitterConfig struct {
	ChunkSize     int      `yaml:"chunk_size"`
	ChunkOverlap  int      `yaml:"chunk_overlap"`
	Separators    []string `yaml:"separators,omitempty"`
	KeepSeparator bool     `yaml:"keep_separator"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batch_size"`
}

// RetrievalConfig configures query-time context fusion.
type RetrievalConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MaxContextChunks    int     `yaml:"max_context_chunks"`
	ContextSeparator    string  `yaml:"context_separator"`
	IncludeSources      *bool   `yaml:"include_sources,omitempty"`
}

// IndexConfig selects and configures the vector index backend.
type IndexConfig struct {
	Backend string        `yaml:"backend"` // "memory" or "qdrant"
	Qdrant  *QdrantConfig `yaml:"qdrant,omitempty"`
}

// Config is the root configuration for the retrieval pipeline.
type Config struct {
	DocumentsDir string          `yaml:"documents_dir"`
	AutoIndex    *bool           `yaml:"auto_index,omitempty"`
	Splitter     SplitterConfig  `yaml:"splitter"`
	Embedding    EmbeddingConfig `yaml:"embedding"`
	Retrieval    RetrievalConfig `yaml:"retrieval"`
	Index        IndexConfig     `yaml:"index"`
}

// DefaultContextSeparator visually divides context blocks in the fused prompt.
const DefaultContextSeparator = "\n\n" + "----------------------------------------" + "\n\n"

// Load reads a config file from path. A missing file yields defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// IncludeSources reports whether context blocks are prefixed with their
// source file name.
func (c *Config) IncludeSources() bool {
	return c.Retrieval.IncludeSources == nil || *c.Retrieval.IncludeSources
}

// AutoIndexEnabled reports whether indexing runs automatically at startup.
func (c *Config) AutoIndexEnabled() bool {
	return c.AutoIndex == nil || *c.AutoIndex
}

func applyDefaults(cfg *Config) {
	if cfg.DocumentsDir == "" {
		cfg.DocumentsDir = "documents"
	}
	if cfg.Splitter.ChunkSize == 0 {
		cfg.Splitter.ChunkSize = 1000
	}
	if cfg.Splitter.ChunkOverlap == 0 {
		cfg.Splitter.ChunkOverlap = 200
	}
	if len(cfg.Splitter.Separators) == 0 {
		cfg.Splitter.Separators = []string{"\n\n", "\n", ". ", " ", ""}
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}
	if cfg.Retrieval.SimilarityThreshold == 0 {
		cfg.Retrieval.SimilarityThreshold = 0.7
	}
	if cfg.Retrieval.MaxContextChunks == 0 {
		cfg.Retrieval.MaxContextChunks = 5
	}
	if cfg.Retrieval.ContextSeparator == "" {
		cfg.Retrieval.ContextSeparator = DefaultContextSeparator
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "memory"
	}
	if cfg.Index.Backend == "qdrant" {
		if cfg.Index.Qdrant == nil {
			cfg.Index.Qdrant = &QdrantConfig{}
		}
		if cfg.Index.Qdrant.Host == "" {
			cfg.Index.Qdrant.Host = "localhost"
		}
		if cfg.Index.Qdrant.Port == 0 {
			cfg.Index.Qdrant.Port = 6334
		}
		if cfg.Index.Qdrant.Collection == "" {
			cfg.Index.Qdrant.Collection = "documents"
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RAG_DOCUMENTS_DIR"); v != "" {
		cfg.DocumentsDir = v
	}
	if v := os.Getenv("RAG_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("QDRANT_HOST"); v != "" && cfg.Index.Qdrant != nil {
		cfg.Index.Qdrant.Host = v
	}
	if v := os.Getenv("QDRANT_PORT"); v != "" && cfg.Index.Qdrant != nil {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Index.Qdrant.Port = p
		}
	}
}

func (c *Config) validate() error {
	if c.Splitter.ChunkOverlap >= c.Splitter.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.Splitter.ChunkOverlap, c.Splitter.ChunkSize)
	}
	if c.Retrieval.SimilarityThreshold < 0 || c.Retrieval.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in [0, 1], got %v",
			c.Retrieval.SimilarityThreshold)
	}
	switch c.Index.Backend {
	case "memory", "qdrant":
	default:
		return fmt.Errorf("unknown index backend %q", c.Index.Backend)
	}
	return nil
}
