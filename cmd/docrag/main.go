// Package main provides the docrag CLI for managing the document retrieval
// index and running ad-hoc context-enhanced queries.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/docrag/internal/config"
	"github.com/bull/docrag/internal/rag"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "docrag",
	Short: "Document retrieval pipeline for chat context augmentation",
	Long: `docrag ingests a folder of documents (.txt, .md, .pdf), splits them
into overlapping chunks, embeds the chunks, and stores them in a vector
index. At query time it retrieves the most relevant chunks and splices
them into the prompt.

Environment variables:
  RAG_DOCUMENTS_DIR  Documents folder (overrides config file)
  OPENAI_API_KEY     OpenAI API key for embeddings (optional; without it
                     the deterministic stand-in embedder is used)
  QDRANT_HOST        Qdrant hostname (qdrant backend only)
  QDRANT_PORT        Qdrant gRPC port (qdrant backend only)`,
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Scan the documents folder and (re)build the index",
	RunE:  runIndex,
}

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Enhance a query with retrieved document context",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print readiness, indexed chunk count, and embedding details",
	RunE:  runStatus,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to config file")
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	// Load .env if present (local development), ignore if missing.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads config and initializes a manager. The caller owns Close.
func setup(ctx context.Context) (*rag.Manager, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	manager := rag.NewManager(cfg, logger)
	if err := manager.Initialize(ctx); err != nil {
		return nil, nil, fmt.Errorf("initialize: %w", err)
	}
	return manager, cfg, nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	manager, _, err := setup(ctx)
	if err != nil {
		return err
	}
	defer manager.Close()

	stats, err := manager.IndexAllDocuments(ctx)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	fmt.Println("Indexing complete!")
	fmt.Printf("  Documents: %d\n", stats.DocumentsProcessed)
	fmt.Printf("  Chunks: %d\n", stats.ChunksCreated)
	fmt.Printf("  Dimension: %d\n", stats.EmbeddingDimension)
	fmt.Printf("  Duration: %s\n", stats.Duration.Round(time.Millisecond))

	if len(stats.DocumentsFailed) > 0 {
		fmt.Println()
		fmt.Println("Failed documents:")
		for _, failed := range stats.DocumentsFailed {
			fmt.Printf("  - %s: %s\n", failed.Path, failed.Reason)
		}
	}
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	manager, cfg, err := setup(ctx)
	if err != nil {
		return err
	}
	defer manager.Close()

	if cfg.AutoIndexEnabled() {
		if _, err := manager.IndexAllDocuments(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "warning: indexing failed: %v\n", err)
		}
	}

	augmented, sources, err := manager.EnhanceQueryWithContext(ctx, args[0])
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	fmt.Println(augmented)
	if len(sources) > 0 {
		fmt.Println()
		fmt.Println("Sources:")
		for _, s := range sources {
			fmt.Printf("  - %s (score %.3f)\n", s.SourceName, s.Score)
		}
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	manager, _, err := setup(ctx)
	if err != nil {
		return err
	}
	defer manager.Close()

	stats := manager.Stats(ctx)
	fmt.Printf("State: %s\n", stats.State)
	fmt.Printf("Indexed chunks: %d\n", stats.IndexedChunks)
	fmt.Printf("Embedding model: %s\n", stats.EmbeddingModel)
	fmt.Printf("Embedding dimension: %d\n", stats.EmbeddingDimension)
	if stats.Degraded {
		fmt.Printf("Degraded: %s\n", stats.DegradedReason)
	}
	return nil
}
