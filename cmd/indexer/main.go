// Package main provides the indexing CLI for the FFI knowledge base.
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

	"github.com/bull/ffi-copilot/internal/chunker"
	"github.com/bull/ffi-copilot/internal/config"
	"github.com/bull/ffi-copilot/internal/document"
	"github.com/bull/ffi-copilot/internal/embedding"
	"github.com/bull/ffi-copilot/internal/extract"
	ghclient "github.com/bull/ffi-copilot/internal/github"
	"github.com/bull/ffi-copilot/internal/indexer"
	"github.com/bull/ffi-copilot/internal/retriever"
	"github.com/bull/ffi-copilot/internal/storage"
)

// How long to wait for Ollama to come up before giving up.
const embedReadyTimeout = 30 * time.Second

var (
	configPath string
	dataDir    string
	rebuild    bool
	watch      bool
	query      string
	source     string
)

var rootCmd = &cobra.Command{
	Use:          "ffi-indexer",
	Short:        "FFI knowledge base indexing tool",
	Long:         "CLI tool for building and inspecting the FFI Founder Copilot document index",
	SilenceUsage: true,
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index all documents in the data directory",
	Long: `Extracts, chunks and embeds every supported file (` + fmt.Sprint(extract.SupportedExtensions()) + `)
directly inside the data directory. Chunks already in the index are skipped, so
re-running only embeds new or changed content.

This command:
1. Waits for the Ollama embedding service
2. Opens the vector store (optionally clearing it with --rebuild)
3. Indexes the data directory
4. With --watch, keeps re-indexing whenever files change

Environment variables:
  DATA_DIR            Document directory (default: data)
  VECTOR_BACKEND      chromem or qdrant (default: chromem)
  CHROMA_PATH         chromem persistence directory (default: chroma_db)
  QDRANT_HOST         Qdrant hostname (default: localhost)
  QDRANT_PORT         Qdrant gRPC port (default: 6334)
  OLLAMA_URL          Ollama base URL (default: http://localhost:11434)
  EMBEDDING_MODEL     Embedding model (default: nomic-embed-text)
  REBUILD_COLLECTION  Clear the collection first (default: false)`,
	RunE: runIndex,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show what the index contains",
	Long: `Prints the chunk count and which document categories are present.
With --query, also prints the context block the chat would receive for it.`,
	RunE: runInspect,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Mirror documents from a GitHub directory into the data directory",
	Long: `Downloads every supported file from a GitHub repository directory into the
data directory. Files whose content is unchanged are not downloaded again.

Environment variables:
  GITHUB_SOURCE  owner/repo[/path][@ref]
  GITHUB_TOKEN   GitHub token for higher rate limits (optional)`,
	RunE: runFetch,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file (default: $"+config.EnvConfigPath+")")
	rootCmd.PersistentFlags().StringVar(&dataDir, "dir", "", "document directory (overrides config)")

	indexCmd.Flags().BoolVar(&rebuild, "rebuild", false, "clear the collection before indexing")
	indexCmd.Flags().BoolVar(&watch, "watch", false, "keep running and re-index on file changes")
	inspectCmd.Flags().StringVar(&query, "query", "", "run a sample retrieval")
	fetchCmd.Flags().StringVar(&source, "source", "", "owner/repo[/path][@ref] (overrides config)")

	rootCmd.AddCommand(indexCmd, inspectCmd, fetchCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("Failed to load config: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func openStore(ctx context.Context, cfg *config.Config, embedder *embedding.Client) (storage.Store, error) {
	sc := cfg.StorageConfig()
	if sc.Backend == "qdrant" {
		fmt.Printf("Connecting to Qdrant at %s:%d...\n", sc.QdrantHost, sc.QdrantPort)
	} else {
		fmt.Printf("Opening vector store at %s...\n", sc.Path)
	}
	store, err := storage.Open(ctx, sc, embedder.Embed)
	if err != nil {
		return nil, fmt.Errorf("Failed to open vector store: %w", err)
	}
	return store, nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()
	start := time.Now()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("rebuild") {
		cfg.Indexer.Rebuild = rebuild
	}

	fmt.Println("Starting indexing...")
	fmt.Println()

	// 1. Embedding service
	embedder := embedding.NewClient(embedding.Config{
		BaseURL: cfg.Ollama.BaseURL,
		Model:   cfg.Ollama.EmbedModel,
		Timeout: cfg.Ollama.EmbedTimeout,
	})
	fmt.Printf("Waiting for Ollama at %s (model %s)...\n", cfg.Ollama.BaseURL, embedder.Model())
	if err := embedder.WaitReady(ctx, embedReadyTimeout); err != nil {
		return fmt.Errorf("Ollama not reachable: %w", err)
	}
	fmt.Println("Ollama ready")

	// 2. Vector store
	store, err := openStore(ctx, cfg, embedder)
	if err != nil {
		return err
	}
	defer store.Close()

	// 3. Pipeline
	pipeline := indexer.NewPipeline(
		extract.New(),
		chunker.NewChunker(cfg.Chunker.MaxChars, cfg.Chunker.Overlap),
		embedder,
		store,
		indexer.Options{
			Concurrency:   cfg.Indexer.Concurrency,
			RatePerSecond: cfg.Indexer.RatePerSecond,
			Rebuild:       cfg.Indexer.Rebuild,
		},
		logger,
	)

	fmt.Println()
	if cfg.Indexer.Rebuild {
		fmt.Println("Rebuild requested: collection will be cleared first")
	}
	fmt.Printf("Indexing documents from %s...\n", cfg.DataDir)

	if watch {
		fmt.Println("Watching for changes (Ctrl+C to stop)")
		err := pipeline.Watch(ctx, cfg.DataDir, cfg.Indexer.Debounce, printResult)
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("Watch failed: %w", err)
		}
		return nil
	}

	result, err := pipeline.IndexDirectory(ctx, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("Indexing failed: %w", err)
	}
	printResult(result)

	fmt.Println()
	fmt.Printf("Total time: %s\n", time.Since(start).Round(time.Second))
	return nil
}

func printResult(result *indexer.IndexResult) {
	fmt.Println()
	fmt.Println("Indexing complete!")
	fmt.Printf("  Files: %d/%d\n", result.IndexedFiles, result.TotalFiles)
	fmt.Printf("  Chunks added: %d\n", result.ChunksAdded)
	fmt.Printf("  Chunks already indexed: %d\n", result.ChunksExisting)
	if result.EmbedFailures > 0 {
		fmt.Printf("  Embedding failures: %d\n", result.EmbedFailures)
	}
	fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Millisecond))

	if len(result.SkippedFiles) > 0 {
		fmt.Println()
		fmt.Println("Skipped files:")
		for _, failed := range result.SkippedFiles {
			fmt.Printf("  - %s: %s\n", failed.Path, failed.Reason)
		}
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	embedder := embedding.NewClient(embedding.Config{
		BaseURL: cfg.Ollama.BaseURL,
		Model:   cfg.Ollama.EmbedModel,
		Timeout: cfg.Ollama.QueryTimeout,
	})
	store, err := openStore(ctx, cfg, embedder)
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Printf("Collection: %s\n", cfg.VectorStore.Collection)
	fmt.Println("------------------------------------------------------------")

	count, err := store.Count(ctx)
	if err != nil {
		return fmt.Errorf("Failed to count chunks: %w", err)
	}
	fmt.Printf("Total chunks: %d\n", count)

	fmt.Println("Document categories:")
	for _, dt := range document.AllDocTypes {
		present, err := store.HasDocType(ctx, dt)
		if err != nil {
			return fmt.Errorf("Failed to probe %s: %w", dt, err)
		}
		mark := "-"
		if present {
			mark = "x"
		}
		fmt.Printf("  [%s] %s\n", mark, dt)
	}

	if query == "" {
		return nil
	}

	fmt.Println("------------------------------------------------------------")
	fmt.Printf("Query: %s\n\n", query)
	r := retriever.New(embedder, store, retriever.NewPresenceChecker(store, 0), cfg.RetrieverConfig(), logger)
	matches, err := r.Search(ctx, query)
	if err != nil {
		return fmt.Errorf("Retrieval failed: %w", err)
	}
	if len(matches) == 0 {
		fmt.Println("(no context: the chat would use the fallback prompt)")
		return nil
	}
	for _, m := range matches {
		fmt.Printf("%.3f  %s\n", m.Score, m.Source)
	}
	fmt.Println()
	fmt.Println(retriever.Format(matches))
	return nil
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if source != "" {
		cfg.GitHub.Source = source
	}
	if cfg.GitHub.Source == "" {
		return fmt.Errorf("No source configured: pass --source or set GITHUB_SOURCE")
	}
	src, err := ghclient.ParseSource(cfg.GitHub.Source)
	if err != nil {
		return err
	}

	ghClient, err := ghclient.NewClient(cfg.GitHub.Token)
	if err != nil {
		return fmt.Errorf("Failed to create GitHub client: %w", err)
	}
	fetcher := ghclient.NewFetcher(ghClient, src, logger)

	fmt.Printf("Fetching %s into %s...\n", src, cfg.DataDir)
	if sha, err := fetcher.GetLatestCommitSHA(ctx); err == nil {
		fmt.Printf("  Commit: %s\n", sha)
	}

	result, err := fetcher.Mirror(ctx, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("Fetch failed: %w", err)
	}

	fmt.Println()
	fmt.Println("Fetch complete!")
	fmt.Printf("  Downloaded: %d\n", len(result.Downloaded))
	fmt.Printf("  Unchanged: %d\n", len(result.Unchanged))
	if len(result.Failed) > 0 {
		fmt.Println()
		fmt.Println("Failed files:")
		for _, failed := range result.Failed {
			fmt.Printf("  - %s: %s\n", failed.Name, failed.Reason)
		}
	}
	if len(result.Downloaded) > 0 {
		fmt.Println()
		fmt.Println("Run 'ffi-indexer index' to index the new files.")
	}
	return nil
}
