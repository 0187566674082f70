// Package main provides the FFI Founder Copilot server: HTTP chat, health and
// MCP endpoints, or MCP over stdio for local clients.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bull/ffi-copilot/internal/chat"
	"github.com/bull/ffi-copilot/internal/config"
	"github.com/bull/ffi-copilot/internal/embedding"
	"github.com/bull/ffi-copilot/internal/llm"
	mcpserver "github.com/bull/ffi-copilot/internal/mcp"
	"github.com/bull/ffi-copilot/internal/memory"
	"github.com/bull/ffi-copilot/internal/retriever"
	"github.com/bull/ffi-copilot/internal/server"
	"github.com/bull/ffi-copilot/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (default: $"+config.EnvConfigPath+")")
	flag.Parse()

	// Load .env file if present (local development), ignore if missing (production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Embedding client for queries (shorter timeout than indexing)
	embedder := embedding.NewClient(embedding.Config{
		BaseURL: cfg.Ollama.BaseURL,
		Model:   cfg.Ollama.EmbedModel,
		Timeout: cfg.Ollama.QueryTimeout,
	})
	if err := embedder.Ping(ctx); err != nil {
		logger.Warn("Ollama not reachable yet; chat will use the fallback prompt until it is", "error", err)
	}

	// Vector store
	store, err := storage.Open(ctx, cfg.StorageConfig(), embedder.Embed)
	if err != nil {
		return fmt.Errorf("failed to open vector store: %w", err)
	}
	defer store.Close()

	// Session memory
	sessions, err := memory.NewStore(cfg.Sessions.Path)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer sessions.Close()

	model, err := newChatModel(cfg)
	if err != nil {
		return err
	}

	presence := retriever.NewPresenceChecker(store, cfg.Retriever.PresenceTTL)
	ret := retriever.New(embedder, store, presence, cfg.RetrieverConfig(), logger)
	compactor := memory.NewCompactor(sessions, model, cfg.Sessions.Trigger, cfg.Sessions.KeepLast, logger)
	chatService := chat.NewService(sessions, compactor, ret, model, logger)

	// MCP server
	mcpSrv := mcpserver.NewServer(&mcpserver.Config{
		Search: ret,
		Index:  store,
	})

	mux := server.NewMux(&server.Config{
		Chat:        chatService,
		VectorStore: store,
		Sessions:    sessions,
		MCP:         mcpserver.NewHTTPHandler(mcpSrv, &mcpserver.HTTPHandlerOptions{Stateless: true}),
		Logger:      logger,
	})
	httpServer := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           server.WithCORS(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "addr", httpServer.Addr, "mode", cfg.Server.Mode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	defer shutdown(httpServer, logger)

	if cfg.Server.Mode == "stdio" {
		// MCP over stdin/stdout for local clients; HTTP stays up for chat and health
		logger.Info("Starting FFI Founder Copilot MCP server (stdio mode)")
		return mcpSrv.Run(ctx)
	}

	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	}
}

func newChatModel(cfg *config.Config) (llm.ChatModel, error) {
	switch cfg.LLM.Provider {
	case "openai":
		model, err := llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI client: %w", err)
		}
		return model, nil
	default:
		baseURL := cfg.LLM.BaseURL
		if baseURL == "" {
			baseURL = cfg.Ollama.BaseURL
		}
		return llm.NewOllama(llm.OllamaConfig{
			BaseURL: baseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
		}), nil
	}
}

func shutdown(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("HTTP server shutdown", "error", err)
	}
}
