// Package config assembles runtime settings from defaults, an optional YAML
// file and environment variables, in that order of precedence (env wins).
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bull/ffi-copilot/internal/chunker"
	"github.com/bull/ffi-copilot/internal/embedding"
	"github.com/bull/ffi-copilot/internal/indexer"
	"github.com/bull/ffi-copilot/internal/llm"
	"github.com/bull/ffi-copilot/internal/memory"
	"github.com/bull/ffi-copilot/internal/retriever"
	"github.com/bull/ffi-copilot/internal/storage"
)

// EnvConfigPath names the variable that points at the YAML file.
const EnvConfigPath = "COPILOT_CONFIG"

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Backend    string       `yaml:"backend"`
	Path       string       `yaml:"path"`
	Collection string       `yaml:"collection"`
	Dimension  int          `yaml:"dimension"`
	Qdrant     QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// OllamaConfig configures the embedding service.
type OllamaConfig struct {
	BaseURL      string        `yaml:"base_url"`
	EmbedModel   string        `yaml:"embed_model"`
	EmbedTimeout time.Duration `yaml:"embed_timeout"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// LLMConfig selects the chat model backend.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// BaseURL defaults to ollama.base_url for the ollama provider and to
	// the SDK default for openai.
	BaseURL   string        `yaml:"base_url"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`

	// APIKey is read from the variable named by APIKeyEnv, never from the file.
	APIKey string `yaml:"-"`
}

type ChunkerConfig struct {
	MaxChars int `yaml:"max_chars"`
	Overlap  int `yaml:"overlap"`
}

type IndexerConfig struct {
	Concurrency   int           `yaml:"concurrency"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Rebuild       bool          `yaml:"rebuild"`
	Debounce      time.Duration `yaml:"debounce"`
}

type RetrieverConfig struct {
	Prefix      string           `yaml:"prefix"`
	K           int              `yaml:"k"`
	Rules       []retriever.Rule `yaml:"rules"`
	PresenceTTL time.Duration    `yaml:"presence_ttl"`
}

type SessionsConfig struct {
	Path     string `yaml:"path"`
	Trigger  int    `yaml:"trigger"`
	KeepLast int    `yaml:"keep_last"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	// Mode is "http" (chat, health and MCP over HTTP) or "stdio" (MCP over
	// stdin/stdout with HTTP alongside).
	Mode string `yaml:"mode"`
}

type GitHubConfig struct {
	// Source is "owner/repo[/path][@ref]".
	Source string `yaml:"source"`
	Token  string `yaml:"-"`
}

// Config is the root application configuration structure.
type Config struct {
	DataDir     string            `yaml:"data_dir"`
	LogLevel    string            `yaml:"log_level"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Ollama      OllamaConfig      `yaml:"ollama"`
	LLM         LLMConfig         `yaml:"llm"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Indexer     IndexerConfig     `yaml:"indexer"`
	Retriever   RetrieverConfig   `yaml:"retriever"`
	Sessions    SessionsConfig    `yaml:"sessions"`
	Server      ServerConfig      `yaml:"server"`
	GitHub      GitHubConfig      `yaml:"github"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:  "data",
		LogLevel: "info",
		VectorStore: VectorStoreConfig{
			Backend:    "chromem",
			Path:       "chroma_db",
			Collection: storage.DefaultCollectionName,
			Dimension:  storage.DefaultVectorDimension,
			Qdrant:     QdrantConfig{Host: "localhost", Port: 6334},
		},
		Ollama: OllamaConfig{
			BaseURL:      embedding.DefaultBaseURL,
			EmbedModel:   embedding.DefaultModel,
			EmbedTimeout: embedding.DefaultTimeout,
			QueryTimeout: embedding.QueryTimeout,
		},
		LLM: LLMConfig{
			Provider:  "ollama",
			Model:     llm.DefaultOllamaModel,
			APIKeyEnv: "OPENAI_API_KEY",
			Timeout:   llm.DefaultTimeout,
		},
		Chunker: ChunkerConfig{
			MaxChars: chunker.DefaultMaxChars,
			Overlap:  chunker.DefaultOverlap,
		},
		Indexer: IndexerConfig{
			Concurrency: indexer.DefaultConcurrency,
			Debounce:    indexer.DefaultDebounce,
		},
		Retriever: RetrieverConfig{
			Prefix: retriever.DefaultPrefix,
			K:      retriever.DefaultK,
		},
		Sessions: SessionsConfig{
			Path:     "sessions.sqlite3",
			Trigger:  memory.DefaultTrigger,
			KeepLast: memory.DefaultKeepLast,
		},
		Server: ServerConfig{
			Port: "8000",
			Mode: "http",
		},
	}
}

// Load builds the configuration. path may be empty, in which case
// COPILOT_CONFIG is consulted; with neither set only defaults and the
// environment apply. An explicitly named file that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var errs []error
	setString(&cfg.DataDir, "DATA_DIR")
	setString(&cfg.LogLevel, "LOG_LEVEL")

	setString(&cfg.VectorStore.Backend, "VECTOR_BACKEND")
	setString(&cfg.VectorStore.Path, "CHROMA_PATH")
	setString(&cfg.VectorStore.Collection, "COLLECTION_NAME")
	errs = append(errs, setInt(&cfg.VectorStore.Dimension, "EMBEDDING_DIMENSION"))
	setString(&cfg.VectorStore.Qdrant.Host, "QDRANT_HOST")
	errs = append(errs, setInt(&cfg.VectorStore.Qdrant.Port, "QDRANT_PORT"))

	setString(&cfg.Ollama.BaseURL, "OLLAMA_URL")
	setString(&cfg.Ollama.EmbedModel, "EMBEDDING_MODEL")

	setString(&cfg.LLM.Provider, "LLM_PROVIDER")
	setString(&cfg.LLM.Model, "MODEL_NAME")
	setString(&cfg.LLM.BaseURL, "LLM_BASE_URL")
	if cfg.LLM.APIKeyEnv != "" {
		cfg.LLM.APIKey = os.Getenv(cfg.LLM.APIKeyEnv)
	}

	errs = append(errs, setBool(&cfg.Indexer.Rebuild, "REBUILD_COLLECTION"))
	setString(&cfg.Retriever.Prefix, "QUERY_PREFIX")
	setString(&cfg.Sessions.Path, "SESSION_DB")

	setString(&cfg.Server.Port, "PORT")
	if v := os.Getenv("SERVER_MODE"); v != "" {
		// Kept compatible with SERVER_MODE=true from older deployments.
		switch v {
		case "true":
			cfg.Server.Mode = "http"
		case "false":
			cfg.Server.Mode = "stdio"
		default:
			cfg.Server.Mode = v
		}
	}

	setString(&cfg.GitHub.Source, "GITHUB_SOURCE")
	cfg.GitHub.Token = os.Getenv("GITHUB_TOKEN")

	return errors.Join(errs...)
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.VectorStore.Backend {
	case "chromem", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("vector_store.backend: unknown backend %q", c.VectorStore.Backend))
	}
	if c.VectorStore.Dimension <= 0 {
		errs = append(errs, errors.New("vector_store.dimension must be positive"))
	}
	switch c.LLM.Provider {
	case "ollama", "openai":
	default:
		errs = append(errs, fmt.Errorf("llm.provider: unknown provider %q", c.LLM.Provider))
	}
	if c.Chunker.MaxChars <= 0 {
		errs = append(errs, errors.New("chunker.max_chars must be positive"))
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.MaxChars {
		errs = append(errs, errors.New("chunker.overlap must be in [0, max_chars)"))
	}
	if c.Retriever.K <= 0 {
		errs = append(errs, errors.New("retriever.k must be positive"))
	}
	if c.Sessions.KeepLast <= 0 || c.Sessions.Trigger < c.Sessions.KeepLast {
		errs = append(errs, errors.New("sessions: need 0 < keep_last <= trigger"))
	}
	switch c.Server.Mode {
	case "http", "stdio":
	default:
		errs = append(errs, fmt.Errorf("server.mode: unknown mode %q", c.Server.Mode))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel parses LogLevel ("debug", "info", "warn", "error").
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// NewLogger returns a text logger at the configured level. An unparsable
// level falls back to info; Load has already rejected it.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, _ := c.SlogLevel()
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// StorageConfig maps the vector store section onto storage.Open's input.
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Backend:    c.VectorStore.Backend,
		Path:       c.VectorStore.Path,
		Collection: c.VectorStore.Collection,
		Dimension:  c.VectorStore.Dimension,
		QdrantHost: c.VectorStore.Qdrant.Host,
		QdrantPort: c.VectorStore.Qdrant.Port,
	}
}

// RetrieverConfig returns the retriever settings. Rules left unset in the
// file select the default rule list.
func (c *Config) RetrieverConfig() retriever.Config {
	return retriever.Config{
		Prefix: c.Retriever.Prefix,
		K:      c.Retriever.K,
		Rules:  c.Retriever.Rules,
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = i
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}
