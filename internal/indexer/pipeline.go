package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bull/ffi-copilot/internal/chunker"
	"github.com/bull/ffi-copilot/internal/document"
	"github.com/bull/ffi-copilot/internal/extract"
	"github.com/bull/ffi-copilot/internal/storage"
)

// DefaultConcurrency is the number of embedding calls in flight per file.
const DefaultConcurrency = 4

// IndexResult contains statistics about an indexing operation.
type IndexResult struct {
	TotalFiles     int
	IndexedFiles   int
	SkippedFiles   []FailedFile
	ChunksAdded    int
	ChunksExisting int
	EmbedFailures  int
	Duration       time.Duration
}

// FailedFile represents a file that was skipped.
type FailedFile struct {
	Path   string
	Reason string
}

// Extractor reads the text pages of a file.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]extract.Page, error)
}

// Embedder computes the embedding of one text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options tune a Pipeline. Zero values select defaults.
type Options struct {
	// Concurrency bounds parallel embedding calls.
	Concurrency int
	// RatePerSecond limits embedding requests; 0 disables the limit.
	RatePerSecond float64
	// Rebuild clears the collection before IndexDirectory indexes anything.
	Rebuild bool
}

// Pipeline indexes a directory of documents into a vector store.
type Pipeline struct {
	extractor   Extractor
	chunker     *chunker.Chunker
	embedder    Embedder
	store       storage.Store
	limiter     *rate.Limiter
	concurrency int
	rebuild     bool
	logger      *slog.Logger

	// Serializes runs so watch-triggered re-indexing never overlaps.
	runMu sync.Mutex
}

// NewPipeline creates a new indexing pipeline with the given components.
func NewPipeline(
	extractor Extractor,
	chunker *chunker.Chunker,
	embedder Embedder,
	store storage.Store,
	opts Options,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Concurrency)
	}

	return &Pipeline{
		extractor:   extractor,
		chunker:     chunker,
		embedder:    embedder,
		store:       store,
		limiter:     limiter,
		concurrency: opts.Concurrency,
		rebuild:     opts.Rebuild,
		logger:      logger,
	}
}

// IndexDirectory indexes every supported file directly inside dir, in name
// order. A missing directory is created and yields an empty result. Per-file
// and per-chunk failures are recorded in the result; only failures that make
// the whole run impossible are returned as errors.
func (p *Pipeline) IndexDirectory(ctx context.Context, dir string) (*IndexResult, error) {
	return p.run(ctx, dir, p.rebuild)
}

func (p *Pipeline) run(ctx context.Context, dir string, rebuild bool) (*IndexResult, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	start := time.Now()
	result := &IndexResult{}

	// 1. Make sure the data directory exists
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	// 2. Optionally start from an empty collection
	if rebuild {
		if err := p.store.Clear(ctx); err != nil {
			return nil, fmt.Errorf("clear collection: %w", err)
		}
		p.logger.Info("Cleared collection before rebuild")
	}

	// 3. List supported files
	files, err := listSupported(dir)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	result.TotalFiles = len(files)
	if len(files) == 0 {
		p.logger.Info("No supported files found", "dir", dir)
		result.Duration = time.Since(start)
		return result, nil
	}
	p.logger.Info("Found files", "dir", dir, "count", len(files))

	// 4. Process each file
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		stats, err := p.indexFile(ctx, path)
		result.ChunksExisting += stats.existing
		result.EmbedFailures += stats.embedFailures
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Warn("Skipping file", "path", path, "error", err)
			result.SkippedFiles = append(result.SkippedFiles, FailedFile{
				Path:   path,
				Reason: err.Error(),
			})
			continue
		}
		result.IndexedFiles++
		result.ChunksAdded += stats.added
	}

	result.Duration = time.Since(start)
	p.logger.Info("Indexing complete",
		"indexed", result.IndexedFiles,
		"skipped", len(result.SkippedFiles),
		"added", result.ChunksAdded,
		"existing", result.ChunksExisting,
		"embed_failures", result.EmbedFailures,
		"duration", result.Duration,
	)
	return result, nil
}

type fileStats struct {
	added         int
	existing      int
	embedFailures int
}

// indexFile handles the full pipeline for a single file.
func (p *Pipeline) indexFile(ctx context.Context, path string) (fileStats, error) {
	var stats fileStats
	source := filepath.Base(path)
	docType := document.ClassifyDocType(source)

	// Extract text (one page for non-paginated formats)
	pages, err := p.extractor.Extract(ctx, path)
	if err != nil {
		return stats, fmt.Errorf("extract: %w", err)
	}

	// Chunk per page; chunk indices restart on every page
	var chunks []*storage.Chunk
	for _, page := range pages {
		for idx, text := range p.chunker.Chunk(page.Text) {
			chunks = append(chunks, &storage.Chunk{
				ID:         document.ContentID(source, page.Number, idx, text),
				Source:     source,
				DocType:    docType,
				Page:       page.Number,
				ChunkIndex: idx,
				Text:       text,
			})
		}
	}
	p.logger.Debug("Chunked file", "path", path, "doc_type", docType, "chunks", len(chunks))

	// Skip chunks that are already stored
	pending, err := p.filterExisting(ctx, chunks)
	if err != nil {
		return stats, err
	}
	stats.existing = len(chunks) - len(pending)
	if len(pending) == 0 {
		p.logger.Info("Nothing to add", "path", path, "existing", stats.existing)
		return stats, nil
	}

	// Embed with bounded concurrency; a failed chunk is dropped
	embedded, failures, err := p.embedAll(ctx, source, pending)
	stats.embedFailures = failures
	if err != nil {
		return stats, err
	}
	if len(embedded) == 0 {
		p.logger.Info("Nothing to add", "path", path, "embed_failures", failures)
		return stats, nil
	}

	// One batch per file
	if err := p.store.Add(ctx, embedded); err != nil {
		return stats, fmt.Errorf("store chunks: %w", err)
	}
	stats.added = len(embedded)

	p.logger.Info("Indexed file", "path", path, "doc_type", docType, "added", stats.added, "existing", stats.existing)
	return stats, nil
}

func (p *Pipeline) filterExisting(ctx context.Context, chunks []*storage.Chunk) ([]*storage.Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	existing, err := p.store.Exists(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("check existing chunks: %w", err)
	}

	pending := make([]*storage.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if !existing[c.ID] {
			pending = append(pending, c)
		}
	}
	return pending, nil
}

// embedAll fills in embeddings and returns the chunks that got one, in their
// original order. Only context cancellation aborts the batch.
func (p *Pipeline) embedAll(ctx context.Context, source string, chunks []*storage.Chunk) ([]*storage.Chunk, int, error) {
	ok := make([]bool, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, c := range chunks {
		g.Go(func() error {
			if err := p.limiter.Wait(gctx); err != nil {
				return err
			}
			emb, err := p.embedder.Embed(gctx, c.Text)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				p.logger.Warn("Embedding failed, skipping chunk",
					"source", source, "page", c.Page, "chunk", c.ChunkIndex, "error", err)
				return nil
			}
			c.Embedding = emb
			ok[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	embedded := make([]*storage.Chunk, 0, len(chunks))
	for i, c := range chunks {
		if ok[i] {
			embedded = append(embedded, c)
		}
	}
	return embedded, len(chunks) - len(embedded), nil
}

// listSupported returns the supported regular files in dir, sorted by name.
func listSupported(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !extract.Supported(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
