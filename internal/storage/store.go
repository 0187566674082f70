package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/bull/ffi-copilot/internal/document"
)

// Store is a persistent similarity-search collection of chunks.
type Store interface {
	// Add writes chunks with their embeddings. It fails with ErrDuplicateID
	// if any chunk ID is already present; nothing from the batch is written
	// in that case.
	Add(ctx context.Context, chunks []*Chunk) error

	// Query returns up to k chunks ranked by similarity to embedding, best
	// first, optionally restricted by filter.
	Query(ctx context.Context, embedding []float32, k int, filter *Filter) ([]*Match, error)

	// Count returns the number of chunks in the collection.
	Count(ctx context.Context) (int, error)

	// Exists reports which of the given IDs are already stored.
	Exists(ctx context.Context, ids []string) (map[string]bool, error)

	// HasDocType reports whether at least one chunk of the category exists.
	HasDocType(ctx context.Context, docType document.DocType) (bool, error)

	// Clear removes every chunk and recreates an empty collection.
	Clear(ctx context.Context) error

	Health(ctx context.Context) error
	Close() error
}

// EmbedFunc computes an embedding for text. Backends that can embed on their
// own (chromem) are handed the application's embedder through it.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Config selects and configures a backend.
type Config struct {
	Backend    string // "chromem" (default) or "qdrant"
	Path       string // chromem: directory of the persistent database
	Collection string
	Dimension  int
	QdrantHost string
	QdrantPort int
}

// Open creates the configured backend and makes sure its collection exists.
func Open(ctx context.Context, cfg Config, embed EmbedFunc) (Store, error) {
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollectionName
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultVectorDimension
	}

	switch strings.ToLower(cfg.Backend) {
	case "", "chromem":
		return NewChromemStore(cfg.Path, cfg.Collection, cfg.Dimension, embed)
	case "qdrant":
		s, err := NewQdrantStorage(cfg.QdrantHost, cfg.QdrantPort, cfg.Collection, cfg.Dimension)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureCollection(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("ensure collection: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// checkDimensions validates every embedding against the collection dimension.
func checkDimensions(chunks []*Chunk, dimension int) error {
	for i, chunk := range chunks {
		if len(chunk.Embedding) != dimension {
			return fmt.Errorf("%w: chunk %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(chunk.Embedding), dimension)
		}
	}
	return nil
}

// checkBatchIDs rejects empty IDs and IDs repeated within one batch.
func checkBatchIDs(chunks []*Chunk) error {
	seen := make(map[string]struct{}, len(chunks))
	for _, chunk := range chunks {
		if chunk.ID == "" {
			return fmt.Errorf("chunk from %s has empty id", chunk.Source)
		}
		if _, dup := seen[chunk.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateID, chunk.ID)
		}
		seen[chunk.ID] = struct{}{}
	}
	return nil
}
