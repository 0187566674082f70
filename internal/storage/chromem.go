package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/bull/ffi-copilot/internal/document"
)

var errNoEmbedFunc = errors.New("chromem: embeddings must be supplied by the caller")

// ChromemStore is an embedded, file-persisted Store built on chromem-go.
type ChromemStore struct {
	mu         sync.RWMutex
	db         *chromem.DB
	col        *chromem.Collection
	path       string
	collection string
	dimension  int
	embedFn    chromem.EmbeddingFunc
}

// NewChromemStore opens (or creates) the persistent database at path and the
// named collection inside it. An empty path keeps everything in memory.
func NewChromemStore(path, collection string, dimension int, embed EmbedFunc) (*ChromemStore, error) {
	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("create vector store dir: %w", err)
		}
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open vector store: %w", err)
		}
	}

	embedFn := chromem.EmbeddingFunc(func(context.Context, string) ([]float32, error) {
		return nil, errNoEmbedFunc
	})
	if embed != nil {
		embedFn = chromem.EmbeddingFunc(embed)
	}

	s := &ChromemStore{
		db:         db,
		path:       path,
		collection: collection,
		dimension:  dimension,
		embedFn:    embedFn,
	}
	if err := s.ensureCollection(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ChromemStore) ensureCollection() error {
	col, err := s.db.GetOrCreateCollection(s.collection, nil, s.embedFn)
	if err != nil {
		return fmt.Errorf("get or create collection %s: %w", s.collection, err)
	}
	s.col = col
	return nil
}

// Add validates the batch and writes it in one call. Duplicate IDs, either
// against the collection or within the batch, reject the whole batch.
func (s *ChromemStore) Add(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := checkDimensions(chunks, s.dimension); err != nil {
		return err
	}
	if err := checkBatchIDs(chunks); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs := make([]chromem.Document, 0, len(chunks))
	for _, chunk := range chunks {
		if s.has(ctx, chunk.ID) {
			return fmt.Errorf("%w: %s", ErrDuplicateID, chunk.ID)
		}
		docs = append(docs, chromem.Document{
			ID:        chunk.ID,
			Metadata:  encodeMetadata(chunk),
			Embedding: chunk.Embedding,
			Content:   chunk.Text,
		})
	}

	if err := s.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}
	return nil
}

// has reports whether id is stored. chromem returns an error for unknown IDs.
func (s *ChromemStore) has(ctx context.Context, id string) bool {
	_, err := s.col.GetByID(ctx, id)
	return err == nil
}

// Query returns up to k matches. k is clamped to the collection size because
// chromem rejects requests for more results than documents.
func (s *ChromemStore) Query(ctx context.Context, embedding []float32, k int, filter *Filter) ([]*Match, error) {
	if len(embedding) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(embedding), s.dimension)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := s.col.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}
	k = min(k, count)

	var where map[string]string
	if !filter.empty() {
		where = map[string]string{metaDocType: string(filter.DocType)}
	}

	results, err := s.col.QueryEmbedding(ctx, embedding, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	matches := make([]*Match, 0, len(results))
	for _, r := range results {
		chunk := decodeMetadata(r.Metadata)
		chunk.ID = r.ID
		chunk.Text = r.Content
		matches = append(matches, &Match{Chunk: chunk, Score: float64(r.Similarity)})
	}
	return matches, nil
}

func (s *ChromemStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.col.Count(), nil
}

func (s *ChromemStore) Exists(ctx context.Context, ids []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" && s.has(ctx, id) {
			found[id] = true
		}
	}
	return found, nil
}

// HasDocType runs a single-result filtered query with a unit probe vector.
// chromem has no metadata-only lookup, and an empty filtered result set is
// the only signal that the category is absent.
func (s *ChromemStore) HasDocType(ctx context.Context, docType document.DocType) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.col.Count() == 0 {
		return false, nil
	}

	probe := make([]float32, s.dimension)
	probe[0] = 1
	results, err := s.col.QueryEmbedding(ctx, probe, 1, map[string]string{metaDocType: string(docType)}, nil)
	if err != nil {
		return false, fmt.Errorf("probe doc_type %s: %w", docType, err)
	}
	return len(results) > 0, nil
}

// Clear drops the collection (and its files) and recreates it empty.
func (s *ChromemStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(s.collection); err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	return s.ensureCollection()
}

// Health checks that the persistence directory is still reachable.
func (s *ChromemStore) Health(_ context.Context) error {
	if s.path == "" {
		return nil
	}
	if _, err := os.Stat(s.path); err != nil {
		return fmt.Errorf("vector store dir: %w", err)
	}
	return nil
}

// Close is a no-op; chromem persists every write immediately.
func (s *ChromemStore) Close() error {
	return nil
}

func encodeMetadata(c *Chunk) map[string]string {
	meta := map[string]string{
		metaSource:  c.Source,
		metaDocType: string(c.DocType),
		metaChunk:   strconv.Itoa(c.ChunkIndex),
	}
	if c.Page > 0 {
		meta[metaPage] = strconv.Itoa(c.Page)
	}
	return meta
}

func decodeMetadata(meta map[string]string) *Chunk {
	c := &Chunk{
		Source:  meta[metaSource],
		DocType: document.DocType(meta[metaDocType]),
	}
	// Malformed numbers decode as zero, which renders as "no page".
	c.Page, _ = strconv.Atoi(meta[metaPage])
	c.ChunkIndex, _ = strconv.Atoi(meta[metaChunk])
	return c
}

var _ Store = (*ChromemStore)(nil)
