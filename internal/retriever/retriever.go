// Package retriever finds the stored passages relevant to a user query and
// renders them as prompt context.
package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bull/ffi-copilot/internal/document"
	"github.com/bull/ffi-copilot/internal/storage"
)

const (
	DefaultPrefix = "FFI "
	DefaultK      = 8
)

// Embedder computes the embedding of one text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher is the part of storage.Store the retriever queries.
type Searcher interface {
	Query(ctx context.Context, embedding []float32, k int, filter *storage.Filter) ([]*storage.Match, error)
}

// Rule restricts retrieval to DocType when the lowercased query contains
// Keyword and that category is actually stored.
type Rule struct {
	Keyword string           `yaml:"keyword"`
	DocType document.DocType `yaml:"doc_type"`
}

// DefaultRules returns the built-in keyword rules.
func DefaultRules() []Rule {
	return []Rule{{Keyword: "satzung", DocType: document.DocTypeSatzung}}
}

// Config tunes a Retriever. Zero values select defaults; a nil Rules slice
// selects DefaultRules and an empty non-nil slice disables filtering.
type Config struct {
	Prefix string
	K      int
	Rules  []Rule
}

type Retriever struct {
	embedder Embedder
	store    Searcher
	presence *PresenceChecker
	prefix   string
	k        int
	rules    []Rule
	logger   *slog.Logger
}

func New(embedder Embedder, store Searcher, presence *PresenceChecker, cfg Config, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.K <= 0 {
		cfg.K = DefaultK
	}
	if cfg.Rules == nil {
		cfg.Rules = DefaultRules()
	}

	rules := make([]Rule, len(cfg.Rules))
	for i, r := range cfg.Rules {
		rules[i] = Rule{Keyword: strings.ToLower(r.Keyword), DocType: r.DocType}
	}

	return &Retriever{
		embedder: embedder,
		store:    store,
		presence: presence,
		prefix:   cfg.Prefix,
		k:        cfg.K,
		rules:    rules,
		logger:   logger,
	}
}

// Retrieve returns the formatted context for query, or "" when nothing was
// found or any step failed. Failures are logged, never returned.
func (r *Retriever) Retrieve(ctx context.Context, query string) string {
	matches, err := r.Search(ctx, query)
	if err != nil {
		r.logger.Warn("Retrieval failed", "error", err)
		return ""
	}
	return Format(matches)
}

// Search embeds the prefixed query and returns the top matches, filtered by
// the first matching keyword rule whose category is present.
func (r *Retriever) Search(ctx context.Context, query string) ([]*storage.Match, error) {
	emb, err := r.embedder.Embed(ctx, r.prefix+query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	filter := r.filterFor(ctx, query)

	matches, err := r.store.Query(ctx, emb, r.k, filter)
	if err != nil {
		return nil, fmt.Errorf("query store: %w", err)
	}
	r.logger.Debug("Retrieved context", "matches", len(matches), "filtered", filter != nil)
	return matches, nil
}

func (r *Retriever) filterFor(ctx context.Context, query string) *storage.Filter {
	q := strings.ToLower(query)
	for _, rule := range r.rules {
		if rule.Keyword == "" || !strings.Contains(q, rule.Keyword) {
			continue
		}
		if r.presence == nil {
			return nil
		}
		present, err := r.presence.Has(ctx, rule.DocType)
		if err != nil {
			r.logger.Warn("Presence probe failed, searching unfiltered", "doc_type", rule.DocType, "error", err)
			return nil
		}
		if !present {
			return nil
		}
		return &storage.Filter{DocType: rule.DocType}
	}
	return nil
}

// Format renders matches as context blocks separated by a horizontal rule.
// Each block starts with "[source | doc_type | p.N, chunk M]"; the page part
// is left out for chunks without a page.
func Format(matches []*storage.Match) string {
	if len(matches) == 0 {
		return ""
	}

	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		source := m.Source
		if source == "" {
			source = "unbekannt"
		}
		docType := string(m.DocType)
		if docType == "" {
			docType = "unknown"
		}

		loc := fmt.Sprintf("chunk %d", m.ChunkIndex)
		if m.Page > 0 {
			loc = fmt.Sprintf("p.%d, %s", m.Page, loc)
		}

		blocks = append(blocks, fmt.Sprintf("[%s | %s | %s]\n%s", source, docType, loc, m.Text))
	}
	return strings.Join(blocks, "\n\n---\n\n")
}
