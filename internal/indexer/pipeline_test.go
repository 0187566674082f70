package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/ffi-copilot/internal/chunker"
	"github.com/bull/ffi-copilot/internal/document"
	"github.com/bull/ffi-copilot/internal/extract"
	"github.com/bull/ffi-copilot/internal/storage"
)

const testDim = 3

// fakeEmbedder derives a small deterministic vector from the text and fails
// for texts containing failMarker.
type fakeEmbedder struct {
	failMarker string
	calls      atomic.Int32
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.failMarker != "" && strings.Contains(text, f.failMarker) {
		return nil, errors.New("embedding service unavailable")
	}
	var sum int
	for _, r := range text {
		sum += int(r)
	}
	return []float32{float32(len(text)), float32(sum%97 + 1), 1}, nil
}

// failingStore rejects Add for one source file.
type failingStore struct {
	storage.Store
	failSource string
}

func (s *failingStore) Add(ctx context.Context, chunks []*storage.Chunk) error {
	for _, c := range chunks {
		if c.Source == s.failSource {
			return errors.New("disk full")
		}
	}
	return s.Store.Add(ctx, chunks)
}

func newStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.NewChromemStore("", storage.DefaultCollectionName, testDim, nil)
	require.NoError(t, err)
	return s
}

func newPipeline(store storage.Store, emb Embedder, opts Options) *Pipeline {
	return NewPipeline(extract.New(), chunker.NewChunker(40, 5), emb, store, opts, nil)
}

// pagedExtractor serves fixed pages regardless of the file content.
type pagedExtractor struct {
	pages []extract.Page
}

func (e *pagedExtractor) Extract(_ context.Context, _ string) ([]extract.Page, error) {
	return e.pages, nil
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestIndexDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Satzung.txt", "Paragraph eins: Name des Vereins\nParagraph zwei: Zweck des Vereins\nParagraph drei: Mitgliedschaft")
	writeFile(t, dir, "faq.md", "# FAQ\n\nWie melde ich mich an?")
	writeFile(t, dir, "logo.png", "binary")

	store := newStore(t)
	p := newPipeline(store, &fakeEmbedder{}, Options{})

	result, err := p.IndexDirectory(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 2, result.TotalFiles, "unsupported files are not counted")
	assert.Equal(t, 2, result.IndexedFiles)
	assert.Empty(t, result.SkippedFiles)
	assert.Positive(t, result.ChunksAdded)
	assert.Zero(t, result.EmbedFailures)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, result.ChunksAdded, n)

	ok, err := store.HasDocType(context.Background(), document.DocTypeSatzung)
	require.NoError(t, err)
	assert.True(t, ok, "Satzung.txt is classified by file name")
}

func TestIndexDirectory_PagedChunks(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Satzung.pdf", "%PDF")

	pages := []extract.Page{
		{Number: 1, Text: "Seite eins Absatz A mit Text\nSeite eins Absatz B mit Text"},
		{Number: 2, Text: "Seite zwei Absatz A mit Text\nSeite zwei Absatz B mit Text"},
	}
	store := newStore(t)
	p := NewPipeline(&pagedExtractor{pages: pages}, chunker.NewChunker(40, 5), &fakeEmbedder{}, store, Options{}, nil)
	ctx := context.Background()

	result, err := p.IndexDirectory(ctx, dir)
	require.NoError(t, err)

	type stored struct {
		page int
		idx  int
		text string
	}
	want := map[string]stored{}
	for _, page := range pages {
		texts := chunker.Split(page.Text, 40, 5)
		require.Len(t, texts, 2, "each page must yield two chunks")
		for idx, text := range texts {
			want[document.ContentID("Satzung.pdf", page.Number, idx, text)] = stored{page.Number, idx, text}
		}
	}
	require.Len(t, want, 4)
	assert.Equal(t, 4, result.ChunksAdded)

	matches, err := store.Query(ctx, []float32{1, 1, 1}, 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 4)
	got := map[string]stored{}
	for _, m := range matches {
		assert.Equal(t, "Satzung.pdf", m.Source)
		assert.Equal(t, document.DocTypeSatzung, m.DocType)
		got[m.ID] = stored{m.Page, m.ChunkIndex, m.Text}
	}
	assert.Equal(t, want, got)
}

func TestIndexDirectory_RerunAddsNothing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "datenschutz.txt", "Wir speichern Daten nur so lange wie noetig.\nAuskunft erhalten Sie beim Vorstand.")

	store := newStore(t)
	emb := &fakeEmbedder{}
	p := newPipeline(store, emb, Options{})
	ctx := context.Background()

	first, err := p.IndexDirectory(ctx, dir)
	require.NoError(t, err)
	require.Positive(t, first.ChunksAdded)
	countBefore, err := store.Count(ctx)
	require.NoError(t, err)
	callsBefore := emb.calls.Load()

	second, err := p.IndexDirectory(ctx, dir)
	require.NoError(t, err)
	assert.Zero(t, second.ChunksAdded)
	assert.Equal(t, first.ChunksAdded, second.ChunksExisting)
	assert.Equal(t, 1, second.IndexedFiles)

	countAfter, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, countBefore, countAfter)
	assert.Equal(t, callsBefore, emb.calls.Load(), "stored chunks are not re-embedded")
}

func TestIndexDirectory_EmbedFailureSkipsChunk(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "event_terms.txt", strings.Join([]string{
		"Anmeldung bis zum ersten Mai.",
		"FAIL diese Zeile wird nicht eingebettet.",
		"Stornierung ist kostenlos moeglich.",
	}, "\n"))

	store := newStore(t)
	p := newPipeline(store, &fakeEmbedder{failMarker: "FAIL"}, Options{})

	result, err := p.IndexDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, result.IndexedFiles)
	assert.Positive(t, result.EmbedFailures)
	assert.Positive(t, result.ChunksAdded)

	matches, err := store.Query(context.Background(), []float32{1, 1, 1}, 10, nil)
	require.NoError(t, err)
	for _, m := range matches {
		assert.NotContains(t, m.Text, "FAIL")
		assert.Equal(t, document.DocTypeEventTerms, m.DocType)
	}
}

func TestIndexDirectory_StoreFailureSkipsFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "Erste Datei mit Inhalt.")
	writeFile(t, dir, "b.txt", "Zweite Datei mit Inhalt.")

	store := &failingStore{Store: newStore(t), failSource: "a.txt"}
	p := newPipeline(store, &fakeEmbedder{}, Options{})

	result, err := p.IndexDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, result.IndexedFiles)
	require.Len(t, result.SkippedFiles, 1)
	assert.Equal(t, filepath.Join(dir, "a.txt"), result.SkippedFiles[0].Path)
	assert.Contains(t, result.SkippedFiles[0].Reason, "disk full")
}

func TestIndexDirectory_EmptyFileSkipped(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "leer.txt", "   \n\n")

	p := newPipeline(newStore(t), &fakeEmbedder{}, Options{})
	result, err := p.IndexDirectory(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, result.SkippedFiles, 1)
	assert.Contains(t, result.SkippedFiles[0].Reason, extract.ErrNoText.Error())
}

func TestIndexDirectory_CreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	p := newPipeline(newStore(t), &fakeEmbedder{}, Options{})
	result, err := p.IndexDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Zero(t, result.TotalFiles)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestIndexDirectory_Rebuild(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "Inhalt der Datei.")

	store := newStore(t)
	ctx := context.Background()
	_, err := newPipeline(store, &fakeEmbedder{}, Options{}).IndexDirectory(ctx, dir)
	require.NoError(t, err)

	result, err := newPipeline(store, &fakeEmbedder{}, Options{Rebuild: true}).IndexDirectory(ctx, dir)
	require.NoError(t, err)
	assert.Zero(t, result.ChunksExisting, "rebuild starts from an empty collection")
	assert.Positive(t, result.ChunksAdded)
}

func TestIndexDirectory_CanceledContext(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "Inhalt.")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newPipeline(newStore(t), &fakeEmbedder{}, Options{}).IndexDirectory(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmbedAllRespectsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	emb := embedFunc(func(ctx context.Context, text string) ([]float32, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return []float32{1, 1, 1}, nil
	})

	p := newPipeline(newStore(t), emb, Options{Concurrency: 2})
	chunks := make([]*storage.Chunk, 10)
	for i := range chunks {
		chunks[i] = &storage.Chunk{ID: string(rune('a' + i)), Text: "x"}
	}

	embedded, failures, err := p.embedAll(context.Background(), "x.txt", chunks)
	require.NoError(t, err)
	assert.Len(t, embedded, 10)
	assert.Zero(t, failures)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

type embedFunc func(ctx context.Context, text string) ([]float32, error)

func (f embedFunc) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

func TestWatchReindexesOnChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "Erste Datei.")

	store := newStore(t)
	p := newPipeline(store, &fakeEmbedder{}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var results []*IndexResult
	done := make(chan error, 1)
	go func() {
		done <- p.Watch(ctx, dir, 50*time.Millisecond, func(r *IndexResult) {
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 1
	}, 5*time.Second, 10*time.Millisecond, "initial run")

	// Give the watcher a moment to register before the write.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "b.txt", "Zweite Datei.")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range results[1:] {
			if r.ChunksAdded > 0 {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond, "re-index after change")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
