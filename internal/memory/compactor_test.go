package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/ffi-copilot/internal/llm"
)

type fakeSummarizer struct {
	mu       sync.Mutex
	calls    atomic.Int32
	reply    string
	err      error
	delay    time.Duration
	messages [][]llm.Message
	opts     []llm.Options
	ctxErrs  []error
}

func (f *fakeSummarizer) Chat(ctx context.Context, messages []llm.Message, opts llm.Options) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.messages = append(f.messages, messages)
	f.opts = append(f.opts, opts)
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.mu.Unlock()
	return f.reply, f.err
}

func sessionWith(t *testing.T, n int) *Store {
	t.Helper()
	s := newTestStore(t)
	require.NoError(t, s.Touch(context.Background(), "s1"))
	appendN(t, s, "s1", n)
	return s
}

func TestMaybeCompactBelowTrigger(t *testing.T) {
	s := sessionWith(t, 20)
	sum := &fakeSummarizer{reply: "- x"}
	c := NewCompactor(s, sum, 0, 0, nil)

	compacted, err := c.MaybeCompact(context.Background(), "s1")
	require.NoError(t, err)
	assert.False(t, compacted)
	assert.Zero(t, sum.calls.Load())
}

func TestMaybeCompactAtTwentyOne(t *testing.T) {
	s := sessionWith(t, 21)
	require.NoError(t, s.SetSummary(context.Background(), "s1", "- alte Fakten"))
	sum := &fakeSummarizer{reply: "  - neue Fakten \n"}
	c := NewCompactor(s, sum, 0, 0, nil)
	ctx := context.Background()

	compacted, err := c.MaybeCompact(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, compacted)
	assert.Equal(t, int32(1), sum.calls.Load())

	n, err := s.CountMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, DefaultKeepLast, n)

	summary, err := s.Summary(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "- neue Fakten", summary)

	kept, err := s.LastMessages(ctx, "s1", 100)
	require.NoError(t, err)
	assert.Equal(t, "m9", kept[0].Content)
	assert.Equal(t, "m20", kept[len(kept)-1].Content)

	// Prompt layout and sampling.
	require.Len(t, sum.messages, 1)
	msgs := sum.messages[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, summarizerSystemPrompt, msgs[0].Content)
	assert.Equal(t, llm.RoleUser, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "- alte Fakten")
	assert.Contains(t, msgs[1].Content, "user: m0\nassistant: m1")
	assert.Contains(t, msgs[1].Content, "user: m8")
	assert.NotContains(t, msgs[1].Content, "m9")
	assert.Equal(t, 0.0, sum.opts[0].Temperature)

	// A second call does nothing.
	compacted, err = c.MaybeCompact(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, compacted)
	assert.Equal(t, int32(1), sum.calls.Load())
}

func TestMaybeCompactSummarizerFailureLeavesState(t *testing.T) {
	s := sessionWith(t, 25)
	ctx := context.Background()
	require.NoError(t, s.SetSummary(ctx, "s1", "- bleibt"))
	c := NewCompactor(s, &fakeSummarizer{err: errors.New("ollama down")}, 0, 0, nil)

	compacted, err := c.MaybeCompact(ctx, "s1")
	require.Error(t, err)
	assert.False(t, compacted)

	n, err := s.CountMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 25, n)
	summary, err := s.Summary(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "- bleibt", summary)
}

func TestMaybeCompactEmptySummaryLeavesState(t *testing.T) {
	s := sessionWith(t, 22)
	c := NewCompactor(s, &fakeSummarizer{reply: "   "}, 0, 0, nil)
	ctx := context.Background()

	compacted, err := c.MaybeCompact(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, compacted)

	n, err := s.CountMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 22, n)
}

func TestMaybeCompactConcurrentCallsSummarizeOnce(t *testing.T) {
	s := sessionWith(t, 21)
	sum := &fakeSummarizer{reply: "- fakt", delay: 50 * time.Millisecond}
	c := NewCompactor(s, sum, 0, 0, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.MaybeCompact(ctx, "s1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), sum.calls.Load())
	n, err := s.CountMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, DefaultKeepLast, n)
}

func TestMaybeCompactTrimFailureLeavesState(t *testing.T) {
	s := sessionWith(t, 25)
	ctx := context.Background()
	require.NoError(t, s.SetSummary(ctx, "s1", "- alt"))
	blockDeletes(t, s)
	sum := &fakeSummarizer{reply: "- neu"}
	c := NewCompactor(s, sum, 0, 0, nil)

	compacted, err := c.MaybeCompact(ctx, "s1")
	require.Error(t, err)
	assert.False(t, compacted)

	n, err := s.CountMessages(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 25, n)
	summary, err := s.Summary(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "- alt", summary)

	// The retry folds the same messages into the old summary, not the new one.
	_, err = s.db.Exec("DROP TRIGGER block_message_delete")
	require.NoError(t, err)
	compacted, err = c.MaybeCompact(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, compacted)
	require.Len(t, sum.messages, 2)
	assert.Contains(t, sum.messages[1][1].Content, "Bisherige Zusammenfassung:\n- alt\n")
}

func TestMaybeCompactSurvivesFirstCallerCancel(t *testing.T) {
	s := sessionWith(t, 21)
	sum := &fakeSummarizer{reply: "- fakt", delay: 300 * time.Millisecond}
	c := NewCompactor(s, sum, 0, 0, nil)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.MaybeCompact(firstCtx, "s1")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return sum.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		compacted bool
		err       error
	}
	second := make(chan result, 1)
	go func() {
		compacted, err := c.MaybeCompact(context.Background(), "s1")
		second <- result{compacted, err}
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-firstErr, context.Canceled)
	res := <-second
	require.NoError(t, res.err)
	assert.True(t, res.compacted)

	assert.Equal(t, int32(1), sum.calls.Load())
	sum.mu.Lock()
	assert.Equal(t, []error{nil}, sum.ctxErrs)
	sum.mu.Unlock()
	n, err := s.CountMessages(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, DefaultKeepLast, n)
}

func TestBuildSummaryPrompt(t *testing.T) {
	prompt := buildSummaryPrompt("- a", []Message{
		{Role: RoleUser, Content: "Wann ist das Event?"},
		{Role: RoleAssistant, Content: "Am Freitag."},
	})
	assert.True(t, strings.HasPrefix(prompt, "Du aktualisierst eine kurze"))
	assert.Contains(t, prompt, "Bisherige Zusammenfassung:\n- a\n")
	assert.Contains(t, prompt, "user: Wann ist das Event?\nassistant: Am Freitag.")
	assert.Contains(t, prompt, "Maximal 10 Bulletpoints.")
}
