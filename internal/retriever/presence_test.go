package retriever

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/ffi-copilot/internal/document"
)

type countingProber struct {
	calls   atomic.Int32
	present bool
	err     error
	gate    chan struct{}

	sawCancel atomic.Bool
}

func (p *countingProber) HasDocType(ctx context.Context, _ document.DocType) (bool, error) {
	p.calls.Add(1)
	if p.gate != nil {
		<-p.gate
	}
	if ctx.Err() != nil {
		p.sawCancel.Store(true)
		return false, ctx.Err()
	}
	return p.present, p.err
}

func TestPresenceCheckerMemoizes(t *testing.T) {
	prober := &countingProber{present: true}
	c := NewPresenceChecker(prober, 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := c.Has(ctx, document.DocTypeSatzung)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, int32(1), prober.calls.Load())
}

func TestPresenceCheckerRefresh(t *testing.T) {
	prober := &countingProber{present: false}
	c := NewPresenceChecker(prober, 0)
	ctx := context.Background()

	ok, err := c.Has(ctx, document.DocTypeSatzung)
	require.NoError(t, err)
	assert.False(t, ok)

	prober.present = true
	c.Refresh()

	ok, err = c.Has(ctx, document.DocTypeSatzung)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(2), prober.calls.Load())
}

func TestPresenceCheckerTTL(t *testing.T) {
	prober := &countingProber{present: true}
	c := NewPresenceChecker(prober, time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := c.Has(ctx, document.DocTypeSatzung)
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	_, err = c.Has(ctx, document.DocTypeSatzung)
	require.NoError(t, err)
	assert.Equal(t, int32(1), prober.calls.Load())

	now = now.Add(time.Minute)
	_, err = c.Has(ctx, document.DocTypeSatzung)
	require.NoError(t, err)
	assert.Equal(t, int32(2), prober.calls.Load())
}

func TestPresenceCheckerDoesNotCacheErrors(t *testing.T) {
	prober := &countingProber{err: errors.New("store down")}
	c := NewPresenceChecker(prober, 0)
	ctx := context.Background()

	_, err := c.Has(ctx, document.DocTypeSatzung)
	require.Error(t, err)

	prober.err = nil
	prober.present = true
	ok, err := c.Has(ctx, document.DocTypeSatzung)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPresenceCheckerDeduplicatesConcurrentProbes(t *testing.T) {
	prober := &countingProber{present: true, gate: make(chan struct{})}
	c := NewPresenceChecker(prober, 0)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	results := make([]bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := c.Has(ctx, document.DocTypeSatzung)
			assert.NoError(t, err)
			results[i] = ok
		}()
	}

	// Let the first probe start, then release it.
	require.Eventually(t, func() bool { return prober.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(prober.gate)
	wg.Wait()

	assert.Equal(t, int32(1), prober.calls.Load())
	for _, ok := range results {
		assert.True(t, ok)
	}
}

func TestPresenceCheckerSurvivesFirstCallerCancel(t *testing.T) {
	prober := &countingProber{present: true, gate: make(chan struct{})}
	c := NewPresenceChecker(prober, 0)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Has(firstCtx, document.DocTypeSatzung)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return prober.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		present bool
		err     error
	}
	second := make(chan result, 1)
	go func() {
		ok, err := c.Has(context.Background(), document.DocTypeSatzung)
		second <- result{ok, err}
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(prober.gate)
	res := <-second
	require.NoError(t, res.err)
	assert.True(t, res.present)
	assert.False(t, prober.sawCancel.Load())
	assert.Equal(t, int32(1), prober.calls.Load())

	// The shared answer was cached.
	ok, err := c.Has(context.Background(), document.DocTypeSatzung)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(1), prober.calls.Load())
}
