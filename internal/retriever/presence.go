package retriever

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bull/ffi-copilot/internal/document"
)

// Prober answers whether any chunk of a category is stored.
type Prober interface {
	HasDocType(ctx context.Context, docType document.DocType) (bool, error)
}

// probeTimeout bounds one shared probe, which outlives the caller that
// started it.
const probeTimeout = 10 * time.Second

type presenceEntry struct {
	present   bool
	checkedAt time.Time
}

// PresenceChecker caches per-category presence probes. A zero TTL keeps
// answers until Refresh is called. Concurrent first lookups of the same
// category share one probe. Failed probes are not cached.
type PresenceChecker struct {
	prober Prober
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[document.DocType]presenceEntry
	group   singleflight.Group
}

func NewPresenceChecker(prober Prober, ttl time.Duration) *PresenceChecker {
	return &PresenceChecker{
		prober:  prober,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[document.DocType]presenceEntry),
	}
}

// Has reports whether the category has at least one stored chunk.
func (c *PresenceChecker) Has(ctx context.Context, docType document.DocType) (bool, error) {
	if present, ok := c.cached(docType); ok {
		return present, nil
	}

	ch := c.group.DoChan(string(docType), func() (any, error) {
		// Another caller may have filled the entry while we waited.
		if present, ok := c.cached(docType); ok {
			return present, nil
		}
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), probeTimeout)
		defer cancel()
		present, err := c.prober.HasDocType(probeCtx, docType)
		if err != nil {
			return false, err
		}
		c.mu.Lock()
		c.entries[docType] = presenceEntry{present: present, checkedAt: c.now()}
		c.mu.Unlock()
		return present, nil
	})
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	}
}

func (c *PresenceChecker) cached(docType document.DocType) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[docType]
	if !ok {
		return false, false
	}
	if c.ttl > 0 && c.now().Sub(e.checkedAt) > c.ttl {
		delete(c.entries, docType)
		return false, false
	}
	return e.present, true
}

// Refresh forgets every cached answer, e.g. after re-indexing.
func (c *PresenceChecker) Refresh() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}
