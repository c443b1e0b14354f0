package prefetch

import (
	"sync"

	"github.com/Sternrassler/storefront-prefetch/pkg/cache"
	"github.com/Sternrassler/storefront-prefetch/pkg/catalog"
	"github.com/Sternrassler/storefront-prefetch/pkg/scheduler"
)

// Coordinator arbitrates between hover-driven prefetches and the background
// sweep. Hover prefetches claim their fingerprint from the moment they are
// requested (including while debounced) until they settle or are cancelled.
type Coordinator struct {
	results *cache.ResultCache
	hover   *scheduler.Scheduler

	mu     sync.Mutex
	claims map[string]struct{}
}

// NewCoordinator creates a coordinator for the hover scheduler.
func NewCoordinator(results *cache.ResultCache, hover *scheduler.Scheduler) *Coordinator {
	return &Coordinator{
		results: results,
		hover:   hover,
		claims:  make(map[string]struct{}),
	}
}

// ShouldPrefetch reports whether a background prefetch of q is worth
// issuing: not cached, not in flight in any scheduler, not queued for hover
// and not claimed by a hover prefetch.
func (c *Coordinator) ShouldPrefetch(q catalog.FilterQuery) bool {
	if _, ok := c.results.Peek(q); ok {
		return false
	}

	fingerprint := q.Fingerprint()
	if c.hover.InFlight(fingerprint) || c.hover.Pending(fingerprint) {
		return false
	}
	return !c.Claimed(fingerprint)
}

// Claim marks fingerprint as owned by a hover prefetch.
func (c *Coordinator) Claim(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.claims[fingerprint] = struct{}{}
}

// Release drops the hover claim on fingerprint.
func (c *Coordinator) Release(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claims, fingerprint)
}

// Claimed reports whether fingerprint is claimed by a hover prefetch.
func (c *Coordinator) Claimed(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.claims[fingerprint]
	return ok
}

// Claims returns the number of claimed fingerprints.
func (c *Coordinator) Claims() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.claims)
}

// releaseOnSettle drops the claim once t settles.
func (c *Coordinator) releaseOnSettle(t *scheduler.Task) {
	if t.Settled() {
		c.Release(t.Fingerprint)
		return
	}
	go func() {
		<-t.Done()
		c.Release(t.Fingerprint)
	}()
}
