package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/storefront-prefetch/pkg/catalog"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// Config holds the result cache configuration.
type Config struct {
	// TTL after which an entry is stale. TTL <= 0 keeps entries for the
	// lifetime of the session.
	TTL time.Duration

	// MaxEntries bounds the memory layer; least recently used entries are
	// evicted first.
	MaxEntries int

	// Store is an optional shared layer (e.g. RedisStore).
	Store Store
}

// DefaultTTL bounds how long a catalog result is served without a refetch.
const DefaultTTL = 5 * time.Minute

// DefaultConfig returns the default result cache configuration.
func DefaultConfig() Config {
	return Config{
		TTL:        DefaultTTL,
		MaxEntries: 4096,
	}
}

// Predicate selects entries for invalidation.
type Predicate func(q catalog.FilterQuery) bool

// ResultCache maps query fingerprints to completed catalog results.
// It never returns errors: shared-store failures are logged and counted and
// the read degrades to a miss.
type ResultCache struct {
	memory *lru.Cache[string, *CacheEntry]
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// NewResultCache creates a result cache.
func NewResultCache(cfg Config, logger zerolog.Logger) (*ResultCache, error) {
	if cfg.MaxEntries <= 0 {
		return nil, fmt.Errorf("max_entries must be > 0 (got %d)", cfg.MaxEntries)
	}

	memory, err := lru.NewWithEvict(cfg.MaxEntries, func(string, *CacheEntry) {
		CacheEntries.Dec()
	})
	if err != nil {
		return nil, fmt.Errorf("create memory cache: %w", err)
	}

	return &ResultCache{
		memory: memory,
		store:  cfg.Store,
		ttl:    cfg.TTL,
		now:    time.Now,
		logger: logger,
	}, nil
}

// TTL returns the configured entry lifetime.
func (c *ResultCache) TTL() time.Duration {
	return c.ttl
}

// Peek returns a fresh result from the memory layer only. It never blocks on
// I/O and is safe to call from admission checks.
func (c *ResultCache) Peek(q catalog.FilterQuery) (*catalog.Result, bool) {
	return c.peek(q.Fingerprint())
}

func (c *ResultCache) peek(fingerprint string) (*catalog.Result, bool) {
	entry, ok := c.memory.Get(fingerprint)
	if !ok {
		return nil, false
	}

	if entry.IsExpired(c.ttl, c.now()) {
		// Stale: only remove if not replaced concurrently
		if current, ok := c.memory.Peek(fingerprint); ok && current == entry {
			c.memory.Remove(fingerprint)
		}
		CacheStale.Inc()
		return nil, false
	}

	return entry.Value, true
}

// Get returns a fresh result for q from memory, then from the shared store.
// A shared-store hit is promoted into memory.
func (c *ResultCache) Get(ctx context.Context, q catalog.FilterQuery) (*catalog.Result, bool) {
	fingerprint := q.Fingerprint()

	if value, ok := c.peek(fingerprint); ok {
		CacheHits.WithLabelValues("memory").Inc()
		c.logger.Debug().Str("fingerprint", fingerprint).Msg("Cache hit (memory)")
		return value, true
	}

	if c.store == nil {
		CacheMisses.Inc()
		return nil, false
	}

	entry, err := c.store.Get(ctx, fingerprint)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Warn().Err(err).Str("fingerprint", fingerprint).Msg("Shared cache get error")
		}
		CacheMisses.Inc()
		return nil, false
	}

	if entry.IsExpired(c.ttl, c.now()) {
		CacheStale.Inc()
		CacheMisses.Inc()
		return nil, false
	}

	c.add(entry)
	CacheHits.WithLabelValues("redis").Inc()
	c.logger.Debug().Str("fingerprint", fingerprint).Msg("Cache hit (shared)")
	return entry.Value, true
}

// Set unconditionally overwrites the entry for q with a fresh StoredAt.
func (c *ResultCache) Set(ctx context.Context, q catalog.FilterQuery, value *catalog.Result) {
	entry := NewEntry(q, value, c.now())
	c.add(entry)

	c.logger.Debug().
		Str("fingerprint", entry.Key).
		Dur("ttl", c.ttl).
		Msg("Cached result")

	if c.store == nil {
		return
	}
	if err := c.store.Set(ctx, entry, c.ttl); err != nil {
		c.logger.Warn().Err(err).Str("fingerprint", entry.Key).Msg("Shared cache set error")
	}
}

func (c *ResultCache) add(entry *CacheEntry) {
	if existed, _ := c.memory.ContainsOrAdd(entry.Key, entry); existed {
		c.memory.Add(entry.Key, entry)
		return
	}
	CacheEntries.Inc()
}

// Invalidate removes every entry whose query matches pred and returns the
// number of memory entries removed.
func (c *ResultCache) Invalidate(ctx context.Context, pred Predicate) int {
	removed := 0
	for _, fingerprint := range c.memory.Keys() {
		entry, ok := c.memory.Peek(fingerprint)
		if !ok || !pred(entry.Query) {
			continue
		}
		if c.memory.Remove(fingerprint) {
			removed++
		}
	}
	CacheInvalidations.Add(float64(removed))

	if c.store != nil {
		c.invalidateStore(ctx, pred)
	}

	c.logger.Debug().Int("removed", removed).Msg("Cache invalidated")
	return removed
}

// InvalidateAll clears the cache.
func (c *ResultCache) InvalidateAll(ctx context.Context) int {
	return c.Invalidate(ctx, func(catalog.FilterQuery) bool { return true })
}

func (c *ResultCache) invalidateStore(ctx context.Context, pred Predicate) {
	entries, err := c.store.Entries(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Shared cache scan error")
	}

	var matched []string
	for _, entry := range entries {
		if pred(entry.Query) {
			matched = append(matched, entry.Key)
		}
	}

	if err := c.store.Delete(ctx, matched...); err != nil {
		c.logger.Warn().Err(err).Int("keys", len(matched)).Msg("Shared cache delete error")
	}
}

// Len returns the number of entries in the memory layer, including stale
// entries not yet evicted.
func (c *ResultCache) Len() int {
	return c.memory.Len()
}

// SetClock overrides the time source (for testing).
func (c *ResultCache) SetClock(now func() time.Time) {
	c.now = now
}
