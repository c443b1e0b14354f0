// Package cache provides the catalog result cache.
//
// The result cache maps query fingerprints to completed catalog results:
//
// - Bounded in-memory LRU layer consulted first (never blocks on I/O)
// - Optional shared Redis layer, write-through, read on memory miss
// - Configurable TTL measured from StoredAt, 5 minutes by default (TTL <= 0 keeps entries for the session)
// - Predicate-based invalidation across both layers
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	results, err := cache.NewResultCache(cache.DefaultConfig(), logger)
//	if err != nil {
//		return err
//	}
//
//	q := catalog.FilterQuery{Category: "AV", Menu: "Televisores"}
//	if result, ok := results.Get(ctx, q); ok {
//		// cache hit
//	}
//
//	results.Set(ctx, q, result)
//
// # Shared Layer
//
//	cfg := cache.DefaultConfig()
//	cfg.Store = cache.NewRedisStore(redisClient)
//	results, err := cache.NewResultCache(cfg, logger)
//
// # Invalidation
//
//	results.Invalidate(ctx, func(q catalog.FilterQuery) bool {
//		return q.Category == "AV"
//	})
//
// # Metrics
//
//   - catalog_cache_hits_total{layer} - Cache hits by layer (memory, redis)
//   - catalog_cache_misses_total - Cache misses
//   - catalog_cache_stale_total - Entries found past their TTL
//   - catalog_cache_entries - Entries in the memory layer
//   - catalog_cache_invalidations_total - Entries removed by invalidation
//   - catalog_cache_errors_total{operation} - Shared store errors
package cache
