// Package cache provides the catalog result cache with an in-memory LRU and
// an optional Redis-backed shared layer.
package cache

import (
	"time"

	"github.com/Sternrassler/storefront-prefetch/pkg/catalog"
)

// CacheEntry represents a cached catalog query result.
// Entries are replaced wholesale on refresh, never mutated in place.
type CacheEntry struct {
	// Key is the query fingerprint
	Key string `json:"key"`

	// Query is the query that produced Value
	Query catalog.FilterQuery `json:"query"`

	// Value is the query result
	Value *catalog.Result `json:"value"`

	// StoredAt is when the entry was written
	StoredAt time.Time `json:"stored_at"`
}

// NewEntry creates an entry for q stored at now.
func NewEntry(q catalog.FilterQuery, value *catalog.Result, now time.Time) *CacheEntry {
	return &CacheEntry{
		Key:      q.Fingerprint(),
		Query:    q,
		Value:    value,
		StoredAt: now,
	}
}

// IsExpired returns true if the entry is older than ttl at now.
// A ttl <= 0 never expires.
func (e *CacheEntry) IsExpired(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(e.StoredAt) >= ttl
}

// TTL returns the time until expiration at now.
// Returns 0 if already expired, and ttl itself when ttl <= 0.
func (e *CacheEntry) TTL(ttl time.Duration, now time.Time) time.Duration {
	if ttl <= 0 {
		return ttl
	}
	remaining := ttl - now.Sub(e.StoredAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
