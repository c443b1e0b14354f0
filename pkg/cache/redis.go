package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store is a shared result store consulted after the memory layer.
type Store interface {
	// Get returns the entry for a fingerprint or ErrCacheMiss.
	Get(ctx context.Context, fingerprint string) (*CacheEntry, error)

	// Set stores an entry. ttl <= 0 stores without expiry.
	Set(ctx context.Context, entry *CacheEntry, ttl time.Duration) error

	// Delete removes the entries for the given fingerprints.
	Delete(ctx context.Context, fingerprints ...string) error

	// Entries returns every stored entry.
	Entries(ctx context.Context) ([]*CacheEntry, error)
}

// RedisStore shares catalog results between storefront instances.
type RedisStore struct {
	redis *redis.Client
}

// NewRedisStore creates a new store with Redis backend.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{
		redis: redisClient,
	}
}

// Get retrieves a cache entry by fingerprint.
// Returns ErrCacheMiss if the key doesn't exist.
func (s *RedisStore) Get(ctx context.Context, fingerprint string) (*CacheEntry, error) {
	data, err := s.redis.Get(ctx, StoreKey(fingerprint)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	return &entry, nil
}

// Set stores a cache entry. Redis removes it once ttl elapses.
func (s *RedisStore) Set(ctx context.Context, entry *CacheEntry, ttl time.Duration) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if ttl < 0 {
		ttl = 0
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := s.redis.Set(ctx, StoreKey(entry.Key), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes cache entries.
func (s *RedisStore) Delete(ctx context.Context, fingerprints ...string) error {
	if len(fingerprints) == 0 {
		return nil
	}

	keys := make([]string, len(fingerprints))
	for i, fp := range fingerprints {
		keys[i] = StoreKey(fp)
	}

	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

// Entries scans all catalog results. Corrupted entries are skipped.
func (s *RedisStore) Entries(ctx context.Context) ([]*CacheEntry, error) {
	var entries []*CacheEntry

	iter := s.redis.Scan(ctx, 0, KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		fp, ok := FingerprintFromKey(iter.Val())
		if !ok {
			continue
		}
		entry, err := s.Get(ctx, fp)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := iter.Err(); err != nil {
		CacheErrors.WithLabelValues("scan").Inc()
		return entries, fmt.Errorf("redis scan: %w", err)
	}

	return entries, nil
}
