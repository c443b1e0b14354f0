package cache

import (
	"context"
	"testing"
	"time"

	"github.com/Sternrassler/storefront-prefetch/pkg/catalog"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// setupTestRedis creates a test Redis client for testing.
// Tests are skipped when no Redis is listening on localhost; the integration
// suite runs the same flows against a testcontainers-go instance.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewRedisStore_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisStore should panic with nil redis client")
		}
	}()
	NewRedisStore(nil)
}

func TestRedisStore_SetAndGet(t *testing.T) {
	store := NewRedisStore(setupTestRedis(t))
	ctx := context.Background()

	q := catalog.FilterQuery{Category: "AV", Menu: "TV"}
	entry := NewEntry(q, testResult("TV-1"), time.Now())

	if err := store.Set(ctx, entry, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get(ctx, q.Fingerprint())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Key != entry.Key {
		t.Errorf("Key = %q, want %q", got.Key, entry.Key)
	}
	if got.Value.Products[0].SKU != "TV-1" {
		t.Errorf("SKU = %q", got.Value.Products[0].SKU)
	}
	if got.Query.Menu != "TV" {
		t.Errorf("Query.Menu = %q", got.Query.Menu)
	}
}

func TestRedisStore_Get_CacheMiss(t *testing.T) {
	store := NewRedisStore(setupTestRedis(t))

	_, err := store.Get(context.Background(), "category:nope")
	if err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss, got %v", err)
	}
}

func TestRedisStore_Get_InvalidEntry(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()

	client.Set(ctx, StoreKey("category:bad"), "not json", 0)

	if _, err := store.Get(ctx, "category:bad"); err == nil {
		t.Error("Expected error for corrupted entry")
	}
}

func TestRedisStore_DeleteAndEntries(t *testing.T) {
	store := NewRedisStore(setupTestRedis(t))
	ctx := context.Background()

	for _, code := range []string{"AV", "HOME", "TOYS"} {
		q := catalog.FilterQuery{Category: code}
		if err := store.Set(ctx, NewEntry(q, testResult(code), time.Now()), 0); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	entries, err := store.Entries(ctx)
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("Entries() = %d, want 3", len(entries))
	}

	if err := store.Delete(ctx, "category:AV", "category:HOME"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := store.Get(ctx, "category:AV"); err != ErrCacheMiss {
		t.Errorf("Expected ErrCacheMiss after Delete, got %v", err)
	}
	if _, err := store.Get(ctx, "category:TOYS"); err != nil {
		t.Errorf("TOYS should survive Delete: %v", err)
	}
}

func TestRedisStore_Set_NilEntry(t *testing.T) {
	store := NewRedisStore(setupTestRedis(t))

	if err := store.Set(context.Background(), nil, time.Minute); err == nil {
		t.Error("Set with nil entry should return error")
	}
}

func TestResultCache_SharedStore(t *testing.T) {
	store := NewRedisStore(setupTestRedis(t))
	ctx := context.Background()
	q := catalog.FilterQuery{Category: "AV"}

	writer, err := NewResultCache(Config{TTL: time.Minute, MaxEntries: 10, Store: store}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	reader, err := NewResultCache(Config{TTL: time.Minute, MaxEntries: 10, Store: store}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	writer.Set(ctx, q, testResult("shared"))

	if _, ok := reader.Peek(q); ok {
		t.Fatal("Peek must not consult the shared store")
	}

	got, ok := reader.Get(ctx, q)
	if !ok || got.Products[0].SKU != "shared" {
		t.Fatalf("Get() = %+v, %v; want shared hit", got, ok)
	}
	if _, ok := reader.Peek(q); !ok {
		t.Error("Shared hit should be promoted into memory")
	}

	writer.InvalidateAll(ctx)
	if _, err := store.Get(ctx, q.Fingerprint()); err != ErrCacheMiss {
		t.Errorf("InvalidateAll should clear the shared store, got %v", err)
	}
}
