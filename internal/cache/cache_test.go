package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/opensource-finance/mulewatch/internal/domain"
)

func testBatch(id string) *domain.BatchRecord {
	return &domain.BatchRecord{
		ID:       id,
		Filename: "upload.json",
		Records: []domain.RawTransaction{
			{"source": "A", "destination": "B", "amount": 150000.5, "remarks": "test"},
		},
		TransactionCount: 1,
	}
}

// fakeClock lets tests move the cache's notion of time.
type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestLRU(maxEntries int, maxBytes int64) (*LRUCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache(maxEntries, maxBytes)
	c.now = clock.now
	return c, clock
}

func TestLRUCache(t *testing.T) {
	cache, clock := newTestLRU(100, 0)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("SetAndGetBatch", func(t *testing.T) {
		if err := cache.SetBatch(ctx, tenantID, testBatch("batch-001"), time.Minute); err != nil {
			t.Fatalf("SetBatch failed: %v", err)
		}

		retrieved, err := cache.GetBatch(ctx, tenantID, "batch-001")
		if err != nil {
			t.Fatalf("GetBatch failed: %v", err)
		}
		if retrieved == nil {
			t.Fatal("expected cached batch")
		}
		if retrieved.Filename != "upload.json" || len(retrieved.Records) != 1 {
			t.Errorf("unexpected cached batch: %+v", retrieved)
		}
		if _, ok := retrieved.Records[0]["amount"].(json.Number); !ok {
			t.Errorf("expected amount decoded as json.Number, got %T", retrieved.Records[0]["amount"])
		}

		tx := domain.NormalizeTransaction(0, retrieved.Records[0])
		if tx.Amount != 150000.5 {
			t.Errorf("expected amount 150000.5, got %v", tx.Amount)
		}
	})

	t.Run("Miss", func(t *testing.T) {
		retrieved, err := cache.GetBatch(ctx, tenantID, "missing")
		if err != nil {
			t.Fatalf("GetBatch failed: %v", err)
		}
		if retrieved != nil {
			t.Error("expected nil on miss")
		}
	})

	t.Run("DeleteBatch", func(t *testing.T) {
		_ = cache.SetBatch(ctx, tenantID, testBatch("batch-del"), time.Minute)

		if err := cache.DeleteBatch(ctx, tenantID, "batch-del"); err != nil {
			t.Fatalf("DeleteBatch failed: %v", err)
		}
		if b, _ := cache.GetBatch(ctx, tenantID, "batch-del"); b != nil {
			t.Error("expected nil after delete")
		}
		if err := cache.DeleteBatch(ctx, tenantID, "batch-del"); err != nil {
			t.Errorf("deleting a missing batch should succeed, got %v", err)
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.SetBatch(ctx, tenantID, testBatch("expiring"), 10*time.Second)

		if b, _ := cache.GetBatch(ctx, tenantID, "expiring"); b == nil {
			t.Error("expected batch before expiration")
		}

		clock.advance(10 * time.Second)

		if b, _ := cache.GetBatch(ctx, tenantID, "expiring"); b != nil {
			t.Error("expected nil once the ttl has passed")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_ = cache.SetBatch(ctx, "tenant-001", testBatch("shared"), time.Minute)

		other, err := cache.GetBatch(ctx, "tenant-002", "shared")
		if err != nil || other != nil {
			t.Errorf("expected miss for other tenant, got %v, %v", other, err)
		}
		if err := cache.DeleteBatch(ctx, "tenant-002", "shared"); err != nil {
			t.Fatalf("DeleteBatch failed: %v", err)
		}
		if b, _ := cache.GetBatch(ctx, "tenant-001", "shared"); b == nil {
			t.Error("another tenant's delete must not evict the batch")
		}
	})

	t.Run("RejectsInvalidTenantID", func(t *testing.T) {
		for _, id := range []string{"", "tenant:1", "a b"} {
			if err := cache.SetBatch(ctx, id, testBatch("x"), time.Minute); !errors.Is(err, domain.ErrInvalidTenant) {
				t.Errorf("SetBatch(%q): expected ErrInvalidTenant, got %v", id, err)
			}
			if _, err := cache.GetBatch(ctx, id, "x"); !errors.Is(err, domain.ErrInvalidTenant) {
				t.Errorf("GetBatch(%q): expected ErrInvalidTenant, got %v", id, err)
			}
			if _, err := cache.IncrementCounter(ctx, id, "uploads", time.Minute); !errors.Is(err, domain.ErrInvalidTenant) {
				t.Errorf("IncrementCounter(%q): expected ErrInvalidTenant, got %v", id, err)
			}
		}
	})

	t.Run("RequiresBatchID", func(t *testing.T) {
		if err := cache.SetBatch(ctx, tenantID, &domain.BatchRecord{}, time.Minute); err == nil {
			t.Error("expected error for batch without id")
		}
	})

	t.Run("IncrementCounter", func(t *testing.T) {
		window := time.Minute

		for want := int64(1); want <= 2; want++ {
			got, err := cache.IncrementCounter(ctx, tenantID, "uploads", window)
			if err != nil {
				t.Fatalf("IncrementCounter failed: %v", err)
			}
			if got != want {
				t.Errorf("expected count %d, got %d", want, got)
			}
		}

		// Later increments do not extend the window.
		clock.advance(59 * time.Second)
		if got, _ := cache.IncrementCounter(ctx, tenantID, "uploads", window); got != 3 {
			t.Errorf("expected count 3 inside the window, got %d", got)
		}
		clock.advance(time.Second)
		if got, _ := cache.IncrementCounter(ctx, tenantID, "uploads", window); got != 1 {
			t.Errorf("expected count 1 after window reset, got %d", got)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := cache.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestLRUEviction(t *testing.T) {
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("ByEntryCount", func(t *testing.T) {
		c, _ := newTestLRU(3, 0)
		for _, id := range []string{"a", "b", "c"} {
			_ = c.SetBatch(ctx, tenantID, testBatch(id), time.Minute)
		}

		// Touch 'a' so 'b' is the least recently used.
		_, _ = c.GetBatch(ctx, tenantID, "a")
		_ = c.SetBatch(ctx, tenantID, testBatch("d"), time.Minute)

		if b, _ := c.GetBatch(ctx, tenantID, "b"); b != nil {
			t.Error("expected 'b' to be evicted")
		}
		for _, id := range []string{"a", "c", "d"} {
			if b, _ := c.GetBatch(ctx, tenantID, id); b == nil {
				t.Errorf("expected %q to still exist", id)
			}
		}
	})

	t.Run("ByBytes", func(t *testing.T) {
		data, err := encodeBatch(testBatch("x"))
		if err != nil {
			t.Fatalf("encodeBatch failed: %v", err)
		}
		size := int64(len(data))

		c, _ := newTestLRU(0, 2*size)
		for _, id := range []string{"x", "y", "z"} {
			_ = c.SetBatch(ctx, tenantID, testBatch(id), time.Minute)
		}

		entries, used := c.Usage()
		if entries != 2 || used > 2*size {
			t.Errorf("expected 2 entries within %d bytes, got %d entries and %d bytes", 2*size, entries, used)
		}
		if b, _ := c.GetBatch(ctx, tenantID, "x"); b != nil {
			t.Error("expected the oldest batch to be evicted")
		}
	})

	t.Run("OversizedBatchNotCached", func(t *testing.T) {
		c, _ := newTestLRU(0, 10)
		if err := c.SetBatch(ctx, tenantID, testBatch("big"), time.Minute); err != nil {
			t.Fatalf("SetBatch failed: %v", err)
		}
		if entries, used := c.Usage(); entries != 0 || used != 0 {
			t.Errorf("expected empty cache, got %d entries and %d bytes", entries, used)
		}
	})

	t.Run("ReplaceKeepsAccounting", func(t *testing.T) {
		c, _ := newTestLRU(10, 0)
		_ = c.SetBatch(ctx, tenantID, testBatch("same"), time.Minute)
		_, before := c.Usage()
		_ = c.SetBatch(ctx, tenantID, testBatch("same"), time.Minute)

		entries, after := c.Usage()
		if entries != 1 || after != before {
			t.Errorf("expected 1 entry of %d bytes, got %d entries and %d bytes", before, entries, after)
		}
	})
}

func TestLRUCounterWindowsPruned(t *testing.T) {
	c, clock := newTestLRU(10, 0)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		_, _ = c.IncrementCounter(ctx, fmt.Sprintf("tenant-%d", i), "uploads", time.Minute)
	}
	clock.advance(time.Minute)
	_, _ = c.IncrementCounter(ctx, "tenant-new", "uploads", time.Minute)

	c.mu.Lock()
	n := len(c.windows)
	c.mu.Unlock()
	if n != 1 {
		t.Errorf("expected ended windows to be pruned, %d remain", n)
	}
}

func TestLRUClose(t *testing.T) {
	c, _ := newTestLRU(10, 0)
	ctx := context.Background()
	_ = c.SetBatch(ctx, "tenant-001", testBatch("k"), time.Minute)

	if err := c.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if b, _ := c.GetBatch(ctx, "tenant-001", "k"); b != nil {
		t.Error("expected cache to be cleared after close")
	}
	if entries, used := c.Usage(); entries != 0 || used != 0 {
		t.Errorf("expected zero usage after close, got %d and %d", entries, used)
	}
}

func TestRedisKeys(t *testing.T) {
	if got := batchRedisKey("tenant-001", "b1"); got != "mulewatch:tenant-001:batch:b1" {
		t.Errorf("unexpected batch key %s", got)
	}
	if got := counterRedisKey("tenant-001", "uploads"); got != "mulewatch:tenant-001:counter:uploads" {
		t.Errorf("unexpected counter key %s", got)
	}
}

func TestNewCache(t *testing.T) {
	t.Run("MemoryType", func(t *testing.T) {
		cfg := domain.CacheConfig{
			Type:          "memory",
			LocalMaxSize:  100,
			LocalMaxBytes: 1 << 20,
		}

		cache, err := New(cfg)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer cache.Close()

		lru, ok := cache.(*LRUCache)
		if !ok {
			t.Fatal("expected LRUCache for memory type")
		}
		if lru.maxEntries != 100 || lru.maxBytes != 1<<20 {
			t.Errorf("limits not applied: %d entries, %d bytes", lru.maxEntries, lru.maxBytes)
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		_, err := New(domain.CacheConfig{Type: "memcached"})
		if err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
