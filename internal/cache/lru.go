// Package cache keeps uploaded batches and upload quotas close to the API.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/mulewatch/internal/domain"
)

type slot struct {
	tenantID string
	name     string
}

type entry struct {
	slot      slot
	data      []byte
	expiresAt time.Time
}

type window struct {
	count int64
	ends  time.Time
}

// LRUCache is the in-process cache of the Community tier and the L1 of
// TwoPhaseCache. It evicts least recently used batches once either the
// entry limit or the byte budget is exceeded.
type LRUCache struct {
	mu         sync.Mutex
	maxEntries int
	maxBytes   int64
	bytes      int64
	now        func() time.Time

	recency *list.List // front is most recent; values are *entry
	entries map[slot]*list.Element
	windows map[slot]window
}

// NewLRUCache returns a cache bounded by maxEntries batches and maxBytes of
// encoded batch data. A zero or negative limit leaves that dimension unbounded.
func NewLRUCache(maxEntries int, maxBytes int64) *LRUCache {
	return &LRUCache{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		now:        time.Now,
		recency:    list.New(),
		entries:    make(map[slot]*list.Element),
		windows:    make(map[slot]window),
	}
}

func (c *LRUCache) GetBatch(ctx context.Context, tenantID string, batchID string) (*domain.BatchRecord, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	data := c.lookup(slot{tenantID, batchID})
	if data == nil {
		return nil, nil
	}
	return decodeBatch(data)
}

func (c *LRUCache) lookup(k slot) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[k]
	if !ok {
		return nil
	}
	e := el.Value.(*entry)
	if !c.now().Before(e.expiresAt) {
		c.remove(el)
		return nil
	}
	c.recency.MoveToFront(el)
	return e.data
}

func (c *LRUCache) SetBatch(ctx context.Context, tenantID string, batch *domain.BatchRecord, ttl time.Duration) error {
	if err := checkTenant(tenantID); err != nil {
		return err
	}
	data, err := encodeBatch(batch)
	if err != nil {
		return err
	}
	c.store(slot{tenantID, batch.ID}, data, ttl)
	return nil
}

// store inserts data, then evicts from the cold end until both limits hold.
// A single batch larger than the byte budget is not cached at all.
func (c *LRUCache) store(k slot, data []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[k]; ok {
		c.remove(el)
	}
	if c.maxBytes > 0 && int64(len(data)) > c.maxBytes {
		return
	}

	el := c.recency.PushFront(&entry{slot: k, data: data, expiresAt: c.now().Add(ttl)})
	c.entries[k] = el
	c.bytes += int64(len(data))

	for c.overLimit() {
		c.remove(c.recency.Back())
	}
}

func (c *LRUCache) overLimit() bool {
	if c.maxEntries > 0 && c.recency.Len() > c.maxEntries {
		return true
	}
	return c.maxBytes > 0 && c.bytes > c.maxBytes
}

func (c *LRUCache) remove(el *list.Element) {
	e := c.recency.Remove(el).(*entry)
	delete(c.entries, e.slot)
	c.bytes -= int64(len(e.data))
}

func (c *LRUCache) DeleteBatch(ctx context.Context, tenantID string, batchID string) error {
	if err := checkTenant(tenantID); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[slot{tenantID, batchID}]; ok {
		c.remove(el)
	}
	return nil
}

// IncrementCounter counts within fixed windows. Windows that have ended are
// dropped on every call so idle tenants do not accumulate.
func (c *LRUCache) IncrementCounter(ctx context.Context, tenantID string, key string, length time.Duration) (int64, error) {
	if err := checkTenant(tenantID); err != nil {
		return 0, err
	}
	k := slot{tenantID, key}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for s, w := range c.windows {
		if !now.Before(w.ends) {
			delete(c.windows, s)
		}
	}

	w, ok := c.windows[k]
	if !ok {
		w = window{ends: now.Add(length)}
	}
	w.count++
	c.windows[k] = w
	return w.count, nil
}

func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close empties the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recency.Init()
	c.entries = make(map[slot]*list.Element)
	c.windows = make(map[slot]window)
	c.bytes = 0
	return nil
}

// Usage reports how many batches and encoded bytes are held.
func (c *LRUCache) Usage() (entries int, bytes int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len(), c.bytes
}
