package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/mulewatch/internal/domain"
)

// New returns the cache selected by cfg.Type. "redis" is wrapped in a
// TwoPhaseCache when cfg.EnableTwoPhase is set.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize, cfg.LocalMaxBytes), nil
	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache reads through a local LRU (L1) to Redis (L2). Writes and
// deletes go to both; counters live only in Redis so quotas hold across
// replicas.
type TwoPhaseCache struct {
	l1    *LRUCache
	l2    *RedisCache
	l1TTL time.Duration
}

func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	l2, err := NewRedisCache(cfg)
	if err != nil {
		return nil, err
	}
	l1TTL := cfg.LocalTTL
	if l1TTL <= 0 {
		l1TTL = 5 * time.Minute
	}
	return &TwoPhaseCache{
		l1:    NewLRUCache(cfg.LocalMaxSize, cfg.LocalMaxBytes),
		l2:    l2,
		l1TTL: l1TTL,
	}, nil
}

func (c *TwoPhaseCache) GetBatch(ctx context.Context, tenantID string, batchID string) (*domain.BatchRecord, error) {
	if b, err := c.l1.GetBatch(ctx, tenantID, batchID); err != nil || b != nil {
		return b, err
	}
	b, err := c.l2.GetBatch(ctx, tenantID, batchID)
	if err != nil || b == nil {
		return nil, err
	}
	_ = c.l1.SetBatch(ctx, tenantID, b, c.l1TTL)
	return b, nil
}

func (c *TwoPhaseCache) SetBatch(ctx context.Context, tenantID string, batch *domain.BatchRecord, ttl time.Duration) error {
	if err := c.l2.SetBatch(ctx, tenantID, batch, ttl); err != nil {
		return err
	}
	return c.l1.SetBatch(ctx, tenantID, batch, min(ttl, c.l1TTL))
}

func (c *TwoPhaseCache) DeleteBatch(ctx context.Context, tenantID string, batchID string) error {
	if err := c.l1.DeleteBatch(ctx, tenantID, batchID); err != nil {
		return err
	}
	return c.l2.DeleteBatch(ctx, tenantID, batchID)
}

func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	return c.l2.IncrementCounter(ctx, tenantID, key, window)
}

func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.l2.Ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

func (c *TwoPhaseCache) Close() error {
	_ = c.l1.Close()
	return c.l2.Close()
}

// BatchKey is the cache key of an uploaded batch.
func BatchKey(batchID string) string {
	return "batch:" + batchID
}

func checkTenant(tenantID string) error {
	if !domain.ValidTenantID(tenantID) {
		return fmt.Errorf("%w: %q", domain.ErrInvalidTenant, tenantID)
	}
	return nil
}

func encodeBatch(batch *domain.BatchRecord) ([]byte, error) {
	if batch == nil || batch.ID == "" {
		return nil, fmt.Errorf("batch id is required")
	}
	return json.Marshal(batch)
}

// decodeBatch keeps numeric fields as json.Number, the same as an upload.
func decodeBatch(data []byte) (*domain.BatchRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var b domain.BatchRecord
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("failed to decode cached batch: %w", err)
	}
	return &b, nil
}
