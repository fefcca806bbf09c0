package domain

import (
	"context"
	"time"
)

// Cache holds uploaded batches between upload and analysis, and the
// per-tenant upload counters. Every key is scoped by tenant.
type Cache interface {
	// GetBatch returns a cached batch, or nil, nil on a miss.
	GetBatch(ctx context.Context, tenantID string, batchID string) (*BatchRecord, error)

	SetBatch(ctx context.Context, tenantID string, batch *BatchRecord, ttl time.Duration) error

	// DeleteBatch evicts a batch. Deleting a missing batch is not an error.
	DeleteBatch(ctx context.Context, tenantID string, batchID string) error

	// IncrementCounter bumps a fixed-window counter and returns its new value.
	// The window starts at the first increment.
	IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings. Zero limits mean unbounded.
	LocalMaxSize  int
	LocalMaxBytes int64
	LocalTTL      time.Duration

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis

	// BatchTTL is how long uploaded batches stay cached.
	BatchTTL time.Duration
}
