package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/mulewatch/internal/domain"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "mulewatch"

// fixedWindow starts the window on the first increment so later increments
// never extend it.
var fixedWindow = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RedisCache is the shared cache of the Pro tier and the L2 of TwoPhaseCache.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to cfg.RedisAddr and fails if the server does not
// answer a ping within five seconds.
func NewRedisCache(cfg domain.CacheConfig) (*RedisCache, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisCache{client: client}, nil
}

func batchRedisKey(tenantID, batchID string) string {
	return keyPrefix + ":" + tenantID + ":" + BatchKey(batchID)
}

func counterRedisKey(tenantID, key string) string {
	return keyPrefix + ":" + tenantID + ":counter:" + key
}

func (c *RedisCache) GetBatch(ctx context.Context, tenantID string, batchID string) (*domain.BatchRecord, error) {
	if err := checkTenant(tenantID); err != nil {
		return nil, err
	}
	data, err := c.client.Get(ctx, batchRedisKey(tenantID, batchID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get batch %s: %w", batchID, err)
	}
	return decodeBatch(data)
}

func (c *RedisCache) SetBatch(ctx context.Context, tenantID string, batch *domain.BatchRecord, ttl time.Duration) error {
	if err := checkTenant(tenantID); err != nil {
		return err
	}
	data, err := encodeBatch(batch)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, batchRedisKey(tenantID, batch.ID), data, ttl).Err()
}

func (c *RedisCache) DeleteBatch(ctx context.Context, tenantID string, batchID string) error {
	if err := checkTenant(tenantID); err != nil {
		return err
	}
	return c.client.Del(ctx, batchRedisKey(tenantID, batchID)).Err()
}

func (c *RedisCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if err := checkTenant(tenantID); err != nil {
		return 0, err
	}
	n, err := fixedWindow.Run(ctx, c.client, []string{counterRedisKey(tenantID, key)}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis increment %s: %w", key, err)
	}
	return n, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
