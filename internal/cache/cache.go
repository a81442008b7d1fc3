package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/cellpulse/cellpulse/internal/health"
)

// Cache holds the latest metric per cell in Redis. A nil *Cache is valid
// and behaves as a permanent miss, so callers need no enabled-check.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis at addr and verifies the connection.
func New(addr string, ttl time.Duration) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       addr,
		PoolSize:   20,
		MaxRetries: 3,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("cache: ping redis %s: %w", addr, err)
	}
	return &Cache{client: client, ttl: ttl}, nil
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

func key(cellID string) string { return "cellpulse:latest:" + cellID }

// SetLatest stores m as the current metric for its cell.
func (c *Cache) SetLatest(ctx context.Context, m health.HealthMetric) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("cache: marshal metric: %w", err)
	}
	return c.client.Set(ctx, key(m.CellID), data, c.ttl).Err()
}

// Latest returns the cached metric for cellID, or (nil, nil) on a miss.
func (c *Cache) Latest(ctx context.Context, cellID string) (*health.HealthMetric, error) {
	if c == nil {
		return nil, nil
	}
	val, err := c.client.Get(ctx, key(cellID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get %s: %w", cellID, err)
	}
	var m health.HealthMetric
	if err := json.Unmarshal([]byte(val), &m); err != nil {
		return nil, fmt.Errorf("cache: unmarshal metric: %w", err)
	}
	return &m, nil
}
