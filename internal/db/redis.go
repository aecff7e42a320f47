package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Guizzs26/hff-sync/internal/models"

	"github.com/redis/go-redis/v9"
)

const statsKey = "hff:stats:v1"

// StatsCache keeps the latest computed analytics in Redis
type StatsCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStatsCache connects to redis with short timeouts
func NewStatsCache(addr string, ttl time.Duration) *StatsCache {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &StatsCache{client: client, ttl: ttl}
}

// Get returns ok=false on a cache miss
func (c *StatsCache) Get(ctx context.Context) (models.Analytics, bool, error) {
	var stats models.Analytics

	raw, err := c.client.Get(ctx, statsKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return stats, false, nil
	}
	if err != nil {
		return stats, false, fmt.Errorf("stats cache get: %w", err)
	}

	if err := json.Unmarshal(raw, &stats); err != nil {
		return stats, false, fmt.Errorf("stats cache decode: %w", err)
	}
	return stats, true, nil
}

func (c *StatsCache) Set(ctx context.Context, stats models.Analytics) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("stats cache encode: %w", err)
	}
	if err := c.client.Set(ctx, statsKey, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("stats cache set: %w", err)
	}
	return nil
}

// Invalidate drops the cached analytics after a write
func (c *StatsCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, statsKey).Err(); err != nil {
		return fmt.Errorf("stats cache invalidate: %w", err)
	}
	return nil
}

// Healthy verifies redis connectivity
func (c *StatsCache) Healthy(ctx context.Context) bool {
	if c == nil || c.client == nil {
		return false
	}
	return c.client.Ping(ctx).Err() == nil
}

func (c *StatsCache) Close() error {
	return c.client.Close()
}
