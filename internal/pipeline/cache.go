package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/pipedesk/dealscore/internal/telemetry"
)

const aggregatesKey = "pipeline:aggregates"

// Cache holds the unfiltered pipeline rollup in Redis. It implements
// engine.Invalidator so every applied score or state change drops the entry.
// All failures degrade to a cache miss; the database stays the truth.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache connects to Redis and verifies reachability
func NewCache(addr, password string, db int, ttl time.Duration) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &Cache{client: rdb, ttl: ttl}, nil
}

// Get returns the cached rollup, or ok=false on a miss or any Redis failure
func (c *Cache) Get(ctx context.Context) (*Aggregates, bool) {
	val, err := c.client.Get(ctx, aggregatesKey).Result()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Msg("Pipeline aggregate cache read failed")
		}
		telemetry.Get().RecordCacheMiss("pipeline")
		return nil, false
	}

	var agg Aggregates
	if err := json.Unmarshal([]byte(val), &agg); err != nil {
		telemetry.Get().RecordCacheMiss("pipeline")
		return nil, false
	}

	telemetry.Get().RecordCacheHit("pipeline")
	return &agg, true
}

// Set stores the rollup with the configured TTL
func (c *Cache) Set(ctx context.Context, agg *Aggregates) error {
	data, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("marshal aggregates: %w", err)
	}
	if err := c.client.Set(ctx, aggregatesKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Invalidate drops the cached rollup
func (c *Cache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, aggregatesKey).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Ping reports Redis reachability for health checks
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}
