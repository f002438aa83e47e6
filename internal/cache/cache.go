package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/drbilel35-sudo/cctv-backend/pkg/models"
)

// healthTTL bounds how long a health snapshot stays fresh.
const healthTTL = 10 * time.Second

// statsTTL keeps statistics around long enough for dashboards polling at
// a few seconds interval, without accumulating dead sessions forever.
const statsTTL = 24 * time.Hour

// Cache mirrors session statistics and health snapshots in Redis.
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks the Redis connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// RecordStats stores the latest statistics snapshot for a session.
func (c *Cache) RecordStats(ctx context.Context, sessionKey string, stats models.SessionStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	key := fmt.Sprintf("stream:stats:%s", sessionKey)
	return c.client.Set(ctx, key, data, statsTTL).Err()
}

// GetStats retrieves the statistics snapshot for a session. Returns
// (nil, nil) on a cache miss.
func (c *Cache) GetStats(ctx context.Context, sessionKey string) (*models.SessionStats, error) {
	key := fmt.Sprintf("stream:stats:%s", sessionKey)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get stats from cache: %w", err)
	}

	var stats models.SessionStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stats: %w", err)
	}

	return &stats, nil
}

// RecordBandwidth stores a rolling bandwidth sample for a session.
func (c *Cache) RecordBandwidth(ctx context.Context, sessionKey string, bitsPerSecond float64) error {
	key := fmt.Sprintf("stream:bandwidth:%s", sessionKey)
	return c.client.Set(ctx, key, bitsPerSecond, time.Minute).Err()
}

// GetBandwidth retrieves the last bandwidth sample. Returns 0 on a miss.
func (c *Cache) GetBandwidth(ctx context.Context, sessionKey string) (float64, error) {
	key := fmt.Sprintf("stream:bandwidth:%s", sessionKey)
	val, err := c.client.Get(ctx, key).Float64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get bandwidth from cache: %w", err)
	}
	return val, nil
}

// SetHealth caches a health snapshot with a short TTL.
func (c *Cache) SetHealth(ctx context.Context, health models.SessionHealth) error {
	data, err := json.Marshal(health)
	if err != nil {
		return fmt.Errorf("failed to marshal health: %w", err)
	}

	key := fmt.Sprintf("stream:health:%s", health.SessionKey)
	return c.client.Set(ctx, key, data, healthTTL).Err()
}

// GetHealth retrieves a cached health snapshot. Returns (nil, nil) on a
// cache miss so callers recompute.
func (c *Cache) GetHealth(ctx context.Context, sessionKey string) (*models.SessionHealth, error) {
	key := fmt.Sprintf("stream:health:%s", sessionKey)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get health from cache: %w", err)
	}

	var health models.SessionHealth
	if err := json.Unmarshal(data, &health); err != nil {
		return nil, fmt.Errorf("failed to unmarshal health: %w", err)
	}

	return &health, nil
}

// DeleteSession removes all cached entries for a session.
func (c *Cache) DeleteSession(ctx context.Context, sessionKey string) error {
	keys := []string{
		fmt.Sprintf("stream:stats:%s", sessionKey),
		fmt.Sprintf("stream:bandwidth:%s", sessionKey),
		fmt.Sprintf("stream:health:%s", sessionKey),
	}
	return c.client.Del(ctx, keys...).Err()
}
