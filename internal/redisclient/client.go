package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client stores processed-event and side-effect dedupe marks in Redis.
// Marks expire so the keyspace does not grow without bound; the saga's
// state guards remain the primary idempotency mechanism, the marks are a
// cheap second line against redelivery.
type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb, ttl: 24 * time.Hour}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// MarkOnce records a key and reports whether this call was the first to do
// so. SetNX makes the check-and-set atomic across workers.
func (c *Client) MarkOnce(ctx context.Context, key string) (bool, error) {
	first, err := c.rdb.SetNX(ctx, fmt.Sprintf("mark:%s", key), "1", c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to set dedupe mark: %w", err)
	}
	return first, nil
}

// IsMarked reports whether a key has already been recorded
func (c *Client) IsMarked(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, fmt.Sprintf("mark:%s", key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
