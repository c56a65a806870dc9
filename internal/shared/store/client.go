package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client wraps a Redis-compatible key-value store. The gateway only relies
// on get, set-with-ttl, increment-with-expiry and list-push-with-trim, so
// any store with those semantics can sit behind it.
type Client struct {
	client *redis.Client
}

// New creates a new store client and verifies connectivity
func New(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse store URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("store ping failed: %w", err)
	}

	return &Client{client: client}, nil
}

// Close closes the store connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Get retrieves a value by key. The second return is false when the key
// does not exist.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// GetInt64 retrieves a counter value by key
func (c *Client) GetInt64(ctx context.Context, key string) (int64, bool, error) {
	val, err := c.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return val, true, nil
}

// Set stores a value with TTL
func (c *Client) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Incr increments a counter
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	return c.client.Incr(ctx, key).Result()
}

// Expire sets a TTL on a key
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.client.Expire(ctx, key, ttl).Err()
}

// LPushTrim prepends a value to a list and trims the list to its newest
// keep entries, so the list acts as a bounded most-recent-first buffer.
func (c *Client) LPushTrim(ctx context.Context, key string, value string, keep int64) error {
	if err := c.client.LPush(ctx, key, value).Err(); err != nil {
		return err
	}
	return c.client.LTrim(ctx, key, 0, keep-1).Err()
}

// LRange returns list entries between start and stop inclusive
func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return c.client.LRange(ctx, key, start, stop).Result()
}
