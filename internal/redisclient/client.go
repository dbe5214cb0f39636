package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/rate_limit.lua
var rateLimitScript string

type Client struct {
	rdb       *redis.Client
	rateLimit *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
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

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing connection.
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:       rdb,
		rateLimit: redis.NewScript(rateLimitScript),
	}
}

// Ping reports whether Redis is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func eventKey(eventID string) string {
	return fmt.Sprintf("idempotency:webhook:%s", eventID)
}

// MarkEventProcessed claims a processor event id for ttl. It returns true
// the first time an id is seen within ttl and false for redeliveries.
func (c *Client) MarkEventProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, eventKey(eventID), time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record event %s: %w", eventID, err)
	}
	return ok, nil
}

// ConfirmEvent keeps a claimed event id for ttl from now.
func (c *Client) ConfirmEvent(ctx context.Context, eventID string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, eventKey(eventID), time.Now().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to confirm event %s: %w", eventID, err)
	}
	return nil
}

// ForgetEvent drops a recorded event id so a redelivery is processed again.
func (c *Client) ForgetEvent(ctx context.Context, eventID string) error {
	return c.rdb.Del(ctx, eventKey(eventID)).Err()
}

// RateLimitResult is the state of one fixed window after a hit.
type RateLimitResult struct {
	Count     int64
	Remaining int64
	ResetIn   time.Duration
	Allowed   bool
}

// Allow counts a hit against key in a fixed window and reports whether it
// is within limit.
func (c *Client) Allow(ctx context.Context, key string, limit int, window time.Duration) (*RateLimitResult, error) {
	raw, err := c.rateLimit.Run(ctx, c.rdb, []string{"ratelimit:" + key}, window.Milliseconds()).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit script failed: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return nil, fmt.Errorf("unexpected script result type")
	}
	count, ok1 := values[0].(int64)
	ttl, ok2 := values[1].(int64)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("unexpected script result type")
	}

	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}
	if ttl < 0 {
		ttl = window.Milliseconds()
	}

	return &RateLimitResult{
		Count:     count,
		Remaining: remaining,
		ResetIn:   time.Duration(ttl) * time.Millisecond,
		Allowed:   count <= int64(limit),
	}, nil
}
