// Package redisstore wraps Redis client operations used by the durable-sync tier.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/watchstore/gallerycache/internal/core/observability"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithMinIdleConns(n int) Option {
	return func(o *redis.Options) { o.MinIdleConns = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

type Client struct {
	rdb *redis.Client
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveStoreOp("durable_sync", "ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveStoreOp("durable_sync", "get", nil, time.Since(start).Seconds())
		return nil, false, nil
	}
	observability.ObserveStoreOp("durable_sync", "get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, false, fmt.Errorf("redis GET %q: %w", key, err)
	}
	return val, true, nil
}

func (c *Client) Set(ctx context.Context, key string, val []byte) error {
	start := time.Now()
	err := c.rdb.Set(ctx, key, val, 0).Err()
	observability.ObserveStoreOp("durable_sync", "set", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

// SetIndexed writes a value and its sorted-set index entry in one MULTI/EXEC
// pipeline so the value can never exist unindexed.
func (c *Client) SetIndexed(ctx context.Context, key string, val []byte, set string, score float64, member string) error {
	start := time.Now()
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, key, val, 0)
		p.ZAdd(ctx, set, redis.Z{Score: score, Member: member})
		return nil
	})
	observability.ObserveStoreOp("durable_sync", "set_indexed", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SET+ZADD %q: %w", key, err)
	}
	return nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()
	err := c.rdb.Del(ctx, keys...).Err()
	observability.ObserveStoreOp("durable_sync", "del", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

// ZAdd indexes member under the given insertion timestamp score.
func (c *Client) ZAdd(ctx context.Context, set string, score float64, member string) error {
	start := time.Now()
	err := c.rdb.ZAdd(ctx, set, redis.Z{Score: score, Member: member}).Err()
	observability.ObserveStoreOp("durable_sync", "zadd", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis ZADD %q: %w", set, err)
	}
	return nil
}

// ZOldest returns up to n members with the lowest scores.
func (c *Client) ZOldest(ctx context.Context, set string, n int64) ([]string, error) {
	start := time.Now()
	members, err := c.rdb.ZRange(ctx, set, 0, n-1).Result()
	observability.ObserveStoreOp("durable_sync", "zrange", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis ZRANGE %q: %w", set, err)
	}
	return members, nil
}

func (c *Client) ZRem(ctx context.Context, set string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	start := time.Now()
	err := c.rdb.ZRem(ctx, set, args...).Err()
	observability.ObserveStoreOp("durable_sync", "zrem", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis ZREM %q: %w", set, err)
	}
	return nil
}

func (c *Client) ZCard(ctx context.Context, set string) (int64, error) {
	start := time.Now()
	n, err := c.rdb.ZCard(ctx, set).Result()
	observability.ObserveStoreOp("durable_sync", "zcard", err, time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("redis ZCARD %q: %w", set, err)
	}
	return n, nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
