// Package rediscache shares the idempotency cache between service
// instances through Redis. Keys expire after TTL; the database index on
// idempotency_key still catches replays older than that.
package rediscache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/warp/points-ledger/ledger"
)

const (
	DefaultTTL    = 24 * time.Hour
	DefaultPrefix = "ledger:idem:"
)

// Client is the subset of the Redis API the cache needs.
type Client interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

type redisClient struct {
	cli *redis.Client
}

// Dial connects to addr and pings it.
func Dial(ctx context.Context, addr, password string, db int) (Client, error) {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, err
	}
	return &redisClient{cli: c}, nil
}

func (c *redisClient) Get(ctx context.Context, key string) (string, error) {
	return c.cli.Get(ctx, key).Result()
}

func (c *redisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.cli.Set(ctx, key, value, expiration).Err()
}

func (c *redisClient) Ping(ctx context.Context) error { return c.cli.Ping(ctx).Err() }

func (c *redisClient) Close() error { return c.cli.Close() }

// Cache implements ledger.IdempotencyCache.
type Cache struct {
	client Client
	prefix string
	ttl    time.Duration
}

var _ ledger.IdempotencyCache = (*Cache)(nil)

func New(client Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, prefix: DefaultPrefix, ttl: ttl}
}

func (c *Cache) Get(ctx context.Context, key string) (ledger.EntryID, bool, error) {
	v, err := c.client.Get(ctx, c.prefix+key)
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return ledger.EntryID(v), true, nil
}

func (c *Cache) Put(ctx context.Context, key string, id ledger.EntryID) error {
	return c.client.Set(ctx, c.prefix+key, string(id), c.ttl)
}

func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx) }

func (c *Cache) Close() error { return c.client.Close() }
