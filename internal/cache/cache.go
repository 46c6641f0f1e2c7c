package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/apnisec/backend/internal/logger"
)

// Cache is a thin Redis wrapper. Every error degrades to a miss so a Redis
// outage never breaks a request path.
type Cache struct {
	client *redis.Client
	log    *logger.Logger
}

func New(addr string) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Cache{
		client: client,
		log:    logger.Default().WithComponent("cache"),
	}, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// Client exposes the underlying Redis client for health checks.
func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		c.log.Warn(ctx, "cache get failed", map[string]interface{}{"key": key, "error": err.Error()})
		return "", false
	}
	return val, true
}

func (c *Cache) Set(ctx context.Context, key string, value string, ttl time.Duration) {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.log.Warn(ctx, "cache set failed", map[string]interface{}{"key": key, "error": err.Error()})
	}
}

// DeletePrefix removes every key under prefix. Used to invalidate a user's
// cached issue lists after a write.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) {
	iter := c.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.log.Warn(ctx, "cache delete failed", map[string]interface{}{"key": iter.Val(), "error": err.Error()})
		}
	}
	if err := iter.Err(); err != nil {
		c.log.Warn(ctx, "cache scan failed", map[string]interface{}{"prefix": prefix, "error": err.Error()})
	}
}
