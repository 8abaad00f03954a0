package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache implements domain.Cache using Redis. Used as the Pro-tier
// cache and as L2 in two-phase caching.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache, verifying connectivity eagerly.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, affiliateID string, key string) ([]byte, error) {
	if affiliateID == "" {
		return nil, fmt.Errorf("affiliateID is required")
	}

	val, err := c.client.Get(ctx, c.makeKey(affiliateID, key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (c *RedisCache) Set(ctx context.Context, affiliateID string, key string, value []byte, ttl time.Duration) error {
	if affiliateID == "" {
		return fmt.Errorf("affiliateID is required")
	}
	return c.client.Set(ctx, c.makeKey(affiliateID, key), value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, affiliateID string, key string) error {
	if affiliateID == "" {
		return fmt.Errorf("affiliateID is required")
	}
	return c.client.Del(ctx, c.makeKey(affiliateID, key)).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) makeKey(affiliateID, key string) string {
	return "smartunderwrite:" + affiliateID + ":" + key
}
