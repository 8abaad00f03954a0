package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/smartunderwrite/smartunderwrite/internal/domain"
)

// New creates a cache based on configuration.
// Community tier ("memory"): in-process LRU.
// Pro tier ("redis") with EnableTwoPhase: LRU (L1) + Redis (L2).
// Pro tier ("redis") without two-phase: Redis only.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// TwoPhaseCache layers an LRUCache (L1) in front of a RedisCache (L2): fast
// local reads, shared state across instances for rule-cache invalidation.
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	local := NewLRUCache(cfg.LocalMaxSize)

	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}

	l1TTL := cfg.LocalTTL
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}

	return &TwoPhaseCache{local: local, remote: remote, l1TTL: l1TTL}, nil
}

func (c *TwoPhaseCache) Get(ctx context.Context, affiliateID string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, affiliateID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	val, err = c.remote.Get(ctx, affiliateID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, affiliateID, key, val, c.l1TTL)
	}
	return val, nil
}

func (c *TwoPhaseCache) Set(ctx context.Context, affiliateID string, key string, value []byte, ttl time.Duration) error {
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, affiliateID, key, value, l1TTL); err != nil {
		return err
	}
	return c.remote.Set(ctx, affiliateID, key, value, ttl)
}

func (c *TwoPhaseCache) Delete(ctx context.Context, affiliateID string, key string) error {
	if err := c.local.Delete(ctx, affiliateID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, affiliateID, key)
}

func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
