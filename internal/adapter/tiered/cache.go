// Package tiered implements a two-level (L1 + L2) cache adapter.
package tiered

import (
	"context"
	"time"

	"github.com/Strob0t/ForgeTrack/internal/port/cache"
)

// Cache combines an L1 (in-process) and L2 (remote) cache.
// Get checks L1 first, then L2 (backfilling L1 on L2 hit).
// Set and Delete operate on both levels. Claim is decided by L2, which is
// shared between nodes.
type Cache struct {
	l1       cache.Cache
	l2       cache.Cache
	l1Expire time.Duration
}

// New creates a tiered cache with the given L1 and L2 backends.
// l1Expire caps how long entries live in L1.
func New(l1, l2 cache.Cache, l1Expire time.Duration) *Cache {
	return &Cache{l1: l1, l2: l2, l1Expire: l1Expire}
}

// Get checks L1, then L2. On L2 hit, backfills L1.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	val, found, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		return val, true, nil
	}

	val, found, err = c.l2.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if found {
		_ = c.l1.Set(ctx, key, val, c.l1Expire)
		return val, true, nil
	}

	return nil, false, nil
}

// Set writes to both L1 and L2.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.Set(ctx, key, value, c.l1TTL(ttl)); err != nil {
		return err
	}
	return c.l2.Set(ctx, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	return c.l2.Delete(ctx, key)
}

// Claim short-circuits on an L1 hit, otherwise asks L2 and mirrors a win
// into L1.
func (c *Cache) Claim(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if _, found, err := c.l1.Get(ctx, key); err == nil && found {
		return false, nil
	}
	won, err := c.l2.Claim(ctx, key, value, ttl)
	if err != nil || !won {
		return false, err
	}
	_ = c.l1.Set(ctx, key, value, c.l1TTL(ttl))
	return true, nil
}

func (c *Cache) l1TTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > c.l1Expire {
		return c.l1Expire
	}
	return ttl
}
