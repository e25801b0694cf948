// Package ristretto implements the cache port using dgraph-io/ristretto as L1 in-process cache.
package ristretto

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache wraps a ristretto cache as an in-process L1 cache.
type Cache struct {
	c *ristretto.Cache[string, []byte]

	// claimMu serializes Claim so the check and the write happen together.
	claimMu sync.Mutex
}

// New creates a ristretto-backed cache. maxCostBytes is the maximum total
// size of cached values in bytes.
func New(maxCostBytes int64) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: max(maxCostBytes/100*10, 1000), // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

// Get retrieves a value from the cache.
func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores a value with the given TTL and waits until it is visible.
// Ristretto may reject the entry under memory pressure; that is a miss
// later, not an error.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.c.SetWithTTL(key, value, int64(len(value)), ttl)
	c.c.Wait()
	return nil
}

// Delete removes a value from the cache.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	c.c.Wait()
	return nil
}

// Claim stores value only when key is absent. It is atomic within this
// process only.
func (c *Cache) Claim(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.claimMu.Lock()
	defer c.claimMu.Unlock()

	if _, found := c.c.Get(key); found {
		return false, nil
	}
	return true, c.Set(ctx, key, value, ttl)
}

// Close shuts down the cache and releases resources.
func (c *Cache) Close() {
	c.c.Close()
}
