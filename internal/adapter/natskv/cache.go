// Package natskv implements the cache port using NATS JetStream KV as L2 remote cache.
package natskv

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// headerLen is the size of the expiry prefix stored before every value.
const headerLen = 8

// Cache wraps a NATS JetStream KeyValue store as an L2 cache.
//
// The bucket TTL is an upper bound shared by all keys; shorter per-key TTLs
// are enforced by an 8-byte expiry prefix (unix nanoseconds, 0 = none)
// checked on read.
type Cache struct {
	kv  jetstream.KeyValue
	now func() time.Time
}

// New creates a NATS KV-backed cache.
func New(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv, now: time.Now}
}

// Get retrieves a value from the NATS KV store.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	entry, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	val, live := c.unwrap(entry.Value())
	if !live {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores a value in the NATS KV store.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := c.kv.Put(ctx, key, c.wrap(value, ttl))
	return err
}

// Delete removes a value from the NATS KV store.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Claim creates key only when it is absent or expired. The create and the
// expired-entry replacement are both revision-checked by the server, so
// exactly one node wins.
func (c *Cache) Claim(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	wrapped := c.wrap(value, ttl)

	_, err := c.kv.Create(ctx, key, wrapped)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, jetstream.ErrKeyExists) {
		return false, err
	}

	entry, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if _, live := c.unwrap(entry.Value()); live {
		return false, nil
	}
	if _, err := c.kv.Update(ctx, key, wrapped, entry.Revision()); err != nil {
		// Someone else replaced the expired entry first.
		return false, nil //nolint:nilerr // losing the race is not an error
	}
	return true, nil
}

func (c *Cache) wrap(value []byte, ttl time.Duration) []byte {
	buf := make([]byte, headerLen+len(value))
	if ttl > 0 {
		binary.BigEndian.PutUint64(buf, uint64(c.now().Add(ttl).UnixNano()))
	}
	copy(buf[headerLen:], value)
	return buf
}

func (c *Cache) unwrap(raw []byte) ([]byte, bool) {
	if len(raw) < headerLen {
		return nil, false
	}
	exp := int64(binary.BigEndian.Uint64(raw))
	if exp != 0 && c.now().UnixNano() >= exp {
		return nil, false
	}
	return raw[headerLen:], true
}
