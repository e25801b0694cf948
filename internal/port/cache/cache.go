// Package cache defines the port interface for caching.
//
// ForgeTrack caches workflow configurations, remembers webhook delivery
// IDs and stores responses of idempotent POST requests through this port.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// Cache is the port interface for key-value caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Claim stores value under key only when key is absent and reports
	// whether this call stored it.
	Claim(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// maxPartLen bounds a key segment before it is replaced by its hash.
const maxPartLen = 64

// Key joins a namespace and parts with dots. Parts containing characters
// outside [A-Za-z0-9_-], or longer than 64 bytes, are replaced by a hex
// SHA-256 prefix so the key is valid for every backend (NATS KV included).
func Key(namespace string, parts ...string) string {
	var b strings.Builder
	b.WriteString(namespace)
	for _, p := range parts {
		b.WriteByte('.')
		if safePart(p) {
			b.WriteString(p)
			continue
		}
		sum := sha256.Sum256([]byte(p))
		b.WriteString(hex.EncodeToString(sum[:16]))
	}
	return b.String()
}

func safePart(p string) bool {
	if p == "" || len(p) > maxPartLen {
		return false
	}
	for _, r := range p {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// GetJSON reads key and decodes it into a T. A value that no longer decodes
// is reported as a miss.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, bool, error) {
	var v T
	data, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return v, false, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, nil //nolint:nilerr // stale encoding is a miss
	}
	return v, true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}
