package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Strob0t/ForgeTrack/internal/port/cache"
	"github.com/Strob0t/ForgeTrack/internal/port/messagequeue"
	"github.com/Strob0t/ForgeTrack/internal/port/repoprovider"
	"github.com/Strob0t/ForgeTrack/internal/secrets"
)

var (
	_ messagequeue.Queue    = (*mockQueue)(nil)
	_ cache.Cache           = (*memCache)(nil)
	_ repoprovider.Provider = (*fakeProvider)(nil)
	_ secrets.Codec         = plainCodec{}
)

// mockQueue records published messages.
type mockQueue struct {
	mu         sync.Mutex
	published  []publishedMsg
	publishErr error
}

type publishedMsg struct {
	subject string
	data    []byte
}

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, publishedMsg{subject, data})
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

func (q *mockQueue) count(subject string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, m := range q.published {
		if m.subject == subject {
			n++
		}
	}
	return n
}

// memCache is a map-backed cache.Cache that ignores TTLs.
type memCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	failErr error
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return nil, false, c.failErr
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return c.failErr
	}
	c.data[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *memCache) Claim(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return false, c.failErr
	}
	if _, ok := c.data[key]; ok {
		return false, nil
	}
	c.data[key] = value
	return true, nil
}

// fakeProvider serves fixed items. When release is non-nil ListIssues
// blocks until it is closed or ctx ends.
type fakeProvider struct {
	name     string
	issues   []repoprovider.Item
	alerts   []repoprovider.Item
	alertErr error
	issueErr error
	release  chan struct{}
	calls    atomic.Int32
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Capabilities() repoprovider.Capabilities {
	return repoprovider.Capabilities{Issues: true, SecurityAlerts: true}
}

func (p *fakeProvider) ListIssues(ctx context.Context, _ string, _ repoprovider.ListOptions) ([]repoprovider.Item, error) {
	p.calls.Add(1)
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.issueErr != nil {
		return nil, p.issueErr
	}
	return p.issues, nil
}

func (p *fakeProvider) ListSecurityAlerts(_ context.Context, _ string, _ repoprovider.ListOptions) ([]repoprovider.Item, error) {
	p.calls.Add(1)
	if p.alertErr != nil {
		return nil, p.alertErr
	}
	if p.alerts == nil {
		return nil, repoprovider.ErrNotSupported
	}
	return p.alerts, nil
}

// plainCodec stores secrets unencrypted.
type plainCodec struct{}

func (plainCodec) Encrypt(_ context.Context, b []byte) ([]byte, error) { return b, nil }
func (plainCodec) Decrypt(_ context.Context, b []byte) ([]byte, error) {
	if string(b) == "garbled" {
		return nil, errors.New("cipher: message authentication failed")
	}
	return b, nil
}
