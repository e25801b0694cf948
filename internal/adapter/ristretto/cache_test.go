package ristretto

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(1 << 20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestCache_SetGetDelete(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "workflow.p1", []byte(`{"statuses":[]}`), time.Minute); err != nil {
		t.Fatal(err)
	}
	val, ok, err := c.Get(ctx, "workflow.p1")
	if err != nil || !ok || string(val) != `{"statuses":[]}` {
		t.Fatalf("Get = %q, %v, %v", val, ok, err)
	}

	if err := c.Delete(ctx, "workflow.p1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "workflow.p1"); ok {
		t.Fatal("expected miss after Delete")
	}
}

func TestCache_TTLExpires(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "short", []byte("v"), 50*time.Millisecond)
	time.Sleep(1200 * time.Millisecond) // ristretto expires on a 1s bucket cleanup
	if _, ok, _ := c.Get(ctx, "short"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestCache_ClaimConcurrent(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := c.Claim(ctx, "delivery.github.abc", []byte("1"), time.Hour)
			if err != nil {
				t.Error(err)
			}
			if won {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", got)
	}
}
