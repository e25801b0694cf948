// Package workerpool bounds concurrent background jobs such as repository
// syncs with a weighted semaphore.
package workerpool

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool limits concurrent jobs. Jobs started with Go wait for a free slot in
// their own goroutine, so callers never block on a busy pool.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewPool creates a Pool that allows at most limit concurrent jobs.
func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit))}
}

// Run acquires a slot, runs fn, and releases the slot.
// Blocks if all slots are busy. Returns ctx.Err() if the context
// is cancelled while waiting for a slot.
// If the pool is nil, fn is executed directly without concurrency control.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}

// Go runs fn in the background once a slot is free. If ctx ends while
// waiting, fn is not called and onAbandon (when non-nil) receives ctx.Err().
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context), onAbandon func(error)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		err := p.Run(ctx, func() error {
			fn(ctx)
			return nil
		})
		if err != nil && onAbandon != nil {
			onAbandon(err)
		}
	}()
}

// Wait blocks until every job started with Go has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
