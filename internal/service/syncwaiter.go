package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// syncWaiter hands the result of a background job to the request that
// started it, keyed by operation ID.
type syncWaiter[T any] struct {
	mu      sync.Mutex
	waiters map[string]chan *T
	label   string // for logging
}

func newSyncWaiter[T any](label string) *syncWaiter[T] {
	return &syncWaiter[T]{
		waiters: make(map[string]chan *T),
		label:   label,
	}
}

// register creates a buffered channel for id. The buffer lets deliver
// return without a reader.
func (w *syncWaiter[T]) register(id string) chan *T {
	ch := make(chan *T, 1)
	w.mu.Lock()
	w.waiters[id] = ch
	w.mu.Unlock()
	return ch
}

// unregister removes the waiter for id.
func (w *syncWaiter[T]) unregister(id string) {
	w.mu.Lock()
	delete(w.waiters, id)
	w.mu.Unlock()
}

// deliver sends a result to the waiter of id and removes it.
// Returns false if no waiter was registered.
func (w *syncWaiter[T]) deliver(id string, payload *T) bool {
	w.mu.Lock()
	ch, ok := w.waiters[id]
	if ok {
		delete(w.waiters, id)
	}
	w.mu.Unlock()

	if !ok {
		slog.Debug("no waiter for "+w.label+" result", "operation_id", id)
		return false
	}

	ch <- payload
	return true
}

// await waits up to budget for a result on ch. It returns nil when the
// budget runs out or ctx ends first.
func await[T any](ctx context.Context, ch <-chan *T, budget time.Duration) *T {
	timer := time.NewTimer(budget)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	}
}
