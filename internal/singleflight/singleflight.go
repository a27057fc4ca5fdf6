// Package singleflight deduplicates concurrent work by key: at most one
// execution is in flight per key, and every caller that joined while it ran
// receives the same result.
package singleflight

import (
	"context"
	"sync"
)

type call[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// Group coalesces calls by key. The zero value is not usable; use NewGroup.
type Group[K comparable, V any] struct {
	mu    sync.Mutex
	calls map[K]*call[V]
}

func NewGroup[K comparable, V any]() *Group[K, V] {
	return &Group[K, V]{calls: make(map[K]*call[V])}
}

// Do returns the result of fn for key. If another call with the same key is
// already in flight, the caller waits for it instead of starting a new one.
// With dedup false a fresh execution is always started and registered,
// replacing the current entry for the key.
//
// fn runs on its own goroutine with no Group lock held. It is not stopped
// when a waiter's ctx is cancelled: other waiters may still need the result,
// and cache writes performed by fn must take effect either way. A cancelled
// waiter gets ctx.Err and the in-flight call keeps running.
//
// When fn finishes, the key is cleared (if this call still owns it), so a
// failure never poisons later calls: the error reaches only the callers that
// were already waiting on this execution.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func() (V, error), dedup bool) (V, error) {
	g.mu.Lock()
	if c, ok := g.calls[key]; ok && dedup {
		g.mu.Unlock()
		return g.wait(ctx, c)
	}

	c := &call[V]{done: make(chan struct{})}
	g.calls[key] = c
	g.mu.Unlock()

	go func() {
		c.val, c.err = fn()
		g.mu.Lock()
		if g.calls[key] == c {
			delete(g.calls, key)
		}
		g.mu.Unlock()
		close(c.done)
	}()

	return g.wait(ctx, c)
}

func (g *Group[K, V]) wait(ctx context.Context, c *call[V]) (V, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}
