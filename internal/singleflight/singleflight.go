// Package singleflight coalesces concurrent loads of the same cache key.
package singleflight

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrLoaderPanicked is returned to callers that waited on a load whose
// function panicked. The leader itself re-panics.
var ErrLoaderPanicked = errors.New("singleflight: loader panicked")

// Group runs at most one load per key at a time. The zero value is ready.
//
// The first caller for a key becomes the leader and runs fn; later callers
// wait for its result. A waiter whose ctx ends returns ctx.Err() without
// disturbing the leader. The leader's fn receives a context that keeps the
// leader's values but is not cancelled with it, so one impatient caller
// cannot fail the load for everybody waiting.
type Group[V any] struct {
	mu    sync.Mutex
	calls map[string]*call[V]
}

type call[V any] struct {
	done  chan struct{} // closed once val/err are published
	val   V
	err   error
	dups  int
	panic any
}

// Do runs fn for key once across concurrent callers. shared reports whether
// the result was handed to more than one caller.
func (g *Group[V]) Do(ctx context.Context, key string, fn func(context.Context) (V, error)) (v V, shared bool, err error) {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[string]*call[V])
	}
	if c, ok := g.calls[key]; ok {
		c.dups++
		g.mu.Unlock()
		select {
		case <-c.done:
			if c.panic != nil {
				return v, true, fmt.Errorf("%w: %v", ErrLoaderPanicked, c.panic)
			}
			return c.val, true, c.err
		case <-ctx.Done():
			return v, true, ctx.Err()
		}
	}
	c := &call[V]{done: make(chan struct{})}
	g.calls[key] = c
	g.mu.Unlock()

	g.run(context.WithoutCancel(ctx), key, c, fn)
	if c.panic != nil {
		panic(c.panic)
	}
	return c.val, c.dups > 0, c.err
}

// Forget drops the in-flight marker for key; the next Do starts a new load
// while current waiters still get the old one.
func (g *Group[V]) Forget(key string) {
	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()
}

func (g *Group[V]) run(ctx context.Context, key string, c *call[V], fn func(context.Context) (V, error)) {
	defer func() {
		if r := recover(); r != nil {
			c.panic = r
		}
		g.mu.Lock()
		if g.calls[key] == c {
			delete(g.calls, key)
		}
		g.mu.Unlock()
		close(c.done)
	}()
	c.val, c.err = fn(ctx)
}
