package replication

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/IvanBrykalov/ringcache/node"
	"github.com/IvanBrykalov/ringcache/shard"
)

// Write is a primary-side mutation request. The primary assigns the version.
type Write[V any] struct {
	Kind      shard.MutationKind
	Key       string
	Value     V
	ExpiresAt int64
	Cost      int64
}

// Peer is one cluster node as seen by the Manager.
type Peer[V any] interface {
	ID() node.ID
	// Get reads key; ErrNotFound/ErrExpired when absent.
	Get(ctx context.Context, key string) (node.Entry[V], error)
	// Peek is Get without side effects on hit counters or eviction order.
	Peek(ctx context.Context, key string) (node.Entry[V], error)
	// Write commits w as primary and returns the versioned mutation to ship.
	// A delete that missed still returns its mutation alongside ErrNotFound.
	Write(ctx context.Context, w Write[V]) (node.Mutation[V], error)
	// Apply installs a replicated mutation if newer than the local copy.
	Apply(ctx context.Context, m node.Mutation[V]) (bool, error)
	// Scan streams every live entry until fn returns false.
	Scan(ctx context.Context, fn func(node.Entry[V]) bool) error
	Sweep(ctx context.Context) (int, error)
	Stats(ctx context.Context) (shard.Stats, error)
	Ping(ctx context.Context) error
}

// LocalPeer serves a Peer from an in-process node. SetDown simulates a
// partition: every call fails with ErrNodeUnreachable until cleared.
type LocalPeer[V any] struct {
	n    *node.Node[V]
	down atomic.Bool
}

var _ Peer[int] = (*LocalPeer[int])(nil)

// NewLocalPeer wraps n.
func NewLocalPeer[V any](n *node.Node[V]) *LocalPeer[V] { return &LocalPeer[V]{n: n} }

// Node returns the wrapped node.
func (p *LocalPeer[V]) Node() *node.Node[V] { return p.n }

// SetDown toggles simulated unreachability.
func (p *LocalPeer[V]) SetDown(down bool) { p.down.Store(down) }

func (p *LocalPeer[V]) ID() node.ID { return p.n.ID() }

func (p *LocalPeer[V]) Get(ctx context.Context, key string) (node.Entry[V], error) {
	if err := p.check(ctx); err != nil {
		return node.Entry[V]{}, err
	}
	return p.n.Get(key)
}

func (p *LocalPeer[V]) Peek(ctx context.Context, key string) (node.Entry[V], error) {
	if err := p.check(ctx); err != nil {
		return node.Entry[V]{}, err
	}
	return p.n.Peek(key)
}

func (p *LocalPeer[V]) Write(ctx context.Context, w Write[V]) (node.Mutation[V], error) {
	if err := p.check(ctx); err != nil {
		return node.Mutation[V]{}, err
	}
	return Commit(p.n, w)
}

func (p *LocalPeer[V]) Apply(ctx context.Context, m node.Mutation[V]) (bool, error) {
	if err := p.check(ctx); err != nil {
		return false, err
	}
	return p.n.Apply(m)
}

func (p *LocalPeer[V]) Scan(ctx context.Context, fn func(node.Entry[V]) bool) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.n.Scan(func(e node.Entry[V]) bool {
		return ctx.Err() == nil && fn(e)
	})
	return ctx.Err()
}

func (p *LocalPeer[V]) Sweep(ctx context.Context) (int, error) {
	if err := p.check(ctx); err != nil {
		return 0, err
	}
	return p.n.Sweep(), nil
}

func (p *LocalPeer[V]) Stats(ctx context.Context) (shard.Stats, error) {
	if err := p.check(ctx); err != nil {
		return shard.Stats{}, err
	}
	return p.n.Stats(), nil
}

func (p *LocalPeer[V]) Ping(ctx context.Context) error { return p.check(ctx) }

func (p *LocalPeer[V]) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.down.Load() {
		return fmt.Errorf("%w: %s", ErrNodeUnreachable, p.n.ID())
	}
	return nil
}

// Commit runs w against n as its primary and returns the mutation replicas
// must apply. Transports serving a node remotely use it too.
func Commit[V any](n *node.Node[V], w Write[V]) (node.Mutation[V], error) {
	switch w.Kind {
	case shard.MutSet:
		e, err := n.Set(w.Key, w.Value, w.ExpiresAt, w.Cost)
		if err != nil {
			return node.Mutation[V]{}, err
		}
		return SetMutation(e), nil
	case shard.MutDelete:
		v, err := n.Delete(w.Key)
		return node.Mutation[V]{Kind: shard.MutDelete, Key: w.Key, Version: v}, err
	case shard.MutTouch:
		e, err := n.Touch(w.Key, w.ExpiresAt)
		if err != nil {
			return node.Mutation[V]{}, err
		}
		return node.Mutation[V]{Kind: shard.MutTouch, Key: w.Key, ExpiresAt: e.ExpiresAt, Version: e.Version}, nil
	}
	return node.Mutation[V]{}, fmt.Errorf("replication: unknown write kind %v", w.Kind)
}

// SetMutation turns a stored entry into the mutation that recreates it.
func SetMutation[V any](e node.Entry[V]) node.Mutation[V] {
	return node.Mutation[V]{
		Kind:      shard.MutSet,
		Key:       e.Key,
		Value:     e.Value,
		ExpiresAt: e.ExpiresAt,
		Version:   e.Version,
		Cost:      e.Cost,
	}
}
