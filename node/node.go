// Package node implements a single physical cache node: a fixed set of
// independently locked shards plus the node's TTL sweeper.
package node

import (
	"context"
	"time"

	"github.com/IvanBrykalov/ringcache/internal/util"
	"github.com/IvanBrykalov/ringcache/shard"
	"go.uber.org/zap"
)

// ID identifies a physical node on the ring.
type ID string

type (
	// Entry is an entry as stored on a node.
	Entry[V any] = shard.Entry[string, V]
	// Mutation is a versioned write shipped between nodes.
	Mutation[V any] = shard.Mutation[string, V]
)

// Config configures a node. Shards <= 0 picks util.ShardCount.
type Config[V any] struct {
	Shards int
	Shard  shard.Config[string, V]
	Logger *zap.Logger
}

// Node is a physical cache node. All methods are safe for concurrent use;
// each key is served by exactly one of the node's shards.
type Node[V any] struct {
	id     ID
	shards []*shard.Shard[string, V]
	hash   func(string) uint64
	log    *zap.Logger
}

// New builds a node with cfg.Shards shards (rounded up to a power of two).
func New[V any](id ID, cfg Config[V]) *Node[V] {
	sh := util.ShardCount(cfg.Shards)
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	n := &Node[V]{
		id:     id,
		shards: make([]*shard.Shard[string, V], sh),
		hash:   util.StripeHash,
		log:    cfg.Logger.With(zap.String("node", string(id))),
	}
	for i := range n.shards {
		n.shards[i] = shard.New[string, V](i, cfg.Shard)
	}
	return n
}

// ID returns the node identifier.
func (n *Node[V]) ID() ID { return n.id }

// Get returns a live entry for key.
func (n *Node[V]) Get(key string) (Entry[V], error) {
	r := n.shardFor(key).Execute(shard.Op[string, V]{Kind: shard.OpGet, Key: key})
	return r.Entry, r.Err
}

// Peek returns a live entry for key without recording the access.
func (n *Node[V]) Peek(key string) (Entry[V], error) {
	r := n.shardFor(key).Execute(shard.Op[string, V]{Kind: shard.OpPeek, Key: key})
	return r.Entry, r.Err
}

// Set stores v as the primary copy and returns the stored entry with its
// freshly assigned version.
func (n *Node[V]) Set(key string, v V, expiresAt, cost int64) (Entry[V], error) {
	r := n.shardFor(key).Execute(shard.Op[string, V]{
		Kind: shard.OpSet, Key: key, Value: v, ExpiresAt: expiresAt, Cost: cost,
	})
	return r.Entry, r.Err
}

// Delete removes key as the primary copy and returns the delete's version.
func (n *Node[V]) Delete(key string) (uint64, error) {
	r := n.shardFor(key).Execute(shard.Op[string, V]{Kind: shard.OpDelete, Key: key})
	return r.Version, r.Err
}

// Touch refreshes the deadline of key without rewriting its value.
func (n *Node[V]) Touch(key string, expiresAt int64) (Entry[V], error) {
	r := n.shardFor(key).Execute(shard.Op[string, V]{Kind: shard.OpTouch, Key: key, ExpiresAt: expiresAt})
	return r.Entry, r.Err
}

// Apply installs a replicated mutation if it is newer than the local copy.
func (n *Node[V]) Apply(m Mutation[V]) (bool, error) {
	r := n.shardFor(m.Key).Execute(shard.Op[string, V]{Kind: shard.OpApply, Key: m.Key, Mutation: m})
	return r.Applied, r.Err
}

// Scan hands every live entry to fn, one shard at a time, until fn returns false.
func (n *Node[V]) Scan(fn func(Entry[V]) bool) {
	stop := false
	for _, s := range n.shards {
		s.Snapshot(func(e Entry[V]) bool {
			if !fn(e) {
				stop = true
			}
			return !stop
		})
		if stop {
			return
		}
	}
}

// Sweep reclaims expired entries on every shard.
func (n *Node[V]) Sweep() int {
	total := 0
	for _, s := range n.shards {
		total += s.Sweep()
	}
	return total
}

// Len returns the number of resident entries across all shards.
func (n *Node[V]) Len() int {
	total := 0
	for _, s := range n.shards {
		total += s.Len()
	}
	return total
}

// Stats sums the counters of every shard.
func (n *Node[V]) Stats() shard.Stats {
	var out shard.Stats
	for _, s := range n.shards {
		st := s.Stats()
		out.Entries += st.Entries
		out.Cost += st.Cost
		out.Hits += st.Hits
		out.Misses += st.Misses
		out.Evictions += st.Evictions
	}
	return out
}

// RunSweeper sweeps the node every interval until ctx is cancelled.
func (n *Node[V]) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if removed := n.Sweep(); removed > 0 {
				n.log.Debug("ttl sweep", zap.Int("removed", removed))
			}
		}
	}
}

// shardFor picks a shard by hashing the key; len(shards) is a power of two.
func (n *Node[V]) shardFor(key string) *shard.Shard[string, V] {
	return n.shards[util.ShardIndex(n.hash(key), len(n.shards))]
}
