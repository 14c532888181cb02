package cache

import (
	"context"
	"time"

	"github.com/IvanBrykalov/ringcache/node"
	"github.com/IvanBrykalov/ringcache/replication"
	"github.com/IvanBrykalov/ringcache/shard"
)

// Cache is a distributed, sharded key/value cache with string keys.
// All methods are safe for concurrent use by multiple goroutines.
//
// Every call resolves the key's replica set on the ring and runs against the
// acting primary's shard; replicas are updated according to the configured
// propagation mode and write concern.
type Cache[V any] interface {
	// Get returns the value for key. A missing key yields ErrNotFound; an
	// expired one yields ErrExpired, which also matches ErrNotFound.
	Get(ctx context.Context, key string) (V, error)

	// Set inserts or replaces key→v using Options.DefaultTTL.
	Set(ctx context.Context, key string, v V) error

	// SetWithTTL inserts or replaces key→v with a per-key TTL.
	// A non-positive ttl disables expiration for this entry.
	SetWithTTL(ctx context.Context, key string, v V, ttl time.Duration) error

	// Delete removes key. Deleting an absent key returns ErrNotFound.
	Delete(ctx context.Context, key string) error

	// Touch resets the TTL of an existing key. A non-positive ttl clears it.
	Touch(ctx context.Context, key string, ttl time.Duration) error

	// GetOrLoad returns the value for key, loading it via Options.Loader on a
	// miss. Concurrent loads for the same key are coalesced.
	GetOrLoad(ctx context.Context, key string) (V, error)

	// Invalidate deletes key on its replica set and then on every other
	// reachable node, clearing any stray copy left by a past topology.
	Invalidate(ctx context.Context, key string) error

	// AddNode joins a node and migrates the key ranges it now owns. An error
	// matching ErrIncompleteTransfer means the node did join.
	AddNode(ctx context.Context, id NodeID) error

	// RemoveNode hands the node's keys to their new owners and drops it. An
	// error matching ErrIncompleteTransfer means the node did leave.
	RemoveNode(ctx context.Context, id NodeID) error

	// Sweep runs one TTL sweep on every reachable node and returns the
	// number of entries removed.
	Sweep(ctx context.Context) int

	// Flush waits until asynchronously propagated writes have been delivered.
	Flush(ctx context.Context) error

	// Len returns the number of resident entries across the cluster,
	// counting every replica copy.
	Len() int

	// Stats aggregates shard counters from every reachable node.
	Stats() Stats

	// Nodes lists ring members in lexicographic order.
	Nodes() []NodeID

	// Health reports whether a node takes part in write-concern accounting.
	Health(id NodeID) (Health, error)

	// ShardState reports the propagation state of the keys a node is primary for.
	ShardState(id NodeID) (ShardState, error)

	// Close stops background workers and marks the cache closed. Further
	// calls return ErrClosed.
	Close() error
}

type (
	// NodeID identifies a physical node on the ring.
	NodeID = node.ID
	// Stats is a point-in-time view of aggregated shard counters.
	Stats = shard.Stats
	// EvictReason explains why an entry was removed.
	EvictReason = shard.EvictReason
	// Clock provides time in UnixNano; useful for deterministic tests.
	Clock = shard.Clock

	WriteConcern = replication.WriteConcern
	ReadMode     = replication.ReadMode
	Propagation  = replication.Propagation
	Health       = replication.Health
	ShardState   = replication.ShardState
)

const (
	EvictPolicy   = shard.EvictPolicy
	EvictTTL      = shard.EvictTTL
	EvictCapacity = shard.EvictCapacity

	Majority    = replication.Majority
	PrimaryOnly = replication.PrimaryOnly
	All         = replication.All

	ReadOwnWrite   = replication.ReadOwnWrite
	ReadAnyReplica = replication.ReadAnyReplica

	Sync  = replication.Sync
	Async = replication.Async

	Healthy  = replication.Healthy
	Degraded = replication.Degraded

	StateStable      = replication.StateStable
	StatePropagating = replication.StatePropagating
	StateDegraded    = replication.StateDegraded
)
