package cache

import (
	"context"
	"time"

	"github.com/IvanBrykalov/ringcache/node"
	"github.com/IvanBrykalov/ringcache/policy"
	"github.com/IvanBrykalov/ringcache/policy/lfu"
	"github.com/IvanBrykalov/ringcache/policy/lru"
	"github.com/IvanBrykalov/ringcache/policy/ttl"
	"github.com/IvanBrykalov/ringcache/policy/twoq"
	"github.com/IvanBrykalov/ringcache/replication"
	"github.com/IvanBrykalov/ringcache/shard"
	"go.uber.org/zap"
)

// DefaultNode is the node created when Options.Nodes is empty.
const DefaultNode NodeID = "node-0"

// Options configures the cache. Zero values are safe except
// CapacityPerShard; defaults are applied in New():
//   - empty Nodes          => a single DefaultNode
//   - ShardsPerNode <= 0   => auto (rounded up to power of two)
//   - empty EvictionPolicy => LRU
//   - nil Metrics          => NoopMetrics
//   - nil Logger           => zap.NewNop()
//   - nil Dial             => in-process nodes
type Options[V any] struct {
	// Nodes are the members joined at construction, in order.
	Nodes []NodeID

	// ShardsPerNode is the number of lock stripes on each in-process node.
	ShardsPerNode int
	// CapacityPerShard is the entry count limit of a single shard.
	CapacityPerShard int
	// MaxCostPerShard bounds the summed Cost of a shard; 0 disables it.
	MaxCostPerShard int64
	// Cost weighs a value (e.g. bytes). nil = every entry costs 0.
	Cost func(v V) int64

	// EvictionPolicy picks the victim strategy when a shard is full.
	EvictionPolicy policy.Kind
	// TTLFallback is consulted by the TTL-only policy once no expired entry
	// is left; empty means such writes fail with ErrCapacityExceeded.
	TTLFallback policy.Kind
	// Policy overrides EvictionPolicy with a custom factory.
	Policy policy.Policy[string]

	// DefaultTTL applies to Set (0 = no TTL).
	DefaultTTL time.Duration
	// SweepInterval is how often in-process nodes reap expired entries.
	// 0 => 1s, < 0 disables the sweeper (Sweep can still be called).
	SweepInterval time.Duration

	ReplicationFactor   int
	WriteConcern        WriteConcern
	ReadMode            ReadMode
	Propagation         Propagation
	VirtualNodes        int
	HeartbeatInterval   time.Duration
	MaxMissedHeartbeats int
	RetryAttempts       int
	RetryBackoff        time.Duration
	QueueSize           int

	// OpTimeout bounds every call that carries no earlier deadline. 0 = none.
	OpTimeout time.Duration

	// Loader fetches a value on miss. Used by GetOrLoad.
	Loader func(ctx context.Context, key string) (V, error)

	// OnEvict is called on eviction under the shard lock; keep callbacks lightweight.
	OnEvict func(key string, v V, reason EvictReason)
	Metrics Metrics
	Logger  *zap.Logger

	// Clock overrides the time source of TTL deadlines and in-process shards.
	Clock Clock

	// Dial connects to a remote node. When set, AddNode and Nodes go through
	// it instead of building in-process nodes. Peers implementing io.Closer
	// are closed when they leave or the cache closes.
	Dial func(ctx context.Context, id NodeID) (replication.Peer[V], error)
}

func (o *Options[V]) setDefaults() {
	if o.CapacityPerShard <= 0 {
		panic("cache: CapacityPerShard must be > 0")
	}
	if len(o.Nodes) == 0 && o.Dial == nil {
		o.Nodes = []NodeID{DefaultNode}
	}
	if o.Metrics == nil {
		o.Metrics = NoopMetrics{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.SweepInterval == 0 {
		o.SweepInterval = time.Second
	}
	if o.Policy == nil {
		o.Policy = policyFor[string](o.EvictionPolicy, o.TTLFallback, o.CapacityPerShard)
	}
}

// NodeConfig is the configuration New gives its in-process nodes. Use it to
// serve a remote node with the same shard settings.
func (o Options[V]) NodeConfig() node.Config[V] {
	pol := o.Policy
	if pol == nil {
		pol = policyFor[string](o.EvictionPolicy, o.TTLFallback, o.CapacityPerShard)
	}
	log := o.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return node.Config[V]{
		Shards: o.ShardsPerNode,
		Shard: shard.Config[string, V]{
			Capacity: o.CapacityPerShard,
			MaxCost:  o.MaxCostPerShard,
			Policy:   pol,
			Metrics:  o.Metrics,
			Clock:    o.Clock,
			OnEvict:  o.OnEvict,
		},
		Logger: log.Named("node"),
	}
}

func (o *Options[V]) replication() replication.Config {
	return replication.Config{
		ReplicationFactor:   o.ReplicationFactor,
		WriteConcern:        o.WriteConcern,
		ReadMode:            o.ReadMode,
		Propagation:         o.Propagation,
		VirtualNodes:        o.VirtualNodes,
		HeartbeatInterval:   o.HeartbeatInterval,
		MaxMissedHeartbeats: o.MaxMissedHeartbeats,
		RetryAttempts:       o.RetryAttempts,
		RetryBackoff:        o.RetryBackoff,
		QueueSize:           o.QueueSize,
		Metrics:             o.Metrics,
		Logger:              o.Logger.Named("replication"),
	}
}

// policyFor builds the factory for kind. 2Q gets a quarter of the shard for
// A1in and half of it for ghosts. It panics on an unknown kind.
func policyFor[K comparable](kind, fallback policy.Kind, capacity int) policy.Policy[K] {
	switch kind {
	case "", policy.KindLRU:
		return lru.New[K]()
	case policy.KindLFU:
		return lfu.New[K]()
	case policy.KindTwoQ:
		return twoq.New[K](capacity/4, capacity/2)
	case policy.KindTTLOnly:
		if fallback == "" || fallback == policy.KindTTLOnly {
			return ttl.New[K](nil)
		}
		return ttl.New(policyFor[K](fallback, "", capacity))
	}
	panic("cache: unknown eviction policy " + string(kind))
}
