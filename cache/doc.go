// Package cache provides a distributed, sharded in-memory cache with string
// keys, generic values, pluggable eviction policies, per-entry TTL and
// configurable replication.
//
// Design
//
//   - Placement: keys are placed on a consistent-hash ring with virtual nodes
//     (package ring). The first ReplicationFactor distinct nodes clockwise
//     from a key form its replica set; the first healthy one is the acting
//     primary and serves writes.
//
//   - Concurrency: every node is split into power-of-two shards, each guarded
//     by one mutex (package shard). Readers and writers both take it because
//     reads update policy state. Different shards run in parallel.
//
//   - Policies: LRU (default), LFU, TTL-only and 2Q. TTL-only never evicts a
//     live entry; a full shard rejects the write with ErrCapacityExceeded
//     unless Options.TTLFallback names a policy to fall back to.
//
//   - TTL: entries carry an absolute deadline. Expired entries are removed
//     lazily on access, while a shard makes room, and by the node sweeper.
//
//   - Replication: the primary assigns each write a version; replicas apply
//     mutations only when their version is newer. Propagation is synchronous
//     (the caller waits for the WriteConcern) or asynchronous (per-primary
//     queue, see Flush). A node missing MaxMissedHeartbeats heartbeats is
//     Degraded and resynced when it answers again. A committed primary write
//     is never rolled back, even when the write concern fails.
//
//   - Transport: nodes live in-process by default. Options.Dial plugs in
//     remote peers, e.g. a transport/zmq Client.
//
//   - GetOrLoad: coalesces concurrent loads for the same key using
//     singleflight. If Loader is nil, GetOrLoad returns ErrNoLoader.
//
//   - Metrics: Options.Metrics receives shard and replication signals.
//     NoopMetrics is used by default; metrics/prom exports them.
//
// Basic usage
//
//	c, err := cache.New[[]byte](cache.Options[[]byte]{
//	    Nodes:             []cache.NodeID{"a", "b", "c"},
//	    CapacityPerShard:  4096,
//	    ReplicationFactor: 2,
//	})
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	_ = c.Set(ctx, "user:1", []byte("alice"))
//	v, err := c.Get(ctx, "user:1")
//	if errors.Is(err, cache.ErrNotFound) {
//	    // miss or expired
//	}
//
// From a YAML file
//
//	cfg, err := cache.LoadConfig("cache.yaml")
//	opt, err := cache.FromConfig[string](cfg)
//	opt.Logger = logger
//	c, err := cache.New(opt)
package cache
