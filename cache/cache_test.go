package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IvanBrykalov/ringcache/node"
	"github.com/IvanBrykalov/ringcache/policy"
	"github.com/IvanBrykalov/ringcache/replication"
	"github.com/IvanBrykalov/ringcache/shard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type fakeClock struct{ t atomic.Int64 }

func (f *fakeClock) NowUnixNano() int64  { return f.t.Load() }
func (f *fakeClock) add(d time.Duration) { f.t.Add(int64(d)) }

// newTestCache disables background loops so tests drive time explicitly.
func newTestCache[V any](t testing.TB, opt Options[V]) Cache[V] {
	t.Helper()
	if opt.CapacityPerShard == 0 {
		opt.CapacityPerShard = 1024
	}
	if opt.ShardsPerNode == 0 {
		opt.ShardsPerNode = 4
	}
	opt.SweepInterval = -1
	opt.HeartbeatInterval = -1
	c, err := New(opt)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// Uses a fake clock to avoid timing flakiness.
// Ensures that per-entry TTL is respected.
func TestCache_TTL_FakeClock(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c := newTestCache(t, Options[string]{CapacityPerShard: 4, Clock: clk})
	ctx := context.Background()

	require.NoError(t, c.SetWithTTL(ctx, "x", "v", 100*time.Millisecond))
	v, err := c.Get(ctx, "x")
	require.NoError(t, err, "fresh miss")
	assert.Equal(t, "v", v)

	clk.add(200 * time.Millisecond)
	_, err = c.Get(ctx, "x")
	assert.ErrorIs(t, err, ErrExpired)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCache_DefaultTTL(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c := newTestCache(t, Options[int]{Clock: clk, DefaultTTL: time.Minute})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1))
	require.NoError(t, c.SetWithTTL(ctx, "b", 2, 0))
	clk.add(2 * time.Minute)

	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	v, err := c.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

// Basic Set/Get/Delete semantics; a second Delete reports the miss.
func TestCache_BasicSetGetDelete(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options[int]{CapacityPerShard: 8})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1))
	require.NoError(t, c.Set(ctx, "a", 11))
	v, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 11, v)

	require.NoError(t, c.Delete(ctx, "a"))
	assert.ErrorIs(t, c.Delete(ctx, "a"), ErrNotFound)
	_, err = c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

// Deterministic LRU eviction: single shard, capacity 2.
// Accessing "a" promotes it; inserting "c" evicts LRU ("b").
func TestCache_EvictionLRU(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options[int]{CapacityPerShard: 2, ShardsPerNode: 1})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1))
	require.NoError(t, c.Set(ctx, "b", 2))
	_, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "c", 3))

	_, err = c.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound, "b must be evicted")
	_, err = c.Get(ctx, "a")
	assert.NoError(t, err, "a must survive (promoted)")
	v, err := c.Get(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, 2, c.Len())
}

func TestCache_EvictionLFU(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options[int]{CapacityPerShard: 2, ShardsPerNode: 1, EvictionPolicy: policy.KindLFU})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1))
	require.NoError(t, c.Set(ctx, "b", 2))
	for i := 0; i < 3; i++ {
		_, err := c.Get(ctx, "a")
		require.NoError(t, err)
	}
	require.NoError(t, c.Set(ctx, "c", 3))

	_, err := c.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound, "least frequently used key goes first")
	_, err = c.Get(ctx, "a")
	assert.NoError(t, err)
}

func TestCache_TTLOnlyPolicy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	strict := newTestCache(t, Options[int]{CapacityPerShard: 1, ShardsPerNode: 1, EvictionPolicy: policy.KindTTLOnly})
	require.NoError(t, strict.Set(ctx, "a", 1))
	assert.ErrorIs(t, strict.Set(ctx, "b", 2), ErrCapacityExceeded)
	v, err := strict.Get(ctx, "a")
	require.NoError(t, err, "rejected write leaves the shard untouched")
	assert.Equal(t, 1, v)

	lenient := newTestCache(t, Options[int]{
		CapacityPerShard: 1,
		ShardsPerNode:    1,
		EvictionPolicy:   policy.KindTTLOnly,
		TTLFallback:      policy.KindLRU,
	})
	require.NoError(t, lenient.Set(ctx, "a", 1))
	require.NoError(t, lenient.Set(ctx, "b", 2))
	_, err = lenient.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	// An expired entry always makes room, fallback or not.
	clk := &fakeClock{}
	expiring := newTestCache(t, Options[int]{CapacityPerShard: 1, ShardsPerNode: 1, EvictionPolicy: policy.KindTTLOnly, Clock: clk})
	require.NoError(t, expiring.SetWithTTL(ctx, "a", 1, time.Second))
	clk.add(2 * time.Second)
	assert.NoError(t, expiring.Set(ctx, "b", 2))
}

func TestCache_Touch(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c := newTestCache(t, Options[string]{Clock: clk})
	ctx := context.Background()

	require.NoError(t, c.SetWithTTL(ctx, "s", "v", time.Second))
	require.NoError(t, c.Touch(ctx, "s", time.Hour))
	clk.add(time.Minute)
	_, err := c.Get(ctx, "s")
	require.NoError(t, err, "touch extended the deadline")

	require.NoError(t, c.Touch(ctx, "s", 0))
	clk.add(24 * time.Hour)
	_, err = c.Get(ctx, "s")
	require.NoError(t, err, "non-positive ttl clears the deadline")

	assert.ErrorIs(t, c.Touch(ctx, "missing", time.Second), ErrNotFound)
}

// Concurrent GetOrLoad calls for the same key should trigger the Loader
// exactly once; subsequent calls are cache hits.
func TestCache_GetOrLoad_Singleflight(t *testing.T) {
	var calls int64

	c := newTestCache(t, Options[string]{
		Loader: func(_ context.Context, k string) (string, error) {
			atomic.AddInt64(&calls, 1)
			time.Sleep(5 * time.Millisecond) // simulate I/O
			return "v:" + k, nil
		},
	})

	const N = 64
	var g errgroup.Group
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < N; i++ {
		g.Go(func() error {
			v, err := c.GetOrLoad(ctx, "k")
			if err != nil {
				return err
			}
			if v != "v:k" {
				return fmt.Errorf("got %q", v)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 1, atomic.LoadInt64(&calls), "loader must run exactly once")

	v, err := c.GetOrLoad(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v:k", v)
}

func TestCache_GetOrLoad_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	c := newTestCache(t, Options[string]{})
	_, err := c.GetOrLoad(ctx, "k")
	assert.ErrorIs(t, err, ErrNoLoader)

	boom := fmt.Errorf("backend down")
	failing := newTestCache(t, Options[string]{
		Loader: func(context.Context, string) (string, error) { return "", boom },
	})
	_, err = failing.GetOrLoad(ctx, "k")
	assert.ErrorIs(t, err, boom)
	_, err = failing.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound, "failed loads are not cached")
}

// With RF = 3 on three nodes every node holds a copy.
func TestCache_ReplicatedCopies(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options[string]{
		Nodes:             []NodeID{"a", "b", "c"},
		ReplicationFactor: 3,
		WriteConcern:      All,
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), "v"))
	}
	assert.Equal(t, 30, c.Len())
	require.NoError(t, c.Delete(ctx, "k0"))
	assert.Equal(t, 27, c.Len())

	for _, id := range c.Nodes() {
		h, err := c.Health(id)
		require.NoError(t, err)
		assert.Equal(t, Healthy, h)
		st, err := c.ShardState(id)
		require.NoError(t, err)
		assert.Equal(t, StateStable, st)
	}
}

func TestCache_AddRemoveNodeKeepsData(t *testing.T) {
	t.Parallel()

	for _, rf := range []int{1, 2} {
		t.Run(fmt.Sprintf("rf=%d", rf), func(t *testing.T) {
			c := newTestCache(t, Options[int]{
				Nodes:             []NodeID{"a", "b"},
				ReplicationFactor: rf,
			})
			ctx := context.Background()

			const n = 500
			for i := 0; i < n; i++ {
				require.NoError(t, c.Set(ctx, fmt.Sprintf("key:%d", i), i))
			}
			check := func(stage string) {
				for i := 0; i < n; i++ {
					v, err := c.Get(ctx, fmt.Sprintf("key:%d", i))
					require.NoError(t, err, "%s: key:%d", stage, i)
					require.Equal(t, i, v)
				}
			}

			require.NoError(t, c.AddNode(ctx, "c"))
			check("after add")
			if rf == 1 {
				assert.Equal(t, n, c.Len(), "moved keys leave their old owner")
			}

			require.NoError(t, c.RemoveNode(ctx, "a"))
			check("after remove")
			assert.Equal(t, []NodeID{"b", "c"}, c.Nodes())
		})
	}
}

func TestCache_TopologyErrors(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options[int]{Nodes: []NodeID{"a", "b"}})
	ctx := context.Background()

	assert.ErrorIs(t, c.AddNode(ctx, "a"), ErrDuplicateNode)
	assert.ErrorIs(t, c.RemoveNode(ctx, "zzz"), ErrUnknownNode)
	require.NoError(t, c.RemoveNode(ctx, "a"))
	assert.ErrorIs(t, c.RemoveNode(ctx, "b"), ErrTopology, "last node stays")
	assert.Equal(t, []NodeID{"b"}, c.Nodes())

	_, err := c.Health("a")
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestCache_Invalidate(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options[string]{Nodes: []NodeID{"a", "b", "c"}, ReplicationFactor: 2})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "session", "s1"))
	require.NoError(t, c.Invalidate(ctx, "session"))
	_, err := c.Get(ctx, "session")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, c.Len())

	assert.NoError(t, c.Invalidate(ctx, "never-set"))
}

func TestCache_Sweep(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	c := newTestCache(t, Options[int]{Clock: clk})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, c.SetWithTTL(ctx, fmt.Sprintf("tmp:%d", i), i, 10*time.Millisecond))
	}
	require.NoError(t, c.Set(ctx, "keep", 1))
	clk.add(time.Second)

	assert.Equal(t, 3, c.Sweep(ctx))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 0, c.Sweep(ctx))
}

func TestCache_AsyncFlush(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options[int]{
		Nodes:             []NodeID{"a", "b"},
		ReplicationFactor: 2,
		Propagation:       Async,
	})
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), i))
	}
	require.NoError(t, c.Flush(ctx))
	assert.Equal(t, 200, c.Len())
}

type countingMetrics struct {
	NoopMetrics
	hits, misses, evicts atomic.Int64
	entries              atomic.Int64
}

func (m *countingMetrics) Hit()                 { m.hits.Add(1) }
func (m *countingMetrics) Miss()                { m.misses.Add(1) }
func (m *countingMetrics) Evict(EvictReason)    { m.evicts.Add(1) }
func (m *countingMetrics) Resize(n int, _ int64) { m.entries.Add(int64(n)) }

func TestCache_MetricsAndOnEvict(t *testing.T) {
	t.Parallel()

	m := &countingMetrics{}
	var (
		mu      sync.Mutex
		evicted []string
		reasons []EvictReason
	)
	c := newTestCache(t, Options[int]{
		CapacityPerShard: 1,
		ShardsPerNode:    1,
		Metrics:          m,
		OnEvict: func(k string, _ int, r EvictReason) {
			mu.Lock()
			defer mu.Unlock()
			evicted = append(evicted, k)
			reasons = append(reasons, r)
		},
	})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1))
	require.NoError(t, c.Set(ctx, "b", 2))
	_, _ = c.Get(ctx, "b")
	_, _ = c.Get(ctx, "a")

	assert.EqualValues(t, 1, m.hits.Load())
	assert.EqualValues(t, 1, m.misses.Load())
	assert.EqualValues(t, 1, m.evicts.Load())
	assert.EqualValues(t, 1, m.entries.Load())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a"}, evicted)
	assert.Equal(t, []EvictReason{EvictPolicy}, reasons)

	st := c.Stats()
	assert.Equal(t, 1, st.Entries)
	assert.EqualValues(t, 1, st.Evictions)
}

func TestCache_CostBudget(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options[string]{
		CapacityPerShard: 100,
		ShardsPerNode:    1,
		MaxCostPerShard:  10,
		Cost:             func(v string) int64 { return int64(len(v)) },
	})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", "12345"))
	require.NoError(t, c.Set(ctx, "b", "12345"))
	require.NoError(t, c.Set(ctx, "c", "123"))
	assert.LessOrEqual(t, c.Stats().Cost, int64(10))
	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound, "oldest entry evicted for cost")
}

func TestCache_Closed(t *testing.T) {
	t.Parallel()

	c, err := New(Options[int]{CapacityPerShard: 8})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "idempotent")

	ctx := context.Background()
	_, err = c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Set(ctx, "a", 1), ErrClosed)
	assert.ErrorIs(t, c.AddNode(ctx, "x"), ErrClosed)
	assert.Equal(t, 0, c.Sweep(ctx))
}

func TestNew_Panics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { _, _ = New(Options[int]{}) })
	assert.Panics(t, func() { _, _ = New(Options[int]{CapacityPerShard: 1, EvictionPolicy: "arc"}) })
}

// stallingPeer never answers reads before the caller gives up.
type stallingPeer struct {
	*replication.LocalPeer[string]
}

func (p *stallingPeer) Get(ctx context.Context, _ string) (node.Entry[string], error) {
	<-ctx.Done()
	return node.Entry[string]{}, ctx.Err()
}

func TestCache_OpTimeout(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options[string]{
		Nodes:     []NodeID{"slow"},
		OpTimeout: 20 * time.Millisecond,
		Dial: func(_ context.Context, id NodeID) (replication.Peer[string], error) {
			n := node.New[string](id, node.Config[string]{Shards: 1, Shard: shard.Config[string, string]{Capacity: 8}})
			return &stallingPeer{replication.NewLocalPeer(n)}, nil
		},
	})
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v"), "writes are not stalled")
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCache_DialError(t *testing.T) {
	t.Parallel()

	_, err := New(Options[string]{
		CapacityPerShard: 8,
		Nodes:            []NodeID{"a"},
		Dial: func(context.Context, NodeID) (replication.Peer[string], error) {
			return nil, ErrNodeUnreachable
		},
	})
	assert.ErrorIs(t, err, ErrNodeUnreachable)
}

// rejectingPeer refuses every replicated mutation.
type rejectingPeer struct {
	*replication.LocalPeer[string]
}

func (p *rejectingPeer) Apply(context.Context, node.Mutation[string]) (bool, error) {
	return false, errors.New("disk full")
}

func TestCache_AddNodeIncompleteTransfer(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options[string]{
		Nodes:             []NodeID{"a"},
		ReplicationFactor: 2,
		Dial: func(_ context.Context, id NodeID) (replication.Peer[string], error) {
			n := node.New[string](id, node.Config[string]{Shards: 2, Shard: shard.Config[string, string]{Capacity: 64}})
			if id == "b" {
				return &rejectingPeer{replication.NewLocalPeer(n)}, nil
			}
			return replication.NewLocalPeer(n), nil
		},
	})
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), "v"))
	}

	err := c.AddNode(ctx, "b")
	require.ErrorIs(t, err, ErrIncompleteTransfer)
	assert.ElementsMatch(t, []NodeID{"a", "b"}, c.Nodes(), "b joined despite the error")

	err = c.AddNode(ctx, "b")
	assert.ErrorIs(t, err, ErrDuplicateNode)
	assert.NotErrorIs(t, err, ErrIncompleteTransfer)
}
