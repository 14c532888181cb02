package prom

import (
	"context"
	"testing"

	"github.com/IvanBrykalov/ringcache/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapter_Signals(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := New(reg, "ringcache", "test", nil)

	a.Hit()
	a.Hit()
	a.Miss()
	a.Evict(cache.EvictTTL)
	a.Resize(3, 30)
	a.Resize(-1, -10)
	a.Replicated(true)
	a.Replicated(false)
	a.Degraded("n2")
	a.Resynced(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(a.hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.misses))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.evicts.WithLabelValues("ttl")))
	assert.Equal(t, 2.0, testutil.ToFloat64(a.sizeEnt))
	assert.Equal(t, 20.0, testutil.ToFloat64(a.sizeCost))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.replicated.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.down.WithLabelValues("n2")))
	assert.Equal(t, 7.0, testutil.ToFloat64(a.resynced))

	a.Recovered("n2")
	assert.Equal(t, 0.0, testutil.ToFloat64(a.down.WithLabelValues("n2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.recovered.WithLabelValues("n2")))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Positive(t, n)
}

// The gauges track the cache's resident size through Resize deltas.
func TestAdapter_WiredIntoCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := New(reg, "ringcache", "", nil)

	c, err := cache.New(cache.Options[string]{
		Nodes:             []cache.NodeID{"a", "b"},
		CapacityPerShard:  64,
		ReplicationFactor: 2,
		Metrics:           a,
		SweepInterval:     -1,
		HeartbeatInterval: -1,
	})
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", "v"))
	require.NoError(t, c.Set(ctx, "k2", "v"))
	_, err = c.Get(ctx, "k1")
	require.NoError(t, err)
	_, _ = c.Get(ctx, "missing")

	assert.Equal(t, 4.0, testutil.ToFloat64(a.sizeEnt), "two keys on two replicas")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.misses))
	assert.Equal(t, 2.0, testutil.ToFloat64(a.replicated.WithLabelValues("ok")))
}
