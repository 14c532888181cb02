package zmq

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/IvanBrykalov/ringcache/codec"
	"github.com/IvanBrykalov/ringcache/node"
	"github.com/IvanBrykalov/ringcache/replication"
	"github.com/IvanBrykalov/ringcache/shard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ride struct {
	Driver string
	Fare   float64
}

func startNode[V any](t *testing.T, id node.ID, c codec.Codec[V]) (*node.Node[V], *Server[V]) {
	t.Helper()
	n := node.New[V](id, node.Config[V]{Shards: 2, Shard: shard.Config[string, V]{Capacity: 256}})
	srv := NewServer(n, "tcp://127.0.0.1:0", c, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return n, srv
}

func dial[V any](t *testing.T, id node.ID, srv *Server[V], c codec.Codec[V]) *Client[V] {
	t.Helper()
	cl := NewClient[V](id, srv.Endpoint(), c, time.Second)
	t.Cleanup(func() { _ = cl.Close() })
	return cl
}

func TestClient_RoundTrip(t *testing.T) {
	n, srv := startNode[ride](t, "n1", nil)
	cl := dial[ride](t, "n1", srv, nil)
	ctx := context.Background()

	require.NoError(t, cl.Ping(ctx))

	m, err := cl.Write(ctx, replication.Write[ride]{Kind: shard.MutSet, Key: "r1", Value: ride{"d7", 9.5}})
	require.NoError(t, err)
	assert.Equal(t, shard.MutSet, m.Kind)
	assert.NotZero(t, m.Version)

	e, err := cl.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, ride{"d7", 9.5}, e.Value)
	assert.Equal(t, m.Version, e.Version)

	local, err := n.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, "d7", local.Value.Driver)

	ok, err := cl.Apply(ctx, node.Mutation[ride]{Kind: shard.MutSet, Key: "r2", Value: ride{"d8", 3}, Version: 5})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = cl.Apply(ctx, node.Mutation[ride]{Kind: shard.MutSet, Key: "r2", Value: ride{"old", 1}, Version: 4})
	require.NoError(t, err)
	assert.False(t, ok, "stale version rejected remotely")

	var keys []string
	require.NoError(t, cl.Scan(ctx, func(e node.Entry[ride]) bool {
		keys = append(keys, e.Key)
		return true
	}))
	assert.ElementsMatch(t, []string{"r1", "r2"}, keys)

	st, err := cl.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Entries)
}

func TestClient_ErrorsRehydrate(t *testing.T) {
	n, srv := startNode[string](t, "n1", codec.String{})
	cl := dial[string](t, "n1", srv, codec.String{})
	ctx := context.Background()

	_, err := cl.Get(ctx, "missing")
	assert.ErrorIs(t, err, shard.ErrNotFound)

	past := time.Now().Add(-time.Minute).UnixNano()
	_, err = n.Apply(node.Mutation[string]{Kind: shard.MutSet, Key: "old", Value: "v", Version: 1, ExpiresAt: past})
	require.NoError(t, err)
	_, err = cl.Get(ctx, "old")
	assert.ErrorIs(t, err, shard.ErrExpired)
	assert.ErrorIs(t, err, shard.ErrNotFound)

	// A delete that misses still reports its version.
	m, err := cl.Write(ctx, replication.Write[string]{Kind: shard.MutDelete, Key: "missing"})
	assert.ErrorIs(t, err, shard.ErrNotFound)
	assert.NotZero(t, m.Version)

	_, err = cl.Write(ctx, replication.Write[string]{Kind: shard.MutTouch, Key: "missing"})
	assert.ErrorIs(t, err, shard.ErrNotFound)

	n2, err := cl.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n2, "Get already removed the expired entry")
}

func TestServer_StartReturnsBoundEndpoint(t *testing.T) {
	n := node.New[string]("n1", node.Config[string]{Shard: shard.Config[string, string]{Capacity: 16}})
	srv := NewServer(n, "tcp://127.0.0.1:0", codec.String{}, nil)

	started := make(chan error, 1)
	go func() { started <- srv.Start() }()
	select {
	case err := <-started:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
	}
	t.Cleanup(srv.Stop)

	assert.ErrorIs(t, srv.Start(), ErrServerRunning)
	assert.NotEqual(t, "tcp://127.0.0.1:0", srv.Endpoint(), "endpoint carries the real port")
}

func TestClient_PeekSkipsReadAccounting(t *testing.T) {
	n, srv := startNode[string](t, "n1", codec.String{})
	cl := dial[string](t, "n1", srv, codec.String{})
	ctx := context.Background()

	_, err := cl.Write(ctx, replication.Write[string]{Kind: shard.MutSet, Key: "k", Value: "v"})
	require.NoError(t, err)

	e, err := cl.Peek(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", e.Value)
	_, err = cl.Peek(ctx, "missing")
	assert.ErrorIs(t, err, shard.ErrNotFound)

	st := n.Stats()
	assert.EqualValues(t, 0, st.Hits)
	assert.EqualValues(t, 0, st.Misses)
}

func TestClient_UnreachableServer(t *testing.T) {
	_, srv := startNode[string](t, "n1", nil)
	cl := NewClient[string]("n1", srv.Endpoint(), nil, 200*time.Millisecond)
	defer cl.Close()
	require.NoError(t, cl.Ping(context.Background()))

	srv.Stop()
	err := cl.Ping(context.Background())
	assert.ErrorIs(t, err, replication.ErrNodeUnreachable)

	require.NoError(t, cl.Close())
	assert.ErrorIs(t, cl.Ping(context.Background()), ErrClientClosed)
}

// A Manager replicating across two nodes reached only through ZeroMQ.
func TestManager_OverZeroMQ(t *testing.T) {
	m := replication.New[string](replication.Config{
		ReplicationFactor: 2,
		WriteConcern:      replication.All,
		HeartbeatInterval: -1,
	})
	defer m.Close()
	ctx := context.Background()

	nodes := map[node.ID]*node.Node[string]{}
	for _, id := range []node.ID{"z1", "z2"} {
		n, srv := startNode[string](t, id, nil)
		nodes[id] = n
		require.NoError(t, m.Join(ctx, dial[string](t, id, srv, nil)))
	}

	for i := 0; i < 20; i++ {
		_, err := m.Write(ctx, replication.Write[string]{Kind: shard.MutSet, Key: fmt.Sprintf("k%d", i), Value: "v"})
		require.NoError(t, err)
	}
	for id, n := range nodes {
		assert.Equal(t, 20, n.Len(), "node %s holds every key", id)
	}

	e, err := m.Read(ctx, "k3")
	require.NoError(t, err)
	assert.Equal(t, "v", e.Value)
}
