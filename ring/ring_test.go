package ring

import (
	"fmt"
	"sync"
	"testing"

	"github.com/IvanBrykalov/ringcache/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keys(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("key:%d", i)
	}
	return out
}

func TestRouter_ResolveDeterministic(t *testing.T) {
	t.Parallel()

	rt := NewRouter(64, nil)
	for _, id := range []node.ID{"a", "b", "c"} {
		_, err := rt.AddNode(id)
		require.NoError(t, err)
	}
	for _, k := range keys(500) {
		first, err := rt.Resolve(k)
		require.NoError(t, err)
		second, _ := rt.Resolve(k)
		assert.Equal(t, first, second)
	}

	// Two independently built rings agree.
	r2, err := New(64, "c", "a", "b")
	require.NoError(t, err)
	for _, k := range keys(500) {
		a, _ := rt.Resolve(k)
		b, _ := r2.Owner(k)
		assert.Equal(t, a, b)
	}
}

func TestRouter_TopologyErrors(t *testing.T) {
	t.Parallel()

	rt := NewRouter(8, nil)
	_, err := rt.Resolve("k")
	assert.ErrorIs(t, err, ErrEmptyRing)
	assert.ErrorIs(t, err, ErrTopology)

	_, err = rt.AddNode("a")
	require.NoError(t, err)
	_, err = rt.AddNode("a")
	assert.ErrorIs(t, err, ErrDuplicateNode)
	_, err = rt.RemoveNode("zzz")
	assert.ErrorIs(t, err, ErrUnknownNode)
	_, err = rt.RemoveNode("a")
	assert.ErrorIs(t, err, ErrTopology, "last node cannot be removed")
	_, err = rt.AddNode("")
	assert.ErrorIs(t, err, ErrTopology)
}

// Equal hash positions resolve to the lexicographically smaller node.
func TestRing_TieBreakLexicographic(t *testing.T) {
	t.Parallel()

	r := &Ring{perNode: 1, members: []node.ID{"a", "b"}, vnodes: []vnode{{100, "b"}, {100, "a"}}}
	r.sort()
	assert.Equal(t, node.ID("a"), r.ownerAt(50))
	assert.Equal(t, node.ID("a"), r.ownerAt(100))
	assert.Equal(t, node.ID("a"), r.ownerAt(101), "wraps to the first position")
}

func TestRing_ReplicaSetDistinct(t *testing.T) {
	t.Parallel()

	r, err := New(32, "a", "b", "c", "d")
	require.NoError(t, err)
	for _, k := range keys(200) {
		set := r.ReplicaSet(k, 3)
		require.Len(t, set, 3)
		owner, _ := r.Owner(k)
		assert.Equal(t, owner, set.Primary())
		seen := map[node.ID]bool{}
		for _, id := range set {
			assert.False(t, seen[id], "duplicate node in replica set")
			seen[id] = true
		}
	}
	assert.Len(t, r.ReplicaSet("k", 10), 4, "capped at member count")
}

// Adding one node to N remaps about 1/(N+1) of keys, and every remapped key is
// covered by a reported migration.
func TestRouter_RebalanceBound(t *testing.T) {
	t.Parallel()

	rt := NewRouter(DefaultVirtualNodes, nil)
	for _, id := range []node.ID{"n1", "n2", "n3"} {
		_, err := rt.AddNode(id)
		require.NoError(t, err)
	}
	ks := keys(20_000)
	before := make(map[string]node.ID, len(ks))
	for _, k := range ks {
		before[k], _ = rt.Resolve(k)
	}

	moves, err := rt.AddNode("n4")
	require.NoError(t, err)
	require.NotEmpty(t, moves)

	moved := 0
	for _, k := range ks {
		after, _ := rt.Resolve(k)
		if after == before[k] {
			continue
		}
		moved++
		assert.Equal(t, node.ID("n4"), after, "keys only move to the new node")
		h := KeyHash(k)
		covered := false
		for _, m := range moves {
			if m.Range.Contains(h) {
				covered = true
				assert.Equal(t, before[k], m.From)
				assert.Equal(t, node.ID("n4"), m.To)
			}
		}
		assert.True(t, covered, "moved key %s not covered by a migration", k)
	}
	frac := float64(moved) / float64(len(ks))
	assert.LessOrEqual(t, frac, 1.0/4+0.07)
	assert.Greater(t, frac, 0.0)
}

func TestRouter_RemoveNodeMigrations(t *testing.T) {
	t.Parallel()

	rt := NewRouter(64, nil)
	for _, id := range []node.ID{"a", "b", "c"} {
		_, err := rt.AddNode(id)
		require.NoError(t, err)
	}
	ks := keys(5_000)
	before := make(map[string]node.ID, len(ks))
	for _, k := range ks {
		before[k], _ = rt.Resolve(k)
	}

	moves, err := rt.RemoveNode("b")
	require.NoError(t, err)
	for _, k := range ks {
		after, _ := rt.Resolve(k)
		if before[k] != "b" {
			assert.Equal(t, before[k], after, "keys of surviving nodes stay put")
			continue
		}
		assert.NotEqual(t, node.ID("b"), after)
		h := KeyHash(k)
		found := false
		for _, m := range moves {
			if m.Range.Contains(h) {
				found = true
				assert.Equal(t, after, m.To)
				assert.Equal(t, node.ID("b"), m.From)
			}
		}
		assert.True(t, found)
	}
}

func TestRange_Contains(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		r    Range
		h    uint64
		want bool
	}{
		{"inside", Range{Start: 10, End: 20}, 15, true},
		{"start is exclusive", Range{Start: 10, End: 20}, 10, false},
		{"end is inclusive", Range{Start: 10, End: 20}, 20, true},
		{"wrap high", Range{Start: 100, End: 5}, 200, true},
		{"wrap low", Range{Start: 100, End: 5}, 3, true},
		{"wrap outside", Range{Start: 100, End: 5}, 50, false},
		{"full", Range{Full: true}, 42, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.r.Contains(tt.h))
		})
	}
}

// Readers racing a topology change always see a complete snapshot.
func TestRouter_ConcurrentResolveDuringSwap(t *testing.T) {
	t.Parallel()

	rt := NewRouter(32, nil)
	_, err := rt.AddNode("seed")
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := rt.Snapshot()
				id, err := snap.Owner("hot")
				if err != nil || !snap.Has(id) {
					t.Errorf("inconsistent snapshot: %v %v", id, err)
					return
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		_, err := rt.AddNode(node.ID(fmt.Sprintf("n%d", i)))
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
	assert.Len(t, rt.Nodes(), 51)
}
