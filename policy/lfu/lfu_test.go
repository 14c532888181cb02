package lfu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLFU_VictimIsLeastFrequent(t *testing.T) {
	t.Parallel()

	p := New[string]().New()
	p.OnInsert("a")
	p.OnInsert("b")
	p.OnInsert("c")
	p.OnAccess("a")
	p.OnAccess("a")
	p.OnAccess("c")

	k, ok := p.Victim()
	require.True(t, ok)
	assert.Equal(t, "b", k)

	p.OnRemove("b")
	k, _ = p.Victim()
	assert.Equal(t, "c", k, "c has freq 2, a has freq 3")
}

// Within one bucket the least recently touched key goes first.
func TestLFU_TieBreaksByRecency(t *testing.T) {
	t.Parallel()

	p := New[int]().New()
	p.OnInsert(1)
	p.OnInsert(2)
	p.OnInsert(3)

	k, _ := p.Victim()
	assert.Equal(t, 1, k)

	p.OnAccess(1)
	p.OnAccess(2)
	k, _ = p.Victim()
	assert.Equal(t, 3, k)

	p.OnAccess(3) // all at freq 2; 1 was promoted first
	k, _ = p.Victim()
	assert.Equal(t, 1, k)
}

// Empty buckets are dropped so new inserts start again at the bottom.
func TestLFU_BucketsCollapse(t *testing.T) {
	t.Parallel()

	p := New[string]().New().(*lfu[string])
	p.OnInsert("x")
	p.OnAccess("x")
	p.OnAccess("x")
	require.NotNil(t, p.lowest)
	assert.Equal(t, uint64(3), p.lowest.freq)
	assert.Nil(t, p.lowest.prev)
	assert.Nil(t, p.lowest.next)

	p.OnInsert("y")
	assert.Equal(t, uint64(1), p.lowest.freq)
	k, _ := p.Victim()
	assert.Equal(t, "y", k)

	p.OnRemove("y")
	p.OnRemove("x")
	p.OnRemove("x")
	_, ok := p.Victim()
	assert.False(t, ok)
	assert.Empty(t, p.idx)
}
