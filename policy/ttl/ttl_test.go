package ttl

import (
	"testing"

	"github.com/IvanBrykalov/ringcache/policy/lru"
	"github.com/stretchr/testify/assert"
)

func TestTTLOnly_NeverProposesVictim(t *testing.T) {
	t.Parallel()

	p := New[string](nil).New()
	p.OnInsert("a")
	p.OnAccess("a")

	_, ok := p.Victim()
	assert.False(t, ok)
}

func TestTTLOnly_FallbackDelegates(t *testing.T) {
	t.Parallel()

	p := New[string](lru.New[string]()).New()
	p.OnInsert("a")
	p.OnInsert("b")

	k, ok := p.Victim()
	assert.True(t, ok)
	assert.Equal(t, "a", k)
}
