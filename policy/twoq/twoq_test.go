package twoq

import (
	"testing"
)

// A first-time key is admitted into A1in.
func TestTwoQ_InsertGoesToA1in(t *testing.T) {
	t.Parallel()

	p := New[string](2, 4).New().(*twoQ[string])
	p.OnInsert("a")

	if p.in.Len() != 1 {
		t.Fatalf("A1in must have 1 element, got %d", p.in.Len())
	}
	if _, ok := p.inIdx["a"]; !ok {
		t.Fatal("a must be present in A1in index")
	}
}

// When A1in exceeds its share, its oldest key is the victim even if Am is
// non-empty.
func TestTwoQ_OverflowVictimIsOldestOfA1in(t *testing.T) {
	t.Parallel()

	p := New[string](2, 4).New()
	p.OnInsert("hot")
	p.OnAccess("hot") // -> Am
	p.OnInsert("a")
	p.OnInsert("b")
	p.OnInsert("c") // A1in: c b a (over capIn=2)

	if k, ok := p.Victim(); !ok || k != "a" {
		t.Fatalf("victim want a, got %q ok=%v", k, ok)
	}
}

// Within capacity, the mature queue's LRU is evicted before young keys.
func TestTwoQ_VictimFromAmWhenA1inWithinShare(t *testing.T) {
	t.Parallel()

	p := New[string](2, 4).New()
	p.OnInsert("x")
	p.OnInsert("y")
	p.OnAccess("x") // Am: x
	p.OnAccess("y") // Am: y x

	p.OnInsert("n") // A1in: n

	if k, _ := p.Victim(); k != "x" {
		t.Fatalf("victim want x (LRU of Am), got %q", k)
	}
}

// Removing a key from A1in places it into ghosts; re-admission skips A1in.
func TestTwoQ_GhostSecondChance(t *testing.T) {
	t.Parallel()

	p := New[string](1, 2).New().(*twoQ[string])

	p.OnInsert("a")
	p.OnRemove("a")
	if _, ok := p.ghostIdx["a"]; !ok {
		t.Fatal("key 'a' must be in ghost after removal from A1in")
	}

	p.OnInsert("a")
	if _, ok := p.inIdx["a"]; ok {
		t.Fatal("a must NOT be in A1in (should go to Am)")
	}
	if _, ok := p.amIdx["a"]; !ok {
		t.Fatal("a must be in Am")
	}
	if _, ok := p.ghostIdx["a"]; ok {
		t.Fatal("ghost entry must be consumed")
	}
}

// Ghost capacity is bounded.
func TestTwoQ_GhostCapacity(t *testing.T) {
	t.Parallel()

	p := New[int](1, 2).New().(*twoQ[int])
	for i := 0; i < 5; i++ {
		p.OnInsert(i)
		p.OnRemove(i)
	}
	if p.ghost.Len() != 2 {
		t.Fatalf("ghost len want 2, got %d", p.ghost.Len())
	}
	if _, ok := p.ghostIdx[4]; !ok {
		t.Fatal("most recent ghost must survive")
	}
}
