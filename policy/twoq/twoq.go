// Package twoq implements the scan-resistant 2Q eviction policy.
package twoq

import (
	"container/list"

	"github.com/IvanBrykalov/ringcache/policy"
)

// twoQ implements the 2Q eviction policy.
//
// Resident queues:
//   - A1in (younger queue): admits first-time keys, FIFO.
//   - Am   (mature queue):  keys referenced again, LRU.
//
// Ghost A1out: keys only, tracks recently evicted A1in keys to give them
// a second chance (bypass A1in on re-admission).
//
// Concurrency: all methods are called under the shard lock.
type twoQ[K comparable] struct {
	capIn    int // A1in capacity (per-shard)
	capGhost int // A1out (ghost) capacity (per-shard)

	// MRU at Front() -> LRU at Back(); element.Value is K.
	in    *list.List
	am    *list.List
	ghost *list.List

	inIdx    map[K]*list.Element
	amIdx    map[K]*list.Element
	ghostIdx map[K]*list.Element
}

// New constructs a 2Q policy factory.
// Common choices: capIn ≈ 25% of shard capacity; capGhost ≈ 50–100% of shard capacity.
// NOTE: pass *per-shard* sizes here.
func New[K comparable](capIn, capGhost int) policy.Policy[K] {
	if capIn < 1 {
		capIn = 1
	}
	if capGhost < 1 {
		capGhost = 1
	}
	return twoQPolicy[K]{capIn: capIn, capGhost: capGhost}
}

type twoQPolicy[K comparable] struct {
	capIn    int
	capGhost int
}

func (p twoQPolicy[K]) New() policy.ShardPolicy[K] {
	return &twoQ[K]{
		capIn:    p.capIn,
		capGhost: p.capGhost,
		in:       list.New(),
		am:       list.New(),
		ghost:    list.New(),
		inIdx:    make(map[K]*list.Element),
		amIdx:    make(map[K]*list.Element),
		ghostIdx: make(map[K]*list.Element),
	}
}

// OnInsert admission rules:
//   - A key remembered in A1out bypasses A1in and goes straight to Am.
//   - Otherwise it enters A1in.
func (q *twoQ[K]) OnInsert(k K) {
	if _, ok := q.inIdx[k]; ok {
		return
	}
	if _, ok := q.amIdx[k]; ok {
		q.OnAccess(k)
		return
	}
	if ge, ok := q.ghostIdx[k]; ok {
		q.ghost.Remove(ge)
		delete(q.ghostIdx, k)
		q.amIdx[k] = q.am.PushFront(k)
		return
	}
	q.inIdx[k] = q.in.PushFront(k)
}

// OnAccess promotes an A1in key to Am, or refreshes an Am key.
func (q *twoQ[K]) OnAccess(k K) {
	if el, ok := q.inIdx[k]; ok {
		q.in.Remove(el)
		delete(q.inIdx, k)
		q.amIdx[k] = q.am.PushFront(k)
		return
	}
	if el, ok := q.amIdx[k]; ok {
		q.am.MoveToFront(el)
	}
}

// OnRemove drops k from resident queues. Keys leaving A1in are remembered as
// ghosts; removals from Am do NOT populate ghosts.
func (q *twoQ[K]) OnRemove(k K) {
	if el, ok := q.amIdx[k]; ok {
		q.am.Remove(el)
		delete(q.amIdx, k)
		return
	}
	el, ok := q.inIdx[k]
	if !ok {
		return
	}
	q.in.Remove(el)
	delete(q.inIdx, k)

	if old := q.ghostIdx[k]; old != nil {
		q.ghost.Remove(old)
	}
	q.ghostIdx[k] = q.ghost.PushFront(k)
	for q.ghost.Len() > q.capGhost {
		tail := q.ghost.Back()
		delete(q.ghostIdx, tail.Value.(K))
		q.ghost.Remove(tail)
	}
}

// Victim prefers the oldest A1in key while A1in is over its share, then the
// LRU of Am, then whatever is left in A1in.
func (q *twoQ[K]) Victim() (K, bool) {
	if q.in.Len() > q.capIn || q.am.Len() == 0 {
		if el := q.in.Back(); el != nil {
			return el.Value.(K), true
		}
	}
	if el := q.am.Back(); el != nil {
		return el.Value.(K), true
	}
	var zero K
	return zero, false
}
