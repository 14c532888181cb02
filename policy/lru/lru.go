// Package lru implements the LRU eviction policy.
package lru

import "github.com/IvanBrykalov/ringcache/policy"

// elem is an intrusive list element: head is MRU, tail is LRU.
type elem[K comparable] struct {
	key        K
	prev, next *elem[K]
}

// lru is a classic "move-to-front" Least-Recently-Used policy.
type lru[K comparable] struct {
	idx  map[K]*elem[K]
	head *elem[K] // MRU
	tail *elem[K] // LRU
}

type lruPolicy[K comparable] struct{}

// New returns a Policy factory that constructs per-shard LRU instances.
func New[K comparable]() policy.Policy[K] { return lruPolicy[K]{} }

// New implements policy.Policy.
func (lruPolicy[K]) New() policy.ShardPolicy[K] {
	return &lru[K]{idx: make(map[K]*elem[K])}
}

// OnInsert places the key at MRU. Re-inserting a known key just promotes it.
func (p *lru[K]) OnInsert(k K) {
	if e, ok := p.idx[k]; ok {
		p.moveToFront(e)
		return
	}
	e := &elem[K]{key: k}
	p.idx[k] = e
	p.pushFront(e)
}

// OnAccess promotes the key to MRU.
func (p *lru[K]) OnAccess(k K) {
	if e, ok := p.idx[k]; ok {
		p.moveToFront(e)
	}
}

// OnRemove unlinks the key.
func (p *lru[K]) OnRemove(k K) {
	e, ok := p.idx[k]
	if !ok {
		return
	}
	p.unlink(e)
	delete(p.idx, k)
}

// Victim returns the least recently used key.
func (p *lru[K]) Victim() (K, bool) {
	if p.tail == nil {
		var zero K
		return zero, false
	}
	return p.tail.key, true
}

// pushFront inserts e at MRU in O(1).
func (p *lru[K]) pushFront(e *elem[K]) {
	e.prev = nil
	e.next = p.head
	if p.head != nil {
		p.head.prev = e
	}
	p.head = e
	if p.tail == nil {
		p.tail = e
	}
}

// moveToFront promotes e to MRU in O(1).
func (p *lru[K]) moveToFront(e *elem[K]) {
	if e == p.head {
		return
	}
	p.unlink(e)
	p.pushFront(e)
}

// unlink detaches e from the list in O(1).
func (p *lru[K]) unlink(e *elem[K]) {
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if p.head == e {
		p.head = e.next
	}
	if p.tail == e {
		p.tail = e.prev
	}
	e.prev, e.next = nil, nil
}
