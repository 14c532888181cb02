// Package lfu implements the LFU eviction policy with O(1) frequency buckets.
package lfu

import "github.com/IvanBrykalov/ringcache/policy"

// item is a key inside a bucket's recency list (head = most recent).
type item[K comparable] struct {
	key        K
	b          *bucket[K]
	prev, next *item[K]
}

// bucket groups all keys with the same access count.
// Buckets form an ascending list by freq; empty buckets are unlinked immediately.
type bucket[K comparable] struct {
	freq       uint64
	prev, next *bucket[K]
	head, tail *item[K]
}

type lfu[K comparable] struct {
	idx    map[K]*item[K]
	lowest *bucket[K]
}

type lfuPolicy[K comparable] struct{}

// New returns a Policy factory that constructs per-shard LFU instances.
// Ties within the lowest-frequency bucket are broken by least recent use.
func New[K comparable]() policy.Policy[K] { return lfuPolicy[K]{} }

func (lfuPolicy[K]) New() policy.ShardPolicy[K] {
	return &lfu[K]{idx: make(map[K]*item[K])}
}

// OnInsert admits k with frequency 1. A known key counts as an access.
func (p *lfu[K]) OnInsert(k K) {
	if _, ok := p.idx[k]; ok {
		p.OnAccess(k)
		return
	}
	b := p.lowest
	if b == nil || b.freq != 1 {
		nb := &bucket[K]{freq: 1, next: b}
		if b != nil {
			b.prev = nb
		}
		p.lowest = nb
		b = nb
	}
	it := &item[K]{key: k}
	p.idx[k] = it
	b.push(it)
}

// OnAccess migrates k to the next frequency bucket.
func (p *lfu[K]) OnAccess(k K) {
	it, ok := p.idx[k]
	if !ok {
		return
	}
	cur := it.b
	next := cur.next
	if next == nil || next.freq != cur.freq+1 {
		nb := &bucket[K]{freq: cur.freq + 1, prev: cur, next: next}
		if next != nil {
			next.prev = nb
		}
		cur.next = nb
		next = nb
	}
	cur.unlink(it)
	next.push(it)
	if cur.head == nil {
		p.dropBucket(cur)
	}
}

// OnRemove forgets k.
func (p *lfu[K]) OnRemove(k K) {
	it, ok := p.idx[k]
	if !ok {
		return
	}
	b := it.b
	b.unlink(it)
	delete(p.idx, k)
	if b.head == nil {
		p.dropBucket(b)
	}
}

// Victim returns the least recent key of the lowest nonempty bucket.
func (p *lfu[K]) Victim() (K, bool) {
	if p.lowest == nil || p.lowest.tail == nil {
		var zero K
		return zero, false
	}
	return p.lowest.tail.key, true
}

func (p *lfu[K]) dropBucket(b *bucket[K]) {
	if b.prev != nil {
		b.prev.next = b.next
	} else {
		p.lowest = b.next
	}
	if b.next != nil {
		b.next.prev = b.prev
	}
	b.prev, b.next = nil, nil
}

func (b *bucket[K]) push(it *item[K]) {
	it.b = b
	it.prev = nil
	it.next = b.head
	if b.head != nil {
		b.head.prev = it
	}
	b.head = it
	if b.tail == nil {
		b.tail = it
	}
}

func (b *bucket[K]) unlink(it *item[K]) {
	if it.prev != nil {
		it.prev.next = it.next
	}
	if it.next != nil {
		it.next.prev = it.prev
	}
	if b.head == it {
		b.head = it.next
	}
	if b.tail == it {
		b.tail = it.prev
	}
	it.prev, it.next, it.b = nil, nil, nil
}
