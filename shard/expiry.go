package shard

import (
	"container/heap"
	"iter"
)

// expiryHeap is a min-heap of TTL-bearing nodes ordered by ExpiresAt.
type expiryHeap[K comparable, V any] []*node[K, V]

func (h expiryHeap[K, V]) Len() int           { return len(h) }
func (h expiryHeap[K, V]) Less(i, j int) bool { return h[i].ExpiresAt < h[j].ExpiresAt }
func (h expiryHeap[K, V]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].hidx = i
	h[j].hidx = j
}

func (h *expiryHeap[K, V]) Push(x any) {
	n := x.(*node[K, V])
	n.hidx = len(*h)
	*h = append(*h, n)
}

func (h *expiryHeap[K, V]) Pop() any {
	old := *h
	last := len(old) - 1
	n := old[last]
	old[last] = nil
	n.hidx = -1
	*h = old[:last]
	return n
}

// track adds, repositions or drops n depending on its deadline.
func (h *expiryHeap[K, V]) track(n *node[K, V]) {
	switch {
	case n.ExpiresAt == 0 && n.hidx >= 0:
		heap.Remove(h, n.hidx)
	case n.ExpiresAt == 0:
	case n.hidx >= 0:
		heap.Fix(h, n.hidx)
	default:
		heap.Push(h, n)
	}
}

func (h *expiryHeap[K, V]) untrack(n *node[K, V]) {
	if n.hidx >= 0 {
		heap.Remove(h, n.hidx)
	}
}

// peek returns the node with the earliest deadline, or nil.
func (h expiryHeap[K, V]) peek() *node[K, V] {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// expired walks the heap from the root and prunes every subtree whose root is
// still live, so the cost is O(k) in the number of expired nodes.
// Keys are collected before the first yield: callers may remove while ranging.
func (h expiryHeap[K, V]) expired(now int64) iter.Seq[K] {
	return func(yield func(K) bool) {
		var keys []K
		stack := []int{0}
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if i >= len(h) || !h[i].Expired(now) {
				continue
			}
			keys = append(keys, h[i].Key)
			stack = append(stack, 2*i+1, 2*i+2)
		}
		for _, k := range keys {
			if !yield(k) {
				return
			}
		}
	}
}
