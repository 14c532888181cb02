package shard

import (
	"iter"

	"github.com/IvanBrykalov/ringcache/policy"
)

// Store maps keys to resident entries and keeps the eviction policy and the
// expiry index in lockstep with the map. It is not safe for concurrent use;
// Shard serializes access to it.
type Store[K comparable, V any] struct {
	m   map[K]*node[K, V]
	exp expiryHeap[K, V]
	pol policy.ShardPolicy[K]

	capacity int   // max resident entries
	maxCost  int64 // 0 disables cost limiting
	cost     int64

	// evicted is notified for every entry removed by TTL or capacity pressure.
	evicted func(e *Entry[K, V], reason EvictReason)
}

// NewStore builds a store bound to a fresh policy instance.
func NewStore[K comparable, V any](capacity int, maxCost int64, pol policy.ShardPolicy[K]) *Store[K, V] {
	return &Store[K, V]{
		m:        make(map[K]*node[K, V], capacity),
		pol:      pol,
		capacity: capacity,
		maxCost:  maxCost,
		evicted:  func(*Entry[K, V], EvictReason) {},
	}
}

// Len returns the number of resident entries (expired ones included until reclaimed).
func (s *Store[K, V]) Len() int { return len(s.m) }

// Cost returns the total resident cost.
func (s *Store[K, V]) Cost() int64 { return s.cost }

// Get returns a copy of the live entry for k and records the access.
// An expired entry is removed on the spot and reported as ErrExpired.
func (s *Store[K, V]) Get(k K, now int64) (Entry[K, V], error) {
	n, ok := s.m[k]
	if !ok {
		return Entry[K, V]{}, ErrNotFound
	}
	if n.Expired(now) {
		s.evict(n, EvictTTL)
		return Entry[K, V]{}, ErrExpired
	}
	n.LastAccess = now
	n.AccessCount++
	s.pol.OnAccess(k)
	return n.Entry, nil
}

// Peek returns a copy of the entry for k without touching policy state or
// reclaiming it when expired.
func (s *Store[K, V]) Peek(k K) (Entry[K, V], bool) {
	n, ok := s.m[k]
	if !ok {
		return Entry[K, V]{}, false
	}
	return n.Entry, true
}

// Put inserts e or replaces the resident entry with the same key.
// Room is made BEFORE the entry becomes resident: expired entries go first,
// then policy victims. If nothing more can be freed the store is left as it
// was and ErrCapacityExceeded is returned.
func (s *Store[K, V]) Put(e Entry[K, V], now int64) error {
	if s.maxCost > 0 && e.Cost > s.maxCost {
		return ErrCapacityExceeded
	}
	e.LastAccess = now

	if n, ok := s.m[e.Key]; ok {
		if delta := e.Cost - n.Cost; s.maxCost > 0 && delta > 0 {
			// Keep the updated key out of victim selection while making room.
			s.pol.OnRemove(e.Key)
			err := s.makeRoom(false, delta, now, n)
			s.pol.OnInsert(e.Key)
			if err != nil {
				return err
			}
		}
		e.AccessCount = n.AccessCount + 1
		s.cost += e.Cost - n.Cost
		n.Entry = e
		s.exp.track(n)
		s.pol.OnAccess(e.Key)
		return nil
	}

	if err := s.makeRoom(true, e.Cost, now, nil); err != nil {
		return err
	}
	n := &node[K, V]{Entry: e, hidx: -1}
	n.AccessCount = 1
	s.m[e.Key] = n
	s.cost += e.Cost
	s.exp.track(n)
	s.pol.OnInsert(e.Key)
	return nil
}

// Touch replaces the deadline and version of a live entry without rewriting
// its value.
func (s *Store[K, V]) Touch(k K, expiresAt int64, version uint64, now int64) (Entry[K, V], error) {
	n, ok := s.m[k]
	if !ok {
		return Entry[K, V]{}, ErrNotFound
	}
	if n.Expired(now) {
		s.evict(n, EvictTTL)
		return Entry[K, V]{}, ErrExpired
	}
	n.ExpiresAt = expiresAt
	n.Version = version
	n.LastAccess = now
	n.AccessCount++
	s.exp.track(n)
	s.pol.OnAccess(k)
	return n.Entry, nil
}

// Remove deletes k. It is not reported as an eviction.
func (s *Store[K, V]) Remove(k K) (Entry[K, V], bool) {
	n, ok := s.m[k]
	if !ok {
		return Entry[K, V]{}, false
	}
	s.drop(n)
	return n.Entry, true
}

// ScanExpired yields the keys whose deadline passed at now. Each ranging is
// one independent pass over the expiry index.
func (s *Store[K, V]) ScanExpired(now int64) iter.Seq[K] {
	return func(yield func(K) bool) {
		s.exp.expired(now)(yield)
	}
}

// Sweep reclaims every expired entry and returns how many were removed.
func (s *Store[K, V]) Sweep(now int64) int {
	removed := 0
	for k := range s.ScanExpired(now) {
		if n, ok := s.m[k]; ok {
			s.evict(n, EvictTTL)
			removed++
		}
	}
	return removed
}

// All yields copies of every resident entry.
func (s *Store[K, V]) All() iter.Seq[Entry[K, V]] {
	return func(yield func(Entry[K, V]) bool) {
		for _, n := range s.m {
			if !yield(n.Entry) {
				return
			}
		}
	}
}

// makeRoom evicts until one more entry (when grow is set) and extraCost fit.
// keep is never chosen as a victim.
func (s *Store[K, V]) makeRoom(grow bool, extraCost int64, now int64, keep *node[K, V]) error {
	overCount := func() bool { return grow && len(s.m)+1 > s.capacity }
	overCost := func() bool { return s.maxCost > 0 && s.cost+extraCost > s.maxCost }

	for overCount() || overCost() {
		if top := s.exp.peek(); top != nil && top != keep && top.Expired(now) {
			s.evict(top, EvictTTL)
			continue
		}
		k, ok := s.pol.Victim()
		if !ok {
			return ErrCapacityExceeded
		}
		n, ok := s.m[k]
		if !ok {
			// Policy out of sync with the map; forget the key and retry.
			s.pol.OnRemove(k)
			continue
		}
		if n == keep {
			return ErrCapacityExceeded
		}
		reason := EvictPolicy
		if !overCount() {
			reason = EvictCapacity
		}
		s.evict(n, reason)
	}
	return nil
}

func (s *Store[K, V]) evict(n *node[K, V], reason EvictReason) {
	s.drop(n)
	s.evicted(&n.Entry, reason)
}

func (s *Store[K, V]) drop(n *node[K, V]) {
	s.pol.OnRemove(n.Key)
	s.exp.untrack(n)
	delete(s.m, n.Key)
	s.cost -= n.Cost
	if s.cost < 0 {
		s.cost = 0
	}
}
