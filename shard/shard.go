// Package shard implements the unit of concurrency isolation: an entry store
// and its eviction policy guarded by a single exclusive lock.
package shard

import (
	"sync"
	"time"

	"github.com/IvanBrykalov/ringcache/internal/util"
	"github.com/IvanBrykalov/ringcache/policy"
	"github.com/IvanBrykalov/ringcache/policy/lru"
)

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }

// Config configures a shard. Zero values are safe except Capacity.
//   - nil Policy  => LRU
//   - nil Metrics => NoopMetrics
//   - nil Clock   => time.Now()
type Config[K comparable, V any] struct {
	Capacity int
	MaxCost  int64
	Policy   policy.Policy[K]
	Metrics  Metrics
	Clock    Clock
	// OnEvict is called on eviction under the shard lock; keep callbacks lightweight.
	OnEvict func(k K, v V, reason EvictReason)
}

// OpKind selects what Execute does.
type OpKind uint8

const (
	OpGet OpKind = iota + 1
	OpSet
	OpDelete
	OpTouch
	// OpApply installs a replicated Mutation if its version is newer.
	OpApply
	// OpPeek reads like OpGet but leaves counters, metrics, policy order and
	// expired entries alone.
	OpPeek
)

// Op is one request against a shard.
type Op[K comparable, V any] struct {
	Kind      OpKind
	Key       K
	Value     V
	ExpiresAt int64
	Cost      int64

	// Mutation is used by OpApply only.
	Mutation Mutation[K, V]
}

// Result is what Execute returns. Entry is populated for get/set/touch;
// Version carries the version assigned to a primary write (including delete).
// Applied reports whether an OpApply changed anything.
type Result[K comparable, V any] struct {
	Entry   Entry[K, V]
	Version uint64
	Applied bool
	Err     error
}

// Stats is a point-in-time view of a shard's counters.
type Stats struct {
	Entries   int
	Cost      int64
	Hits      int64
	Misses    int64
	Evictions uint64
}

// Shard serializes all access to one Store + policy pair.
// Readers and writers both take the exclusive lock: reads mutate policy state.
type Shard[K comparable, V any] struct {
	id int

	// ---- guarded by mu ----
	mu    sync.Mutex
	st    *Store[K, V]
	clock uint64 // last version issued or observed

	// last sizes reported to Metrics.Resize
	repLen  int
	repCost int64

	cfg Config[K, V]

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_      util.CacheLinePad
	hits   util.PaddedAtomicInt64
	misses util.PaddedAtomicInt64
	evicts util.PaddedAtomicUint64
}

// New builds a shard. It panics if cfg.Capacity is not positive.
func New[K comparable, V any](id int, cfg Config[K, V]) *Shard[K, V] {
	if cfg.Capacity <= 0 {
		panic("shard: Capacity must be > 0")
	}
	if cfg.Policy == nil {
		cfg.Policy = lru.New[K]()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NoopMetrics{}
	}
	s := &Shard[K, V]{id: id, cfg: cfg}
	s.st = NewStore[K, V](cfg.Capacity, cfg.MaxCost, cfg.Policy.New())
	s.st.evicted = s.onEvicted
	return s
}

// ID returns the shard's index within its node.
func (s *Shard[K, V]) ID() int { return s.id }

// Execute runs op atomically with respect to every other operation on this shard.
func (s *Shard[K, V]) Execute(op Op[K, V]) Result[K, V] {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	switch op.Kind {
	case OpGet:
		e, err := s.st.Get(op.Key, now)
		if err != nil {
			s.misses.Add(1)
			s.cfg.Metrics.Miss()
			s.reportSize()
			return Result[K, V]{Err: err}
		}
		s.hits.Add(1)
		s.cfg.Metrics.Hit()
		return Result[K, V]{Entry: e, Version: e.Version}

	case OpSet:
		e := Entry[K, V]{
			Key:       op.Key,
			Value:     op.Value,
			ExpiresAt: op.ExpiresAt,
			Cost:      op.Cost,
			Version:   s.nextVersion(now),
		}
		if err := s.st.Put(e, now); err != nil {
			return Result[K, V]{Err: err}
		}
		s.reportSize()
		e, _ = s.st.Peek(op.Key)
		return Result[K, V]{Entry: e, Version: e.Version}

	case OpDelete:
		// A delete is versioned even when it misses so replicas holding a copy
		// the primary no longer has still converge.
		v := s.nextVersion(now)
		e, ok := s.st.Remove(op.Key)
		if !ok {
			return Result[K, V]{Version: v, Err: ErrNotFound}
		}
		s.reportSize()
		if e.Expired(now) {
			return Result[K, V]{Version: v, Err: ErrExpired}
		}
		return Result[K, V]{Version: v}

	case OpTouch:
		e, err := s.st.Touch(op.Key, op.ExpiresAt, s.peekVersion(now), now)
		if err != nil {
			s.reportSize()
			return Result[K, V]{Err: err}
		}
		s.clock = e.Version
		return Result[K, V]{Entry: e, Version: e.Version}

	case OpApply:
		return s.apply(op.Mutation, now)

	case OpPeek:
		e, ok := s.st.Peek(op.Key)
		switch {
		case !ok:
			return Result[K, V]{Err: ErrNotFound}
		case e.Expired(now):
			return Result[K, V]{Err: ErrExpired}
		}
		return Result[K, V]{Entry: e, Version: e.Version}
	}
	return Result[K, V]{Err: ErrNotFound}
}

// Sweep reclaims all entries expired at the shard's current time.
func (s *Shard[K, V]) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.st.Sweep(s.now())
	if n > 0 {
		s.reportSize()
	}
	return n
}

// Snapshot copies every live entry under the lock and then hands them to fn
// outside of it, so slow consumers never stall the shard.
func (s *Shard[K, V]) Snapshot(fn func(Entry[K, V]) bool) {
	s.mu.Lock()
	now := s.now()
	out := make([]Entry[K, V], 0, s.st.Len())
	for e := range s.st.All() {
		if !e.Expired(now) {
			out = append(out, e)
		}
	}
	s.mu.Unlock()

	for _, e := range out {
		if !fn(e) {
			return
		}
	}
}

// Len returns the number of resident entries.
func (s *Shard[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.Len()
}

// Stats returns the shard's counters.
func (s *Shard[K, V]) Stats() Stats {
	s.mu.Lock()
	entries, cost := s.st.Len(), s.st.Cost()
	s.mu.Unlock()
	return Stats{
		Entries:   entries,
		Cost:      cost,
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Evictions: s.evicts.Load(),
	}
}

// -------------------- internals (mu held) --------------------

// apply installs a replicated mutation when it is strictly newer than what the
// shard holds. Re-delivery and stale delivery are both no-ops.
func (s *Shard[K, V]) apply(m Mutation[K, V], now int64) Result[K, V] {
	if m.Version > s.clock {
		s.clock = m.Version
	}
	cur, exists := s.st.Peek(m.Key)
	if exists && m.Version <= cur.Version {
		return Result[K, V]{Entry: cur, Version: cur.Version}
	}

	switch m.Kind {
	case MutSet:
		e := Entry[K, V]{
			Key:       m.Key,
			Value:     m.Value,
			ExpiresAt: m.ExpiresAt,
			Cost:      m.Cost,
			Version:   m.Version,
		}
		if err := s.st.Put(e, now); err != nil {
			return Result[K, V]{Err: err}
		}
		s.reportSize()
		return Result[K, V]{Entry: e, Version: m.Version, Applied: true}

	case MutDelete:
		if !exists {
			return Result[K, V]{Version: m.Version}
		}
		s.st.Remove(m.Key)
		s.reportSize()
		return Result[K, V]{Version: m.Version, Applied: true}

	case MutTouch:
		if !exists {
			return Result[K, V]{Err: ErrNotFound}
		}
		e, err := s.st.Touch(m.Key, m.ExpiresAt, m.Version, now)
		if err != nil {
			return Result[K, V]{Err: err}
		}
		return Result[K, V]{Entry: e, Version: m.Version, Applied: true}
	}
	return Result[K, V]{Err: ErrNotFound}
}

// nextVersion issues max(last+1, now): strictly increasing within the shard
// and roughly ordered across nodes that share a clock.
func (s *Shard[K, V]) nextVersion(now int64) uint64 {
	s.clock = s.peekVersion(now)
	return s.clock
}

func (s *Shard[K, V]) peekVersion(now int64) uint64 {
	v := s.clock + 1
	if now > 0 && uint64(now) > v {
		v = uint64(now)
	}
	return v
}

func (s *Shard[K, V]) onEvicted(e *Entry[K, V], reason EvictReason) {
	s.evicts.Add(1)
	s.cfg.Metrics.Evict(reason)
	if cb := s.cfg.OnEvict; cb != nil {
		cb(e.Key, e.Value, reason)
	}
}

func (s *Shard[K, V]) reportSize() {
	l, c := s.st.Len(), s.st.Cost()
	if l == s.repLen && c == s.repCost {
		return
	}
	s.cfg.Metrics.Resize(l-s.repLen, c-s.repCost)
	s.repLen, s.repCost = l, c
}

func (s *Shard[K, V]) now() int64 {
	if s.cfg.Clock != nil {
		return s.cfg.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}
