package ring

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/IvanBrykalov/ringcache/node"
	"go.uber.org/zap"
)

// Range is the arc of hashes (Start, End], wrapping past zero when
// Start >= End. Full covers the whole ring.
type Range struct {
	Start uint64
	End   uint64
	Full  bool
}

// Contains reports whether hash h falls on the arc.
func (r Range) Contains(h uint64) bool {
	switch {
	case r.Full:
		return true
	case r.Start < r.End:
		return h > r.Start && h <= r.End
	default:
		return h > r.Start || h <= r.End
	}
}

func (r Range) String() string {
	if r.Full {
		return "(*)"
	}
	return fmt.Sprintf("(%016x,%016x]", r.Start, r.End)
}

// Migration says that keys hashing into Range changed owner From -> To.
type Migration struct {
	Range Range
	From  node.ID
	To    node.ID
}

// ReplicaSet is [primary, replica_1, ..., replica_{n-1}] with no duplicates.
type ReplicaSet []node.ID

// Primary returns the first node of the set, or "" when empty.
func (s ReplicaSet) Primary() node.ID {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

// Contains reports whether id is a member of the set.
func (s ReplicaSet) Contains(id node.ID) bool { return slices.Contains(s, id) }

// Router maps keys to nodes. Resolve is lock-free; topology changes are
// serialized among themselves and published by swapping the snapshot.
type Router struct {
	mu  sync.Mutex // serializes writers only
	cur atomic.Pointer[Ring]
	log *zap.Logger
}

// NewRouter returns an empty router with perNode virtual nodes per node.
func NewRouter(perNode int, logger *zap.Logger) *Router {
	if perNode <= 0 {
		perNode = DefaultVirtualNodes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	rt := &Router{log: logger}
	rt.cur.Store(&Ring{perNode: perNode})
	return rt
}

// Snapshot returns the current immutable ring.
func (rt *Router) Snapshot() *Ring { return rt.cur.Load() }

// Resolve returns the primary node for key.
func (rt *Router) Resolve(key string) (node.ID, error) { return rt.cur.Load().Owner(key) }

// ReplicaSet returns the replica set of size n for key.
func (rt *Router) ReplicaSet(key string, n int) ReplicaSet {
	return rt.cur.Load().ReplicaSet(key, n)
}

// Nodes returns the current members.
func (rt *Router) Nodes() []node.ID { return rt.cur.Load().Members() }

// AddNode inserts id and returns the arcs whose primary moved to it.
// The router only computes routing; moving data is the caller's job.
func (rt *Router) AddNode(id node.ID) ([]Migration, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	old := rt.cur.Load()
	next, err := old.with(id)
	if err != nil {
		return nil, err
	}

	var moves []Migration
	if old.Len() > 0 {
		next.arcs(id, func(rg Range, at uint64) {
			moves = append(moves, Migration{Range: rg, From: old.ownerAt(at), To: id})
		})
	}
	rt.cur.Store(next)
	rt.log.Info("node added to ring",
		zap.String("node", string(id)),
		zap.Int("members", next.Len()),
		zap.Int("migrations", len(moves)))
	return moves, nil
}

// RemoveNode drops id and returns the arcs it owned with their new owners.
// Removing the last member is refused.
func (rt *Router) RemoveNode(id node.ID) ([]Migration, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	old := rt.cur.Load()
	next, err := old.without(id)
	if err != nil {
		return nil, err
	}
	if next.Len() == 0 {
		return nil, fmt.Errorf("%w: cannot remove last node %s", ErrTopology, id)
	}

	var moves []Migration
	old.arcs(id, func(rg Range, at uint64) {
		moves = append(moves, Migration{Range: rg, From: id, To: next.ownerAt(at)})
	})
	rt.cur.Store(next)
	rt.log.Info("node removed from ring",
		zap.String("node", string(id)),
		zap.Int("members", next.Len()),
		zap.Int("migrations", len(moves)))
	return moves, nil
}
