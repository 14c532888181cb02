// Package ring implements consistent-hash routing with virtual nodes.
//
// A Ring is an immutable snapshot. The Router swaps snapshots atomically on
// topology change, so Resolve never takes a lock and in-flight readers see
// either the old ring or the new one, never a partial update.
package ring

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"

	"github.com/IvanBrykalov/ringcache/node"
	"github.com/cespare/xxhash/v2"
)

var (
	// ErrTopology is the umbrella error for invalid ring operations.
	ErrTopology = errors.New("ring: topology error")
	// ErrDuplicateNode is returned when adding a node that is already a member.
	ErrDuplicateNode = fmt.Errorf("%w: duplicate node", ErrTopology)
	// ErrUnknownNode is returned when removing a node that is not a member.
	ErrUnknownNode = fmt.Errorf("%w: unknown node", ErrTopology)
	// ErrEmptyRing is returned when routing on a ring without members.
	ErrEmptyRing = fmt.Errorf("%w: ring has no nodes", ErrTopology)
)

// DefaultVirtualNodes is the number of ring positions per physical node.
const DefaultVirtualNodes = 160

// KeyHash is the hash used to place keys on the ring.
func KeyHash(key string) uint64 { return xxhash.Sum64String(key) }

func vnodeHash(id node.ID, i int) uint64 {
	return xxhash.Sum64String(string(id) + "#" + strconv.Itoa(i))
}

type vnode struct {
	hash uint64
	node node.ID
}

// Ring is an immutable, ordered set of virtual-node positions.
type Ring struct {
	vnodes  []vnode   // sorted by (hash, node)
	members []node.ID // sorted
	perNode int
}

// New builds a ring from scratch. perNode <= 0 uses DefaultVirtualNodes.
func New(perNode int, members ...node.ID) (*Ring, error) {
	if perNode <= 0 {
		perNode = DefaultVirtualNodes
	}
	r := &Ring{perNode: perNode}
	for _, id := range members {
		next, err := r.with(id)
		if err != nil {
			return nil, err
		}
		r = next
	}
	return r, nil
}

// Len returns the number of physical nodes.
func (r *Ring) Len() int { return len(r.members) }

// Members returns the physical nodes in lexicographic order.
func (r *Ring) Members() []node.ID { return slices.Clone(r.members) }

// Has reports whether id is a member.
func (r *Ring) Has(id node.ID) bool {
	_, ok := slices.BinarySearch(r.members, id)
	return ok
}

// Owner returns the node owning key: the first position >= hash(key), wrapping.
func (r *Ring) Owner(key string) (node.ID, error) {
	if len(r.vnodes) == 0 {
		return "", ErrEmptyRing
	}
	return r.vnodes[r.search(KeyHash(key))].node, nil
}

// ReplicaSet returns up to n distinct nodes for key walking clockwise from its
// position. The first element is the primary.
func (r *Ring) ReplicaSet(key string, n int) ReplicaSet {
	return r.replicaSetAt(KeyHash(key), n)
}

func (r *Ring) replicaSetAt(h uint64, n int) ReplicaSet {
	if len(r.vnodes) == 0 || n <= 0 {
		return nil
	}
	if n > len(r.members) {
		n = len(r.members)
	}
	out := make(ReplicaSet, 0, n)
	start := r.search(h)
	for i := 0; i < len(r.vnodes) && len(out) < n; i++ {
		id := r.vnodes[(start+i)%len(r.vnodes)].node
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// search returns the index of the first vnode with hash >= h, wrapping to 0.
func (r *Ring) search(h uint64) int {
	i := sort.Search(len(r.vnodes), func(i int) bool { return r.vnodes[i].hash >= h })
	if i == len(r.vnodes) {
		return 0
	}
	return i
}

func (r *Ring) ownerAt(h uint64) node.ID { return r.vnodes[r.search(h)].node }

// with returns a copy of r including id. r is never modified.
func (r *Ring) with(id node.ID) (*Ring, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty node id", ErrTopology)
	}
	if r.Has(id) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, id)
	}
	next := &Ring{
		vnodes:  make([]vnode, 0, len(r.vnodes)+r.perNode),
		members: append(slices.Clone(r.members), id),
		perNode: r.perNode,
	}
	next.vnodes = append(next.vnodes, r.vnodes...)
	for i := 0; i < r.perNode; i++ {
		next.vnodes = append(next.vnodes, vnode{hash: vnodeHash(id, i), node: id})
	}
	next.sort()
	return next, nil
}

// without returns a copy of r excluding id.
func (r *Ring) without(id node.ID) (*Ring, error) {
	if !r.Has(id) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	next := &Ring{
		vnodes:  make([]vnode, 0, len(r.vnodes)),
		members: slices.DeleteFunc(slices.Clone(r.members), func(m node.ID) bool { return m == id }),
		perNode: r.perNode,
	}
	for _, v := range r.vnodes {
		if v.node != id {
			next.vnodes = append(next.vnodes, v)
		}
	}
	return next, nil
}

// sort orders positions by hash; equal hashes tie-break on node id.
func (r *Ring) sort() {
	slices.SortFunc(r.vnodes, func(a, b vnode) int {
		switch {
		case a.hash < b.hash:
			return -1
		case a.hash > b.hash:
			return 1
		case a.node < b.node:
			return -1
		case a.node > b.node:
			return 1
		}
		return 0
	})
	slices.Sort(r.members)
}

// arcs yields, for every vnode of id, the arc of hashes that vnode owns.
func (r *Ring) arcs(id node.ID, fn func(rg Range, at uint64)) {
	if len(r.vnodes) == 1 {
		fn(Range{Full: true}, r.vnodes[0].hash)
		return
	}
	for i, v := range r.vnodes {
		if v.node != id {
			continue
		}
		prev := r.vnodes[(i-1+len(r.vnodes))%len(r.vnodes)].hash
		if prev == v.hash {
			continue // shadowed by an equal position that sorts first
		}
		fn(Range{Start: prev, End: v.hash}, v.hash)
	}
}
