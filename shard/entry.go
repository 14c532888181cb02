package shard

// Entry is a snapshot of one cached item and its metadata.
// Shards hand out copies; mutating an Entry never affects the shard.
type Entry[K comparable, V any] struct {
	Key   K
	Value V

	// ExpiresAt is an absolute deadline in UnixNano. Zero means "no TTL".
	ExpiresAt int64

	// LastAccess (UnixNano) and AccessCount feed recency/frequency reporting.
	LastAccess  int64
	AccessCount uint64

	// Version increases strictly with every write of the key; replicas use it
	// for last-writer-wins conflict resolution.
	Version uint64

	// Cost is the logical weight charged against MaxCost.
	Cost int64
}

// Expired reports whether the entry is past its deadline at now.
func (e *Entry[K, V]) Expired(now int64) bool {
	return e.ExpiresAt != 0 && now > e.ExpiresAt
}

// MutationKind is the kind of a replicated write.
type MutationKind uint8

const (
	MutSet MutationKind = iota + 1
	MutDelete
	MutTouch
)

func (k MutationKind) String() string {
	switch k {
	case MutSet:
		return "set"
	case MutDelete:
		return "delete"
	case MutTouch:
		return "touch"
	default:
		return "unknown"
	}
}

// Mutation is a versioned write as shipped from a primary to its replicas.
type Mutation[K comparable, V any] struct {
	Kind      MutationKind
	Key       K
	Value     V
	ExpiresAt int64
	Version   uint64
	Cost      int64
}

// node is the resident form of an entry. hidx is its position in the expiry
// heap, or -1 when the entry has no TTL.
type node[K comparable, V any] struct {
	Entry[K, V]
	hidx int
}
