package shard

// EvictReason explains why an entry was removed.
type EvictReason int

const (
	// EvictPolicy: removed by the active eviction policy (e.g., LRU/LFU/2Q).
	EvictPolicy EvictReason = iota
	// EvictTTL: expired by TTL (lazily on access, on sweep, or to make room).
	EvictTTL
	// EvictCapacity: removed to satisfy the cost budget.
	EvictCapacity
)

func (r EvictReason) String() string {
	switch r {
	case EvictTTL:
		return "ttl"
	case EvictCapacity:
		return "capacity"
	default:
		return "policy"
	}
}

// Metrics exposes shard-level observability hooks.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	// Resize reports the change in resident entries and cost of one shard.
	// Summing the deltas of every shard yields the cache-wide totals.
	Resize(entries int, cost int64)
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                           {}
func (NoopMetrics) Miss()                          {}
func (NoopMetrics) Evict(EvictReason)              {}
func (NoopMetrics) Resize(entries int, cost int64) {}

var _ Metrics = NoopMetrics{}
