package cache

import (
	"github.com/IvanBrykalov/ringcache/replication"
	"github.com/IvanBrykalov/ringcache/shard"
)

// Metrics exposes cache-level observability hooks: shard signals
// (Hit/Miss/Evict/Resize) and replication signals
// (Replicated/Degraded/Recovered/Resynced).
//
// Resize deltas are reported by every shard of every in-process node, so
// their running sum counts replica copies too.
type Metrics interface {
	shard.Metrics
	replication.Metrics
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
// It is the default when no observability backend is configured.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                           {}
func (NoopMetrics) Miss()                          {}
func (NoopMetrics) Evict(EvictReason)              {}
func (NoopMetrics) Resize(entries int, cost int64) {}
func (NoopMetrics) Replicated(bool)                {}
func (NoopMetrics) Degraded(string)                {}
func (NoopMetrics) Recovered(string)               {}
func (NoopMetrics) Resynced(int)                   {}

var _ Metrics = NoopMetrics{}
