package replication

// Metrics receives replication signals. Implementations must be safe for
// concurrent use.
type Metrics interface {
	// Replicated is called once per replica delivery attempt outcome.
	Replicated(ok bool)
	// Degraded is called when a node leaves write-concern accounting.
	Degraded(node string)
	// Recovered is called when a Degraded node has been resynced.
	Recovered(node string)
	// Resynced reports how many entries a resync or migration copied.
	Resynced(n int)
}

// NoopMetrics is a Metrics that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Replicated(bool)  {}
func (NoopMetrics) Degraded(string)  {}
func (NoopMetrics) Recovered(string) {}
func (NoopMetrics) Resynced(int)     {}

var _ Metrics = NoopMetrics{}
