// Package prom exports cache and replication signals to Prometheus.
package prom

import (
	"github.com/IvanBrykalov/ringcache/cache"
	"github.com/prometheus/client_golang/prometheus"
)

// Adapter implements cache.Metrics on top of Prometheus collectors.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits     prometheus.Counter
	misses   prometheus.Counter
	evicts   *prometheus.CounterVec
	sizeEnt  prometheus.Gauge
	sizeCost prometheus.Gauge

	replicated *prometheus.CounterVec
	degraded   *prometheus.CounterVec
	recovered  *prometheus.CounterVec
	down       *prometheus.GaugeVec
	resynced   prometheus.Counter
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels}
	}
	gauge := func(name, help string) prometheus.GaugeOpts {
		return prometheus.GaugeOpts{Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: constLabels}
	}

	a := &Adapter{
		hits:     prometheus.NewCounter(counter("hits_total", "Cache hits")),
		misses:   prometheus.NewCounter(counter("misses_total", "Cache misses")),
		evicts:   prometheus.NewCounterVec(counter("evictions_total", "Cache evictions by reason"), []string{"reason"}),
		sizeEnt:  prometheus.NewGauge(gauge("size_entries", "Resident entries, replica copies included")),
		sizeCost: prometheus.NewGauge(gauge("size_cost", "Total resident cost")),

		replicated: prometheus.NewCounterVec(counter("replications_total", "Replica deliveries by outcome"), []string{"outcome"}),
		degraded:   prometheus.NewCounterVec(counter("node_degraded_total", "Transitions to Degraded"), []string{"node"}),
		recovered:  prometheus.NewCounterVec(counter("node_recovered_total", "Resyncs that returned a node to Healthy"), []string{"node"}),
		down:       prometheus.NewGaugeVec(gauge("node_degraded", "1 while a node is Degraded"), []string{"node"}),
		resynced:   prometheus.NewCounter(counter("resynced_entries_total", "Entries copied by resync and migration")),
	}
	reg.MustRegister(
		a.hits, a.misses, a.evicts, a.sizeEnt, a.sizeCost,
		a.replicated, a.degraded, a.recovered, a.down, a.resynced,
	)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// Evict increments the eviction counter with a reason label.
func (a *Adapter) Evict(r cache.EvictReason) {
	a.evicts.WithLabelValues(r.String()).Inc()
}

// Resize applies one shard's size delta to the gauges.
func (a *Adapter) Resize(entries int, cost int64) {
	a.sizeEnt.Add(float64(entries))
	a.sizeCost.Add(float64(cost))
}

func (a *Adapter) Replicated(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	a.replicated.WithLabelValues(outcome).Inc()
}

func (a *Adapter) Degraded(node string) {
	a.degraded.WithLabelValues(node).Inc()
	a.down.WithLabelValues(node).Set(1)
}

func (a *Adapter) Recovered(node string) {
	a.recovered.WithLabelValues(node).Inc()
	a.down.WithLabelValues(node).Set(0)
}

func (a *Adapter) Resynced(n int) { a.resynced.Add(float64(n)) }

var _ cache.Metrics = (*Adapter)(nil)
