package replication

import (
	"context"

	"github.com/IvanBrykalov/ringcache/node"
	"go.uber.org/zap"
)

// task is one queued delivery, or a Flush barrier when barrier is non-nil.
type task[V any] struct {
	mut     node.Mutation[V]
	targets []*member[V]
	want    int // replicas in the set besides the primary
	barrier chan struct{}
}

// startQueue gives mb a bounded FIFO and a worker. One queue per primary
// keeps writes to the same key in commit order.
func (m *Manager[V]) startQueue(mb *member[V]) {
	mb.ctx, mb.stop = context.WithCancel(m.ctx)
	mb.q = make(chan task[V], m.cfg.QueueSize)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.drain(mb)
	}()
}

// enqueue never blocks. On overflow the targets miss this write and are
// flagged for resync instead.
func (m *Manager[V]) enqueue(primary *member[V], t task[V]) {
	primary.inflight.Add(1)
	select {
	case primary.q <- t:
	default:
		for _, r := range t.targets {
			r.stale.Store(true)
		}
		primary.state.Store(int32(StateDegraded))
		primary.inflight.Add(-1)
		m.cfg.Metrics.Replicated(false)
		m.log.Warn("propagation queue full, replicas scheduled for resync",
			zap.String("primary", string(primary.id)),
			zap.String("key", t.mut.Key),
			zap.Int("targets", len(t.targets)))
	}
}

func (m *Manager[V]) drain(mb *member[V]) {
	for {
		select {
		case <-mb.ctx.Done():
			return
		case t := <-mb.q:
			if t.barrier != nil {
				close(t.barrier)
				continue
			}
			acks := m.fanout(mb.ctx, t.mut, t.targets)
			m.settleShard(mb, acks == t.want)
			mb.inflight.Add(-1)
		}
	}
}

// Flush blocks until every write enqueued before the call has been delivered
// or ctx is done. It is a no-op in Sync mode.
func (m *Manager[V]) Flush(ctx context.Context) error {
	for _, mb := range m.snapshot() {
		if mb.q == nil {
			continue
		}
		b := make(chan struct{})
		select {
		case mb.q <- task[V]{barrier: b}:
		case <-mb.ctx.Done():
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case <-b:
		case <-mb.ctx.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
