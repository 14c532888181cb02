package replication

import (
	"context"
	"errors"
	"fmt"

	"github.com/IvanBrykalov/ringcache/node"
	"github.com/IvanBrykalov/ringcache/ring"
	"go.uber.org/zap"
)

// Migrate executes the data movement for ring migrations: entries hashing
// into each range are copied from the old owner to every member of their new
// replica set, and the old owner's copy is dropped when it no longer belongs
// to that set. When the old owner is unreachable the other healthy peers are
// used as sources. It returns the number of entries copied.
func (m *Manager[V]) Migrate(ctx context.Context, moves []ring.Migration) (int, error) {
	total := 0
	for _, mv := range moves {
		n, err := m.migrate(ctx, mv)
		total += n
		if err != nil {
			return total, fmt.Errorf("migrate %s %s->%s: %w", mv.Range, mv.From, mv.To, err)
		}
	}
	if len(moves) > 0 {
		m.cfg.Metrics.Resynced(total)
		m.log.Info("migration finished", zap.Int("ranges", len(moves)), zap.Int("copied", total))
	}
	return total, nil
}

func (m *Manager[V]) migrate(ctx context.Context, mv ring.Migration) (int, error) {
	var sources []*member[V]
	if src := m.member(mv.From); src != nil && src.healthy() {
		sources = []*member[V]{src}
	} else {
		for _, mb := range m.snapshot() {
			if mb.id != mv.To && mb.healthy() {
				sources = append(sources, mb)
			}
		}
	}

	copied := 0
	for _, src := range sources {
		n, err := m.push(ctx, src, func(e node.Entry[V]) bool {
			return mv.Range.Contains(ring.KeyHash(e.Key))
		}, src.id == mv.From)
		copied += n
		if err != nil {
			return copied, err
		}
	}
	return copied, nil
}

// handoff pushes every entry src holds to its current replica set.
func (m *Manager[V]) handoff(ctx context.Context, src *member[V]) (int, error) {
	return m.push(ctx, src, func(node.Entry[V]) bool { return true }, false)
}

// push copies the entries of src selected by match to the other members of
// their replica sets. With drop set, src's own copy is removed afterwards when
// src is still a ring member but no longer in the key's set.
func (m *Manager[V]) push(ctx context.Context, src *member[V], match func(node.Entry[V]) bool, drop bool) (int, error) {
	rf := m.cfg.ReplicationFactor
	drop = drop && m.router.Snapshot().Has(src.id)

	copied := 0
	var stale []node.Mutation[V]
	err := src.peer.Scan(ctx, func(e node.Entry[V]) bool {
		if !match(e) {
			return true
		}
		set := m.router.ReplicaSet(e.Key, rf)
		mut := SetMutation(e)
		for _, id := range set {
			if id == src.id {
				continue
			}
			t := m.member(id)
			if t == nil || !t.receives() {
				continue
			}
			ok, err := t.peer.Apply(ctx, mut)
			switch {
			case err == nil && ok:
				copied++
			case errors.Is(err, ErrNodeUnreachable):
				m.markDegraded(t, err)
			}
		}
		if drop && !set.Contains(src.id) {
			stale = append(stale, dropMutation(e))
		}
		return ctx.Err() == nil
	})
	if err != nil {
		return copied, err
	}
	for _, d := range stale {
		if _, err := src.peer.Apply(ctx, d); err != nil {
			return copied, err
		}
	}
	return copied, nil
}
