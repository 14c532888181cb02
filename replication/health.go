package replication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IvanBrykalov/ringcache/node"
	"github.com/IvanBrykalov/ringcache/ring"
	"github.com/IvanBrykalov/ringcache/shard"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func (m *Manager[V]) heartbeatLoop() {
	defer m.wg.Done()
	t := time.NewTicker(m.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-t.C:
			m.Heartbeat(m.ctx)
		}
	}
}

// Heartbeat runs one round: ping every member, degrade those that missed
// MaxMissedHeartbeats in a row, and resync the ones that came back.
func (m *Manager[V]) Heartbeat(ctx context.Context) {
	members := m.snapshot()
	back := make([]bool, len(members))

	var g errgroup.Group
	for i, mb := range members {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, m.pingTimeout())
			defer cancel()
			if err := mb.peer.Ping(pctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if int(mb.missed.Add(1)) >= m.cfg.MaxMissedHeartbeats {
					m.markDegraded(mb, err)
				}
				return nil
			}
			mb.missed.Store(0)
			back[i] = !mb.healthy() || mb.stale.Load()
			return nil
		})
	}
	_ = g.Wait()

	for i, mb := range members {
		if !back[i] || ctx.Err() != nil {
			continue
		}
		if _, err := m.Resync(ctx, mb.id); err != nil {
			m.log.Warn("resync failed", zap.String("node", string(mb.id)), zap.Error(err))
		}
	}
}

// Resync brings target up to date: it pulls every entry target is a replica
// for from the other healthy peers, drops copies the rest of the set no longer
// holds, and then marks target Healthy. It returns the number of entries copied.
func (m *Manager[V]) Resync(ctx context.Context, target node.ID) (int, error) {
	mb := m.member(target)
	if mb == nil {
		return 0, fmt.Errorf("%w: %s", ring.ErrUnknownNode, target)
	}
	mb.resync.Lock()
	defer mb.resync.Unlock()

	mb.syncing.Store(true)
	defer mb.syncing.Store(false)
	mb.stale.Store(false)

	rf := m.cfg.ReplicationFactor
	copied := 0
	for _, src := range m.snapshot() {
		if src == mb || !src.healthy() {
			continue
		}
		var applyErr error
		err := src.peer.Scan(ctx, func(e node.Entry[V]) bool {
			if !m.router.ReplicaSet(e.Key, rf).Contains(target) {
				return true
			}
			ok, err := mb.peer.Apply(ctx, SetMutation(e))
			if err != nil && !errors.Is(err, shard.ErrCapacityExceeded) {
				applyErr = err
				return false
			}
			if ok {
				copied++
			}
			return true
		})
		if applyErr != nil {
			return copied, fmt.Errorf("resync %s: %w", target, applyErr)
		}
		if err != nil {
			// A source dropping out only narrows what we can copy.
			m.log.Debug("resync source failed", zap.String("source", string(src.id)), zap.Error(err))
		}
	}

	dropped, err := m.prune(ctx, mb)
	if err != nil {
		return copied, fmt.Errorf("resync %s: %w", target, err)
	}

	m.cfg.Metrics.Resynced(copied)
	if mb.health.CompareAndSwap(int32(Degraded), int32(Healthy)) {
		mb.missed.Store(0)
		m.cfg.Metrics.Recovered(string(target))
		m.log.Info("node recovered",
			zap.String("node", string(target)),
			zap.Int("copied", copied),
			zap.Int("dropped", dropped))
		m.settleAll()
	}
	return copied, nil
}

// prune removes from mb the entries it no longer should hold: keys outside
// its replica sets, and keys the rest of the set has since deleted.
func (m *Manager[V]) prune(ctx context.Context, mb *member[V]) (int, error) {
	rf := m.cfg.ReplicationFactor
	var drop []node.Mutation[V]
	err := mb.peer.Scan(ctx, func(e node.Entry[V]) bool {
		set := m.router.ReplicaSet(e.Key, rf)
		if !set.Contains(mb.id) {
			drop = append(drop, dropMutation(e))
			return true
		}
		ref := m.reference(set, mb.id)
		if ref == nil {
			return true
		}
		if _, err := ref.peer.Peek(ctx, e.Key); errors.Is(err, shard.ErrNotFound) {
			drop = append(drop, dropMutation(e))
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	for _, d := range drop {
		if _, err := mb.peer.Apply(ctx, d); err != nil {
			return 0, err
		}
	}
	return len(drop), nil
}

// reference is the first healthy member of set other than skip.
func (m *Manager[V]) reference(set ring.ReplicaSet, skip node.ID) *member[V] {
	for _, id := range set {
		if id == skip {
			continue
		}
		if mb := m.member(id); mb != nil && mb.healthy() {
			return mb
		}
	}
	return nil
}

// settleAll clears StateDegraded once no member is Degraded.
func (m *Manager[V]) settleAll() {
	members := m.snapshot()
	for _, mb := range members {
		if !mb.healthy() {
			return
		}
	}
	for _, mb := range members {
		mb.state.CompareAndSwap(int32(StateDegraded), int32(StateStable))
	}
}

// dropMutation deletes exactly the copy e; any newer write survives it.
func dropMutation[V any](e node.Entry[V]) node.Mutation[V] {
	return node.Mutation[V]{Kind: shard.MutDelete, Key: e.Key, Version: e.Version + 1}
}
