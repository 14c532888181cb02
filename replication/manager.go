// Package replication keeps the members of each replica set in step.
//
// The Manager owns cluster membership (the ring Router plus one Peer per node),
// pushes every primary write to the rest of the key's replica set, tracks peer
// health from heartbeats and delivery failures, and moves data when the ring
// changes. Replicas apply writes only when the incoming version is newer, so
// re-delivery is harmless and stale delivery is rejected.
package replication

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/ringcache/node"
	"github.com/IvanBrykalov/ringcache/ring"
	"github.com/IvanBrykalov/ringcache/shard"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Health is a peer's standing in write-concern accounting.
type Health int32

const (
	Healthy Health = iota
	// Degraded peers are skipped by reads and writes until resynced.
	Degraded
)

func (h Health) String() string {
	if h == Degraded {
		return "degraded"
	}
	return "healthy"
}

// ShardState is the propagation state of the ring shard a node is primary for.
type ShardState int32

const (
	StateStable ShardState = iota
	StatePropagating
	StateDegraded
)

func (s ShardState) String() string {
	switch s {
	case StatePropagating:
		return "propagating"
	case StateDegraded:
		return "degraded"
	}
	return "stable"
}

type member[V any] struct {
	id   node.ID
	peer Peer[V]

	health   atomic.Int32 // Health
	missed   atomic.Int32 // consecutive failed heartbeats
	syncing  atomic.Bool  // receives writes while catching up, not counted
	stale    atomic.Bool  // missed deliveries; resync on next heartbeat
	inflight atomic.Int32 // writes this node is propagating as primary
	state    atomic.Int32 // last settled ShardState

	resync sync.Mutex

	// async propagation; nil in Sync mode
	q    chan task[V]
	ctx  context.Context
	stop context.CancelFunc
}

func (mb *member[V]) healthy() bool { return Health(mb.health.Load()) == Healthy }

// receives reports whether writes should be delivered to the member.
func (mb *member[V]) receives() bool { return mb.healthy() || mb.syncing.Load() }

// Manager coordinates replica sets over a set of peers.
type Manager[V any] struct {
	cfg    Config
	router *ring.Router
	log    *zap.Logger

	mu      sync.RWMutex
	members map[node.ID]*member[V]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New starts a Manager with no members. The heartbeat loop runs until Close.
func New[V any](cfg Config) *Manager[V] {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager[V]{
		cfg:     cfg,
		router:  ring.NewRouter(cfg.VirtualNodes, cfg.Logger.Named("ring")),
		log:     cfg.Logger.Named("replication"),
		members: make(map[node.ID]*member[V]),
		ctx:     ctx,
		cancel:  cancel,
	}
	if cfg.HeartbeatInterval > 0 {
		m.wg.Add(1)
		go m.heartbeatLoop()
	}
	return m
}

// Router exposes the ring the Manager routes with.
func (m *Manager[V]) Router() *ring.Router { return m.router }

// Config returns the effective configuration.
func (m *Manager[V]) Config() Config { return m.cfg }

// Nodes returns the ring members.
func (m *Manager[V]) Nodes() []node.ID { return m.router.Nodes() }

// Peer returns the peer registered under id.
func (m *Manager[V]) Peer(id node.ID) (Peer[V], bool) {
	mb := m.member(id)
	if mb == nil {
		return nil, false
	}
	return mb.peer, true
}

// Health returns the health of id.
func (m *Manager[V]) Health(id node.ID) (Health, error) {
	mb := m.member(id)
	if mb == nil {
		return 0, fmt.Errorf("%w: %s", ring.ErrUnknownNode, id)
	}
	return Health(mb.health.Load()), nil
}

// ShardState returns the state of the shard id is primary for.
func (m *Manager[V]) ShardState(id node.ID) (ShardState, error) {
	mb := m.member(id)
	if mb == nil {
		return 0, fmt.Errorf("%w: %s", ring.ErrUnknownNode, id)
	}
	if mb.inflight.Load() > 0 {
		return StatePropagating, nil
	}
	return ShardState(mb.state.Load()), nil
}

// Join adds p to the cluster and moves to it the data it now owns.
func (m *Manager[V]) Join(ctx context.Context, p Peer[V]) error {
	id := p.ID()
	mb := &member[V]{id: id, peer: p}

	m.mu.Lock()
	if _, dup := m.members[id]; dup {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ring.ErrDuplicateNode, id)
	}
	if m.cfg.Propagation == Async {
		m.startQueue(mb)
	}
	m.members[id] = mb
	m.mu.Unlock()

	moves, err := m.router.AddNode(id)
	if err != nil {
		m.forget(id)
		return err
	}
	if _, err := m.Migrate(ctx, moves); err != nil {
		return fmt.Errorf("replication: join %s: %w", id, err)
	}
	if m.cfg.ReplicationFactor > 1 && len(m.router.Nodes()) > 1 {
		if _, err := m.Resync(ctx, id); err != nil {
			return fmt.Errorf("replication: join %s: %w", id, err)
		}
	}
	return nil
}

// Leave removes id from the ring, hands its data to the new owners and
// forgets the peer. Removing the last node is a topology error.
func (m *Manager[V]) Leave(ctx context.Context, id node.ID) error {
	mb := m.member(id)
	if mb == nil {
		return fmt.Errorf("%w: %s", ring.ErrUnknownNode, id)
	}
	moves, err := m.router.RemoveNode(id)
	if err != nil {
		return err
	}
	defer m.forget(id)

	if _, err := m.Migrate(ctx, moves); err != nil {
		return fmt.Errorf("replication: leave %s: %w", id, err)
	}
	if m.cfg.ReplicationFactor > 1 && mb.healthy() {
		// The leaving node also held replica copies for arcs it was not
		// primary of; their sets gained a member that lacks the data.
		if _, err := m.handoff(ctx, mb); err != nil {
			return fmt.Errorf("replication: leave %s: %w", id, err)
		}
	}
	return nil
}

// Write commits w on the acting primary of w.Key and propagates the resulting
// mutation. A committed write is never rolled back: when replicas fall short
// of the write concern the error is ErrWriteConcern but the primary keeps it.
func (m *Manager[V]) Write(ctx context.Context, w Write[V]) (node.Mutation[V], error) {
	if m.closed.Load() {
		return node.Mutation[V]{}, fmt.Errorf("%w: manager closed", ErrNodeUnreachable)
	}
	set := m.router.ReplicaSet(w.Key, m.cfg.ReplicationFactor)
	if len(set) == 0 {
		return node.Mutation[V]{}, ring.ErrEmptyRing
	}

	var (
		mut     node.Mutation[V]
		err     error
		primary *member[V]
	)
	for _, id := range set {
		mb := m.member(id)
		if mb == nil || !mb.healthy() {
			continue
		}
		err = m.retry(ctx, func() error {
			var werr error
			mut, werr = mb.peer.Write(ctx, w)
			return werr
		})
		if errors.Is(err, ErrNodeUnreachable) && ctx.Err() == nil {
			m.markDegraded(mb, err)
			continue
		}
		primary = mb
		break
	}
	if primary == nil {
		if err == nil {
			err = fmt.Errorf("%w: no healthy member for key %q", ErrNodeUnreachable, w.Key)
		}
		return mut, err
	}

	// A delete that missed on the primary still carries a version; ship it so
	// replicas holding an older copy converge.
	missedDelete := w.Kind == shard.MutDelete && mut.Version != 0 && errors.Is(err, shard.ErrNotFound)
	if err != nil && !missedDelete {
		return mut, err
	}
	perr := m.propagate(ctx, primary, set, mut)
	if err != nil {
		return mut, err
	}
	return mut, perr
}

// Read serves key according to the configured ReadMode. In ReadAnyReplica
// mode a miss on a non-primary member falls back to the acting primary.
func (m *Manager[V]) Read(ctx context.Context, key string) (node.Entry[V], error) {
	set := m.router.ReplicaSet(key, m.cfg.ReplicationFactor)
	if len(set) == 0 {
		return node.Entry[V]{}, ring.ErrEmptyRing
	}
	healthy := make([]*member[V], 0, len(set))
	for _, id := range set {
		if mb := m.member(id); mb != nil && mb.healthy() {
			healthy = append(healthy, mb)
		}
	}
	if len(healthy) == 0 {
		return node.Entry[V]{}, fmt.Errorf("%w: no healthy member for key %q", ErrNodeUnreachable, key)
	}

	if m.cfg.ReadMode == ReadAnyReplica && len(healthy) > 1 {
		pick := healthy[rand.IntN(len(healthy))]
		e, err := pick.peer.Get(ctx, key)
		if err == nil || pick == healthy[0] || ctx.Err() != nil {
			return e, err
		}
	}

	var err error
	for _, mb := range healthy {
		var e node.Entry[V]
		e, err = mb.peer.Get(ctx, key)
		if errors.Is(err, ErrNodeUnreachable) && ctx.Err() == nil {
			continue
		}
		return e, err
	}
	return node.Entry[V]{}, err
}

// Invalidate deletes key on its replica set and then broadcasts the delete to
// every healthy node, dropping copies left behind by earlier topology changes.
func (m *Manager[V]) Invalidate(ctx context.Context, key string) error {
	mut, err := m.Write(ctx, Write[V]{Kind: shard.MutDelete, Key: key})
	if errors.Is(err, shard.ErrNotFound) {
		err = nil
	}
	if mut.Version == 0 {
		return err
	}
	berr := m.Broadcast(ctx, func(ctx context.Context, p Peer[V]) error {
		_, aerr := p.Apply(ctx, mut)
		return aerr
	})
	return errors.Join(err, berr)
}

// Broadcast runs fn against every healthy peer concurrently.
func (m *Manager[V]) Broadcast(ctx context.Context, fn func(context.Context, Peer[V]) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, mb := range m.snapshot() {
		if !mb.healthy() {
			continue
		}
		g.Go(func() error {
			if err := fn(gctx, mb.peer); err != nil {
				return fmt.Errorf("%s: %w", mb.id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Sweep runs one TTL sweep on every healthy node.
func (m *Manager[V]) Sweep(ctx context.Context) (int, error) {
	var total atomic.Int64
	err := m.Broadcast(ctx, func(ctx context.Context, p Peer[V]) error {
		n, err := p.Sweep(ctx)
		total.Add(int64(n))
		return err
	})
	return int(total.Load()), err
}

// Stats sums the counters of every healthy node, replicas included.
func (m *Manager[V]) Stats(ctx context.Context) (shard.Stats, error) {
	var (
		mu  sync.Mutex
		out shard.Stats
	)
	err := m.Broadcast(ctx, func(ctx context.Context, p Peer[V]) error {
		st, err := p.Stats(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		out.Entries += st.Entries
		out.Cost += st.Cost
		out.Hits += st.Hits
		out.Misses += st.Misses
		out.Evictions += st.Evictions
		mu.Unlock()
		return nil
	})
	return out, err
}

// Close stops the heartbeat loop and the propagation workers. Queued async
// deliveries that have not run are dropped.
func (m *Manager[V]) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.cancel()
	m.wg.Wait()
	return nil
}

// -------------------- propagation --------------------

// propagate ships mut from primary to the rest of set and enforces the write
// concern in Sync mode.
func (m *Manager[V]) propagate(ctx context.Context, primary *member[V], set ring.ReplicaSet, mut node.Mutation[V]) error {
	replicas := len(set) - 1
	targets := make([]*member[V], 0, replicas)
	healthy := 0
	for _, id := range set {
		if id == primary.id {
			continue
		}
		mb := m.member(id)
		if mb == nil || !mb.receives() {
			continue
		}
		targets = append(targets, mb)
		if mb.healthy() {
			healthy++
		}
	}

	if m.cfg.Propagation == Async {
		if len(targets) == 0 {
			m.settleShard(primary, healthy == replicas)
			return nil
		}
		m.enqueue(primary, task[V]{mut: mut, targets: targets, want: replicas})
		return nil
	}

	var need int
	switch m.cfg.WriteConcern {
	case PrimaryOnly:
		need = 0
	case Majority:
		if healthy > 0 {
			need = healthy/2 + 1
		}
	case All:
		need = replicas
	}

	primary.inflight.Add(1)
	acks := m.fanout(ctx, mut, targets)
	m.settleShard(primary, acks == replicas)
	primary.inflight.Add(-1)

	if acks < need {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w: %d of %d replica acks for key %q", ErrWriteConcern, acks, need, mut.Key)
	}
	return nil
}

// fanout delivers mut to every target concurrently and returns the ack count.
func (m *Manager[V]) fanout(ctx context.Context, mut node.Mutation[V], targets []*member[V]) int {
	var (
		g    errgroup.Group
		acks atomic.Int32
	)
	for _, t := range targets {
		g.Go(func() error {
			if m.deliver(ctx, t, mut) {
				acks.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(acks.Load())
}

// deliver applies mut on t with retries. Exhausted retries mark t Degraded;
// any other failure marks it stale.
func (m *Manager[V]) deliver(ctx context.Context, t *member[V], mut node.Mutation[V]) bool {
	err := m.retry(ctx, func() error {
		_, err := t.peer.Apply(ctx, mut)
		return err
	})
	ok := err == nil || errors.Is(err, shard.ErrNotFound)
	switch {
	case ok:
	case errors.Is(err, ErrNodeUnreachable):
		m.markDegraded(t, err)
	default:
		// The primary has committed; a replica left behind is resynced on the
		// next heartbeat.
		t.stale.Store(true)
		m.log.Warn("replica missed mutation",
			zap.String("node", string(t.id)),
			zap.String("key", mut.Key),
			zap.Error(err))
	}
	m.cfg.Metrics.Replicated(ok)
	return ok
}

// retry runs op with exponential backoff while it fails with ErrNodeUnreachable.
func (m *Manager[V]) retry(ctx context.Context, op func() error) error {
	if m.cfg.RetryAttempts < 0 {
		return op()
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = m.cfg.RetryBackoff
	eb.MaxInterval = 20 * m.cfg.RetryBackoff
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(m.cfg.RetryAttempts)), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !errors.Is(err, ErrNodeUnreachable) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func (m *Manager[V]) settleShard(primary *member[V], complete bool) {
	if complete {
		primary.state.Store(int32(StateStable))
	} else {
		primary.state.Store(int32(StateDegraded))
	}
}

// -------------------- membership --------------------

func (m *Manager[V]) member(id node.ID) *member[V] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.members[id]
}

// snapshot returns the members ordered by id.
func (m *Manager[V]) snapshot() []*member[V] {
	m.mu.RLock()
	out := make([]*member[V], 0, len(m.members))
	for _, mb := range m.members {
		out = append(out, mb)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b *member[V]) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	return out
}

func (m *Manager[V]) forget(id node.ID) {
	m.mu.Lock()
	mb := m.members[id]
	delete(m.members, id)
	m.mu.Unlock()
	if mb != nil && mb.stop != nil {
		mb.stop()
	}
}

func (m *Manager[V]) markDegraded(mb *member[V], cause error) {
	if !mb.health.CompareAndSwap(int32(Healthy), int32(Degraded)) {
		return
	}
	m.log.Warn("node degraded",
		zap.String("node", string(mb.id)),
		zap.Int32("missed_heartbeats", mb.missed.Load()),
		zap.Error(cause))
	m.cfg.Metrics.Degraded(string(mb.id))
}

func (m *Manager[V]) pingTimeout() time.Duration {
	if m.cfg.HeartbeatInterval > 0 {
		return m.cfg.HeartbeatInterval
	}
	return time.Second
}
