package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IvanBrykalov/ringcache/internal/singleflight"
	"github.com/IvanBrykalov/ringcache/node"
	"github.com/IvanBrykalov/ringcache/replication"
	"github.com/IvanBrykalov/ringcache/shard"
	"go.uber.org/zap"
)

// cache routes every call through a replication.Manager.
// All methods are safe for concurrent use by multiple goroutines.
type cache[V any] struct {
	opt    Options[V]
	mgr    *replication.Manager[V]
	log    *zap.Logger
	closed atomic.Bool

	// background sweepers of in-process nodes
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	release map[NodeID]func() // stops a node's sweeper or closes its client

	// singleflight group for coalescing concurrent loads in GetOrLoad.
	sf singleflight.Group[V]
}

// New constructs a cache and joins Options.Nodes in order.
// It panics if CapacityPerShard is not positive or EvictionPolicy is unknown.
func New[V any](opt Options[V]) (Cache[V], error) {
	opt.setDefaults()
	c := &cache[V]{
		opt:     opt,
		mgr:     replication.New[V](opt.replication()),
		log:     opt.Logger.Named("cache"),
		release: make(map[NodeID]func()),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	for _, id := range opt.Nodes {
		if err := c.AddNode(context.Background(), id); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *cache[V]) Get(ctx context.Context, key string) (V, error) {
	var zero V
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return zero, err
	}
	defer cancel()

	e, err := c.mgr.Read(ctx, key)
	if err != nil {
		return zero, timedOut(ctx, err)
	}
	return e.Value, nil
}

func (c *cache[V]) Set(ctx context.Context, key string, v V) error {
	return c.SetWithTTL(ctx, key, v, c.opt.DefaultTTL)
}

func (c *cache[V]) SetWithTTL(ctx context.Context, key string, v V, ttl time.Duration) error {
	var cost int64
	if c.opt.Cost != nil {
		cost = c.opt.Cost(v)
	}
	return c.write(ctx, replication.Write[V]{
		Kind:      shard.MutSet,
		Key:       key,
		Value:     v,
		ExpiresAt: c.deadline(ttl),
		Cost:      cost,
	})
}

func (c *cache[V]) Delete(ctx context.Context, key string) error {
	return c.write(ctx, replication.Write[V]{Kind: shard.MutDelete, Key: key})
}

func (c *cache[V]) Touch(ctx context.Context, key string, ttl time.Duration) error {
	return c.write(ctx, replication.Write[V]{Kind: shard.MutTouch, Key: key, ExpiresAt: c.deadline(ttl)})
}

func (c *cache[V]) write(ctx context.Context, w replication.Write[V]) error {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	_, err = c.mgr.Write(ctx, w)
	return timedOut(ctx, err)
}

// GetOrLoad returns the cached value or loads it once per key across
// concurrent callers. A loaded value that cannot be stored is still returned.
func (c *cache[V]) GetOrLoad(ctx context.Context, key string) (V, error) {
	v, err := c.Get(ctx, key)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return v, err
	}
	if c.opt.Loader == nil {
		var zero V
		return zero, ErrNoLoader
	}
	v, _, err = c.sf.Do(ctx, key, func(ctx context.Context) (V, error) {
		// A previous leader may have stored it between our miss and Do.
		if v, err := c.Get(ctx, key); err == nil {
			return v, nil
		}
		v, err := c.opt.Loader(ctx, key)
		if err != nil {
			return v, err
		}
		if err := c.Set(ctx, key, v); err != nil {
			c.log.Debug("store loaded value", zap.String("key", key), zap.Error(err))
		}
		return v, nil
	})
	return v, err
}

func (c *cache[V]) Invalidate(ctx context.Context, key string) error {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return timedOut(ctx, c.mgr.Invalidate(ctx, key))
}

func (c *cache[V]) AddNode(ctx context.Context, id NodeID) error {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	p, stop, err := c.connect(ctx, id)
	if err != nil {
		return timedOut(ctx, err)
	}
	err = c.mgr.Join(ctx, p)
	// A join that fails after the ring accepted the node keeps it a member
	// and reports ErrIncompleteTransfer.
	if joined, ok := c.mgr.Peer(id); !ok || joined != p {
		stop()
		return timedOut(ctx, err)
	}
	c.mu.Lock()
	c.release[id] = stop
	c.mu.Unlock()

	if err != nil {
		c.log.Warn("node added with incomplete data transfer", zap.String("node", string(id)), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrIncompleteTransfer, timedOut(ctx, err))
	}
	c.log.Info("node added", zap.String("node", string(id)), zap.Int("members", len(c.mgr.Nodes())))
	return nil
}

func (c *cache[V]) RemoveNode(ctx context.Context, id NodeID) error {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	err = c.mgr.Leave(ctx, id)
	if _, still := c.mgr.Peer(id); still {
		return timedOut(ctx, err)
	}
	c.mu.Lock()
	stop := c.release[id]
	delete(c.release, id)
	c.mu.Unlock()
	if stop != nil {
		stop()
	}

	if err != nil {
		c.log.Warn("node removed with incomplete handoff", zap.String("node", string(id)), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrIncompleteTransfer, timedOut(ctx, err))
	}
	c.log.Info("node removed", zap.String("node", string(id)), zap.Int("members", len(c.mgr.Nodes())))
	return nil
}

func (c *cache[V]) Sweep(ctx context.Context) int {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return 0
	}
	defer cancel()

	n, err := c.mgr.Sweep(ctx)
	if err != nil {
		c.log.Debug("sweep incomplete", zap.Error(err))
	}
	return n
}

func (c *cache[V]) Flush(ctx context.Context) error {
	ctx, cancel, err := c.begin(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return timedOut(ctx, c.mgr.Flush(ctx))
}

func (c *cache[V]) Len() int { return c.Stats().Entries }

func (c *cache[V]) Stats() Stats {
	ctx, cancel, err := c.begin(context.Background())
	if err != nil {
		return Stats{}
	}
	defer cancel()

	st, err := c.mgr.Stats(ctx)
	if err != nil {
		c.log.Debug("stats incomplete", zap.Error(err))
	}
	return st
}

func (c *cache[V]) Nodes() []NodeID { return c.mgr.Nodes() }

func (c *cache[V]) Health(id NodeID) (Health, error) { return c.mgr.Health(id) }

func (c *cache[V]) ShardState(id NodeID) (ShardState, error) { return c.mgr.ShardState(id) }

// Close stops replication workers and node sweepers and closes remote
// clients. It is idempotent.
func (c *cache[V]) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.mgr.Close()
	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	for id, stop := range c.release {
		stop()
		delete(c.release, id)
	}
	c.mu.Unlock()
	return err
}

// begin applies OpTimeout and rejects calls after Close.
func (c *cache[V]) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if c.closed.Load() {
		return ctx, func() {}, ErrClosed
	}
	if c.opt.OpTimeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, c.opt.OpTimeout)
		return ctx, cancel, nil
	}
	return ctx, func() {}, nil
}

// connect dials a remote node or builds an in-process one with its sweeper.
// The returned func releases whatever connect started.
func (c *cache[V]) connect(ctx context.Context, id NodeID) (replication.Peer[V], func(), error) {
	if c.opt.Dial != nil {
		p, err := c.opt.Dial(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("cache: dial %s: %w", id, err)
		}
		return p, func() {
			if cl, ok := p.(io.Closer); ok {
				_ = cl.Close()
			}
		}, nil
	}

	n := node.New[V](id, c.opt.NodeConfig())
	sctx, stop := context.WithCancel(c.ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		n.RunSweeper(sctx, c.opt.SweepInterval)
	}()
	return replication.NewLocalPeer(n), stop, nil
}

// deadline converts a relative ttl into an absolute UnixNano deadline.
func (c *cache[V]) deadline(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return c.now() + int64(ttl)
}

func (c *cache[V]) now() int64 {
	if c.opt.Clock != nil {
		return c.opt.Clock.NowUnixNano()
	}
	return time.Now().UnixNano()
}
