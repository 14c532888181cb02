package zmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IvanBrykalov/ringcache/codec"
	"github.com/IvanBrykalov/ringcache/node"
	"github.com/IvanBrykalov/ringcache/replication"
	"github.com/IvanBrykalov/ringcache/shard"
	"github.com/go-zeromq/zmq4"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultTimeout bounds one round trip when the caller's context has no
// earlier deadline.
const DefaultTimeout = 2 * time.Second

// ErrClientClosed is returned by calls on a closed Client.
var ErrClientClosed = errors.New("zmq: client closed")

// Client is a replication.Peer backed by a remote Server. Calls are
// serialized over a single REQ socket. A call that times out abandons the
// socket and the next call dials a fresh one, since REQ cannot skip a reply.
type Client[V any] struct {
	id       node.ID
	endpoint string
	codec    codec.Codec[V]
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex // one request in flight
	sock zmq4.Socket
}

var _ replication.Peer[string] = (*Client[string])(nil)

// NewClient returns a client for the node id served at endpoint. Nothing is
// dialed until the first call. A nil codec selects msgpack; timeout <= 0
// selects DefaultTimeout.
func NewClient[V any](id node.ID, endpoint string, c codec.Codec[V], timeout time.Duration) *Client[V] {
	if c == nil {
		c = codec.Msgpack[V]{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client[V]{id: id, endpoint: endpoint, codec: c, timeout: timeout, ctx: ctx, cancel: cancel}
}

func (c *Client[V]) ID() node.ID { return c.id }

// Close releases the socket. Further calls fail with ErrClientClosed.
func (c *Client[V]) Close() error {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sock != nil {
		err := c.sock.Close()
		c.sock = nil
		return err
	}
	return nil
}

func (c *Client[V]) Ping(ctx context.Context) error {
	_, err := c.roundTrip(ctx, request{Op: opPing})
	return err
}

func (c *Client[V]) Get(ctx context.Context, key string) (node.Entry[V], error) {
	return c.read(ctx, request{Op: opGet, Key: key})
}

func (c *Client[V]) Peek(ctx context.Context, key string) (node.Entry[V], error) {
	return c.read(ctx, request{Op: opPeek, Key: key})
}

func (c *Client[V]) read(ctx context.Context, req request) (node.Entry[V], error) {
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return node.Entry[V]{}, err
	}
	if resp.Entry == nil {
		return node.Entry[V]{}, fmt.Errorf("%w: read without entry", errBadRequest)
	}
	return decodeEntry(c.codec, *resp.Entry)
}

func (c *Client[V]) Write(ctx context.Context, w replication.Write[V]) (node.Mutation[V], error) {
	req := request{Op: opWrite, Kind: uint8(w.Kind), Key: w.Key, ExpiresAt: w.ExpiresAt, Cost: w.Cost}
	if w.Kind == shard.MutSet {
		b, err := c.codec.Encode(w.Value)
		if err != nil {
			return node.Mutation[V]{}, err
		}
		req.Value = b
	}
	resp, err := c.exchange(ctx, req)
	if err != nil {
		return node.Mutation[V]{}, err
	}
	rerr := resp.failure(c.id)
	if resp.Entry == nil {
		return node.Mutation[V]{}, rerr
	}
	m, err := decodeMutation(c.codec, *resp.Entry)
	if err != nil {
		return node.Mutation[V]{}, err
	}
	return m, rerr
}

func (c *Client[V]) Apply(ctx context.Context, m node.Mutation[V]) (bool, error) {
	w, err := encodeMutation(c.codec, m)
	if err != nil {
		return false, err
	}
	resp, err := c.roundTrip(ctx, request{
		Op: opApply, Kind: w.Kind, Key: w.Key, Value: w.Value,
		ExpiresAt: w.ExpiresAt, Cost: w.Cost, Version: w.Version,
	})
	if err != nil {
		return false, err
	}
	return resp.Applied, nil
}

func (c *Client[V]) Scan(ctx context.Context, fn func(node.Entry[V]) bool) error {
	resp, err := c.roundTrip(ctx, request{Op: opScan})
	if err != nil {
		return err
	}
	for _, w := range resp.Entries {
		e, err := decodeEntry(c.codec, w)
		if err != nil {
			return err
		}
		if !fn(e) {
			return nil
		}
	}
	return ctx.Err()
}

func (c *Client[V]) Sweep(ctx context.Context) (int, error) {
	resp, err := c.roundTrip(ctx, request{Op: opSweep})
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (c *Client[V]) Stats(ctx context.Context) (shard.Stats, error) {
	resp, err := c.roundTrip(ctx, request{Op: opStats})
	if err != nil {
		return shard.Stats{}, err
	}
	if resp.Stats == nil {
		return shard.Stats{}, nil
	}
	return shard.Stats{
		Entries:   resp.Stats.Entries,
		Cost:      resp.Stats.Cost,
		Hits:      resp.Stats.Hits,
		Misses:    resp.Stats.Misses,
		Evictions: resp.Stats.Evictions,
	}, nil
}

// roundTrip exchanges req and turns a remote error code into its sentinel.
func (c *Client[V]) roundTrip(ctx context.Context, req request) (response, error) {
	resp, err := c.exchange(ctx, req)
	if err != nil {
		return response{}, err
	}
	return resp, resp.failure(c.id)
}

// exchange performs one REQ/REP cycle. Transport failures and timeouts are
// reported as replication.ErrNodeUnreachable so the Manager retries them.
func (c *Client[V]) exchange(ctx context.Context, req request) (response, error) {
	if c.ctx.Err() != nil {
		return response{}, ErrClientClosed
	}
	frame, err := msgpack.Marshal(&req)
	if err != nil {
		return response{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	sock, fresh := c.sock, c.sock == nil
	if fresh {
		sock = zmq4.NewReq(c.ctx)
	}
	c.sock = nil // owned by this exchange until it completes

	type result struct {
		reply []byte
		err   error
	}
	done := make(chan result, 1)
	go func() {
		if fresh {
			if err := sock.Dial(c.endpoint); err != nil {
				done <- result{err: err}
				return
			}
		}
		if err := sock.Send(zmq4.NewMsg(frame)); err != nil {
			done <- result{err: err}
			return
		}
		msg, err := sock.Recv()
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{reply: msg.Bytes()}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			_ = sock.Close()
			return response{}, fmt.Errorf("%w: %s: %v", replication.ErrNodeUnreachable, c.id, r.err)
		}
		c.sock = sock
		var resp response
		if err := msgpack.Unmarshal(r.reply, &resp); err != nil {
			return response{}, fmt.Errorf("zmq: decode reply from %s: %w", c.id, err)
		}
		return resp, nil
	case <-callCtx.Done():
		_ = sock.Close() // unblocks the exchange goroutine
		if err := ctx.Err(); err != nil {
			return response{}, err
		}
		return response{}, fmt.Errorf("%w: %s: no reply within %s", replication.ErrNodeUnreachable, c.id, c.timeout)
	}
}
