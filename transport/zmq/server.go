// Package zmq serves cache nodes over ZeroMQ and lets a replication Manager
// reach them as peers. A Server binds a ROUTER socket in front of one node;
// a Client talks to it over REQ with one msgpack frame per call.
package zmq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"

	"github.com/IvanBrykalov/ringcache/codec"
	"github.com/IvanBrykalov/ringcache/node"
	"github.com/IvanBrykalov/ringcache/replication"
	"github.com/IvanBrykalov/ringcache/shard"
	"github.com/go-zeromq/zmq4"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// ErrServerRunning is returned by Start on a started server.
var ErrServerRunning = errors.New("zmq: server already running")

// Server exposes a node on a ZeroMQ endpoint. Requests are handled
// concurrently; the node's shards provide the serialization.
type Server[V any] struct {
	n     *node.Node[V]
	codec codec.Codec[V]
	log   *zap.Logger

	endpoint string
	ctx      context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex // guards sock and running
	sock    zmq4.Socket
	running bool
	sendMu  sync.Mutex // ROUTER sends are not concurrency safe
	wg      sync.WaitGroup
}

// NewServer prepares a server for n on endpoint, e.g. "tcp://127.0.0.1:7400".
// A nil codec selects msgpack.
func NewServer[V any](n *node.Node[V], endpoint string, c codec.Codec[V], logger *zap.Logger) *Server[V] {
	if c == nil {
		c = codec.Msgpack[V]{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server[V]{
		n:        n,
		codec:    c,
		log:      logger.Named("zmq").With(zap.String("node", string(n.ID()))),
		endpoint: endpoint,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start binds the endpoint and begins serving.
func (s *Server[V]) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrServerRunning
	}
	sock := zmq4.NewRouter(s.ctx, zmq4.WithID(zmq4.SocketIdentity(s.n.ID())))
	if err := sock.Listen(s.endpoint); err != nil {
		_ = sock.Close()
		return fmt.Errorf("zmq: listen %s: %w", s.endpoint, err)
	}
	s.sock = sock
	s.running = true

	s.wg.Add(1)
	go s.recvLoop(sock)
	s.log.Info("serving", zap.Stringer("addr", sock.Addr()))
	return nil
}

// Endpoint returns the bound endpoint; with port 0 it carries the real port.
func (s *Server[V]) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sock != nil {
		if a, ok := s.sock.Addr().(*net.TCPAddr); ok {
			return "tcp://" + a.String()
		}
	}
	return s.endpoint
}

// Stop closes the socket and waits for in-flight requests.
func (s *Server[V]) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	_ = s.sock.Close() // errors are expected while tearing down
	s.wg.Wait()
	s.log.Info("stopped")
}

func (s *Server[V]) recvLoop(sock zmq4.Socket) {
	defer s.wg.Done()
	for {
		msg, err := sock.Recv()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.log.Debug("recv failed", zap.Error(err))
			continue
		}
		if len(msg.Frames) == 0 {
			continue
		}
		s.wg.Add(1)
		go func(frames [][]byte) {
			defer s.wg.Done()
			s.serve(sock, frames)
		}(msg.Frames)
	}
}

// serve answers one request. The routing envelope (every frame but the last)
// is echoed back in front of the reply.
func (s *Server[V]) serve(sock zmq4.Socket, frames [][]byte) {
	var resp response
	var req request
	if err := msgpack.Unmarshal(frames[len(frames)-1], &req); err != nil {
		resp = fail(fmt.Errorf("%w: %v", errBadRequest, err))
	} else {
		resp = s.handle(req)
	}
	out, err := msgpack.Marshal(&resp)
	if err != nil {
		s.log.Error("encode response", zap.Error(err))
		out, _ = msgpack.Marshal(&response{Err: codeInternal, Msg: err.Error()})
	}
	reply := append(slices.Clone(frames[:len(frames)-1]), out)

	s.sendMu.Lock()
	err = sock.Send(zmq4.NewMsgFrom(reply...))
	s.sendMu.Unlock()
	if err != nil && s.ctx.Err() == nil {
		s.log.Debug("send failed", zap.Error(err))
	}
}

func (s *Server[V]) handle(req request) response {
	switch req.Op {
	case opPing:
		return response{}

	case opGet, opPeek:
		read := s.n.Get
		if req.Op == opPeek {
			read = s.n.Peek
		}
		e, err := read(req.Key)
		if err != nil {
			return fail(err)
		}
		w, err := encodeEntry(s.codec, e)
		if err != nil {
			return fail(err)
		}
		return response{Entry: &w}

	case opWrite:
		v, err := decodeValue(s.codec, req.Value)
		if err != nil {
			return fail(fmt.Errorf("%w: %v", errBadRequest, err))
		}
		mut, cerr := replication.Commit(s.n, replication.Write[V]{
			Kind:      shard.MutationKind(req.Kind),
			Key:       req.Key,
			Value:     v,
			ExpiresAt: req.ExpiresAt,
			Cost:      req.Cost,
		})
		if mut.Version == 0 {
			return fail(cerr)
		}
		w, err := encodeMutation(s.codec, mut)
		if err != nil {
			return fail(err)
		}
		resp := response{Entry: &w}
		if cerr != nil {
			// a missed delete still ships its version
			resp.Err, resp.Msg = codeOf(cerr), cerr.Error()
		}
		return resp

	case opApply:
		m, err := decodeMutation(s.codec, wireEntry{
			Kind: req.Kind, Key: req.Key, Value: req.Value,
			ExpiresAt: req.ExpiresAt, Version: req.Version, Cost: req.Cost,
		})
		if err != nil {
			return fail(fmt.Errorf("%w: %v", errBadRequest, err))
		}
		ok, err := s.n.Apply(m)
		if err != nil {
			return fail(err)
		}
		return response{Applied: ok}

	case opScan:
		var (
			out  []wireEntry
			eerr error
		)
		s.n.Scan(func(e node.Entry[V]) bool {
			w, err := encodeEntry(s.codec, e)
			if err != nil {
				eerr = err
				return false
			}
			out = append(out, w)
			return true
		})
		if eerr != nil {
			return fail(eerr)
		}
		return response{Entries: out}

	case opSweep:
		return response{Count: s.n.Sweep()}

	case opStats:
		st := s.n.Stats()
		return response{Stats: &wireStats{
			Entries: st.Entries, Cost: st.Cost, Hits: st.Hits, Misses: st.Misses, Evictions: st.Evictions,
		}}
	}
	return fail(fmt.Errorf("%w: unknown op %d", errBadRequest, req.Op))
}
