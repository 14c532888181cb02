package zmq

import (
	"errors"
	"fmt"

	"github.com/IvanBrykalov/ringcache/codec"
	"github.com/IvanBrykalov/ringcache/node"
	"github.com/IvanBrykalov/ringcache/shard"
)

type opcode uint8

const (
	opPing opcode = iota + 1
	opGet
	opWrite
	opApply
	opScan
	opSweep
	opStats
	opPeek
)

// request is one msgpack frame from client to server. Value holds the
// codec-encoded cache value.
type request struct {
	Op        opcode `msgpack:"op"`
	Kind      uint8  `msgpack:"kind,omitempty"`
	Key       string `msgpack:"key,omitempty"`
	Value     []byte `msgpack:"val,omitempty"`
	ExpiresAt int64  `msgpack:"exp,omitempty"`
	Cost      int64  `msgpack:"cost,omitempty"`
	Version   uint64 `msgpack:"ver,omitempty"`
}

type wireEntry struct {
	Kind        uint8  `msgpack:"kind,omitempty"`
	Key         string `msgpack:"key"`
	Value       []byte `msgpack:"val,omitempty"`
	ExpiresAt   int64  `msgpack:"exp,omitempty"`
	LastAccess  int64  `msgpack:"la,omitempty"`
	AccessCount uint64 `msgpack:"ac,omitempty"`
	Version     uint64 `msgpack:"ver"`
	Cost        int64  `msgpack:"cost,omitempty"`
}

type wireStats struct {
	Entries   int    `msgpack:"n"`
	Cost      int64  `msgpack:"cost"`
	Hits      int64  `msgpack:"hits"`
	Misses    int64  `msgpack:"misses"`
	Evictions uint64 `msgpack:"evictions"`
}

type response struct {
	Err     errCode     `msgpack:"err,omitempty"`
	Msg     string      `msgpack:"msg,omitempty"`
	Entry   *wireEntry  `msgpack:"entry,omitempty"`
	Entries []wireEntry `msgpack:"entries,omitempty"`
	Applied bool        `msgpack:"applied,omitempty"`
	Count   int         `msgpack:"count,omitempty"`
	Stats   *wireStats  `msgpack:"stats,omitempty"`
}

// errCode carries sentinel errors across the wire.
type errCode uint8

const (
	codeOK errCode = iota
	codeNotFound
	codeExpired
	codeCapacity
	codeBadRequest
	codeInternal
)

var errBadRequest = errors.New("zmq: bad request")

func codeOf(err error) errCode {
	switch {
	case err == nil:
		return codeOK
	case errors.Is(err, shard.ErrExpired):
		return codeExpired
	case errors.Is(err, shard.ErrNotFound):
		return codeNotFound
	case errors.Is(err, shard.ErrCapacityExceeded):
		return codeCapacity
	case errors.Is(err, errBadRequest), errors.Is(err, codec.ErrTooLarge):
		return codeBadRequest
	}
	return codeInternal
}

// failure rebuilds the error a server reported, as the same sentinel.
func (r *response) failure(peer node.ID) error {
	switch r.Err {
	case codeOK:
		return nil
	case codeNotFound:
		return shard.ErrNotFound
	case codeExpired:
		return shard.ErrExpired
	case codeCapacity:
		return shard.ErrCapacityExceeded
	case codeBadRequest:
		return fmt.Errorf("%w from %s: %s", errBadRequest, peer, r.Msg)
	}
	return fmt.Errorf("zmq: remote %s: %s", peer, r.Msg)
}

func fail(err error) response {
	return response{Err: codeOf(err), Msg: err.Error()}
}

func encodeEntry[V any](c codec.Codec[V], e node.Entry[V]) (wireEntry, error) {
	b, err := c.Encode(e.Value)
	if err != nil {
		return wireEntry{}, err
	}
	return wireEntry{
		Key:         e.Key,
		Value:       b,
		ExpiresAt:   e.ExpiresAt,
		LastAccess:  e.LastAccess,
		AccessCount: e.AccessCount,
		Version:     e.Version,
		Cost:        e.Cost,
	}, nil
}

func decodeEntry[V any](c codec.Codec[V], w wireEntry) (node.Entry[V], error) {
	v, err := decodeValue(c, w.Value)
	if err != nil {
		return node.Entry[V]{}, err
	}
	return node.Entry[V]{
		Key:         w.Key,
		Value:       v,
		ExpiresAt:   w.ExpiresAt,
		LastAccess:  w.LastAccess,
		AccessCount: w.AccessCount,
		Version:     w.Version,
		Cost:        w.Cost,
	}, nil
}

func encodeMutation[V any](c codec.Codec[V], m node.Mutation[V]) (wireEntry, error) {
	w := wireEntry{Kind: uint8(m.Kind), Key: m.Key, ExpiresAt: m.ExpiresAt, Version: m.Version, Cost: m.Cost}
	if m.Kind == shard.MutSet {
		b, err := c.Encode(m.Value)
		if err != nil {
			return wireEntry{}, err
		}
		w.Value = b
	}
	return w, nil
}

func decodeMutation[V any](c codec.Codec[V], w wireEntry) (node.Mutation[V], error) {
	m := node.Mutation[V]{
		Kind:      shard.MutationKind(w.Kind),
		Key:       w.Key,
		ExpiresAt: w.ExpiresAt,
		Version:   w.Version,
		Cost:      w.Cost,
	}
	if m.Kind == shard.MutSet {
		v, err := decodeValue(c, w.Value)
		if err != nil {
			return node.Mutation[V]{}, err
		}
		m.Value = v
	}
	return m, nil
}

// decodeValue maps an absent payload to the zero value.
func decodeValue[V any](c codec.Codec[V], b []byte) (V, error) {
	if len(b) == 0 {
		var zero V
		return zero, nil
	}
	return c.Decode(b)
}
