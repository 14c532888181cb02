package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/IvanBrykalov/ringcache/replication"
	"github.com/IvanBrykalov/ringcache/ring"
	"github.com/IvanBrykalov/ringcache/shard"
)

// Errors returned by the cache. Match them with errors.Is.
var (
	ErrNotFound         = shard.ErrNotFound
	ErrExpired          = shard.ErrExpired
	ErrCapacityExceeded = shard.ErrCapacityExceeded

	ErrTopology      = ring.ErrTopology
	ErrDuplicateNode = ring.ErrDuplicateNode
	ErrUnknownNode   = ring.ErrUnknownNode

	ErrNodeUnreachable = replication.ErrNodeUnreachable
	ErrWriteConcern    = replication.ErrWriteConcern

	// ErrTimedOut means the deadline passed before the operation finished.
	// The outcome is unknown: a primary write may have been committed.
	ErrTimedOut = errors.New("cache: operation timed out")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("cache: closed")
	// ErrNoLoader is returned by GetOrLoad when no Loader was configured.
	ErrNoLoader = errors.New("cache: no Loader provided")
	// ErrIncompleteTransfer is returned by AddNode and RemoveNode when the
	// membership change took effect but moving data to or from the node
	// failed. Nodes reflects the change; the next resync completes the data.
	ErrIncompleteTransfer = errors.New("cache: membership changed, data transfer incomplete")
)

// timedOut rewrites err to ErrTimedOut when ctx's deadline caused it.
// Definite answers from a shard are passed through unchanged.
func timedOut(ctx context.Context, err error) error {
	if err == nil || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrCapacityExceeded) || errors.Is(err, ErrTopology) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTimedOut, ctx.Err())
}
