package replication

import (
	"errors"
	"fmt"
)

var (
	// ErrNodeUnreachable is returned when a peer cannot be contacted.
	ErrNodeUnreachable = errors.New("replication: node unreachable")
	// ErrWriteConcern is returned when a write committed on the primary but
	// too few replicas acknowledged it.
	ErrWriteConcern = fmt.Errorf("%w: write concern not met", ErrNodeUnreachable)
)
