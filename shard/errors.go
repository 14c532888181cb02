package shard

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports an absent key. It is an expected outcome, not a failure.
	ErrNotFound = errors.New("shard: key not found")
	// ErrExpired reports a key that was present but past its TTL. It wraps
	// ErrNotFound so callers that only care about presence can test for that.
	ErrExpired = fmt.Errorf("%w: expired", ErrNotFound)
	// ErrCapacityExceeded is returned when eviction could not free enough room.
	ErrCapacityExceeded = errors.New("shard: capacity exceeded")
)
