package replication

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// WriteConcern is how many replica acknowledgements a synchronous write waits for.
type WriteConcern uint8

const (
	// Majority requires a majority of the healthy replicas (default).
	Majority WriteConcern = iota
	// PrimaryOnly returns once the primary committed.
	PrimaryOnly
	// All requires every replica of the set; Degraded replicas count as missing.
	All
)

func (w WriteConcern) String() string {
	switch w {
	case PrimaryOnly:
		return "primary"
	case Majority:
		return "majority"
	case All:
		return "all"
	}
	return fmt.Sprintf("WriteConcern(%d)", uint8(w))
}

// ParseWriteConcern accepts primary, majority or all.
func ParseWriteConcern(s string) (WriteConcern, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "majority":
		return Majority, nil
	case "primary", "primaryonly", "primary-only":
		return PrimaryOnly, nil
	case "all":
		return All, nil
	}
	return 0, fmt.Errorf("replication: unknown write concern %q", s)
}

// ReadMode selects which member of a replica set serves reads.
type ReadMode uint8

const (
	// ReadOwnWrite always reads the acting primary.
	ReadOwnWrite ReadMode = iota
	// ReadAnyReplica reads a random healthy member and may observe stale data.
	ReadAnyReplica
)

func (r ReadMode) String() string {
	if r == ReadAnyReplica {
		return "any"
	}
	return "own"
}

// ParseReadMode accepts own or any.
func ParseReadMode(s string) (ReadMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "own", "readownwrite", "read-own-write":
		return ReadOwnWrite, nil
	case "any", "readanyreplica", "read-any-replica":
		return ReadAnyReplica, nil
	}
	return 0, fmt.Errorf("replication: unknown read mode %q", s)
}

// Propagation selects how writes reach replicas.
type Propagation uint8

const (
	// Sync fans out inline; the caller waits for the write concern.
	Sync Propagation = iota
	// Async enqueues on the primary's queue and returns after the primary commit.
	Async
)

func (p Propagation) String() string {
	if p == Async {
		return "async"
	}
	return "sync"
}

// ParsePropagation accepts sync or async.
func ParsePropagation(s string) (Propagation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sync":
		return Sync, nil
	case "async":
		return Async, nil
	}
	return 0, fmt.Errorf("replication: unknown propagation %q", s)
}

// Config configures a Manager. Zero values pick the defaults noted per field.
type Config struct {
	ReplicationFactor int // default 1
	WriteConcern      WriteConcern
	ReadMode          ReadMode
	Propagation       Propagation

	VirtualNodes        int           // default ring.DefaultVirtualNodes
	HeartbeatInterval   time.Duration // default 1s; < 0 disables the loop
	MaxMissedHeartbeats int           // default 3
	RetryAttempts       int           // default 3; < 0 disables retries
	RetryBackoff        time.Duration // default 10ms
	QueueSize           int           // default 1024

	Metrics Metrics
	Logger  *zap.Logger
}

func (c *Config) setDefaults() {
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = 1
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = time.Second
	}
	if c.MaxMissedHeartbeats <= 0 {
		c.MaxMissedHeartbeats = 3
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 10 * time.Millisecond
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.Metrics == nil {
		c.Metrics = NoopMetrics{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}
