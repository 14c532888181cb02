// Package policy defines the pluggable eviction strategy used by shards.
package policy

import (
	"fmt"
	"strings"
)

// ShardPolicy is a per-shard eviction policy instance.
// All methods are invoked under the shard lock, so implementations need no
// synchronization of their own.
//
// Semantics:
//   - OnInsert admits a key that was just stored.
//   - OnAccess records a read or an in-place refresh (e.g., Touch).
//   - OnRemove drops policy state for a key; the shard owns actual deletion.
//   - Victim proposes the next key to evict without removing it. ok=false means
//     the policy has nothing to offer and the write must be rejected.
type ShardPolicy[K comparable] interface {
	OnInsert(k K)
	OnAccess(k K)
	OnRemove(k K)
	Victim() (k K, ok bool)
}

// Policy is a factory that creates shard-local policy instances.
type Policy[K comparable] interface {
	New() ShardPolicy[K]
}

// Kind names a built-in policy. It is what configuration files refer to.
type Kind string

const (
	KindLRU     Kind = "lru"
	KindLFU     Kind = "lfu"
	KindTTLOnly Kind = "ttl"
	KindTwoQ    Kind = "2q"
)

// ParseKind maps a configuration string to a Kind. The empty string is LRU.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindLRU, nil
	case KindLRU, KindLFU, KindTTLOnly, KindTwoQ:
		return k, nil
	case "ttlonly", "ttl-only":
		return KindTTLOnly, nil
	}
	return "", fmt.Errorf("policy: unknown kind %q", s)
}
