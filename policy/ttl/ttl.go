// Package ttl implements the TTL-only policy: entries leave the cache only by
// expiry, so capacity overflow rejects the write unless a fallback is set.
package ttl

import "github.com/IvanBrykalov/ringcache/policy"

type ttlPolicy[K comparable] struct {
	fallback policy.Policy[K]
}

// New returns a TTL-only Policy factory. A nil fallback makes Victim always
// report nothing; otherwise victim selection is delegated to the fallback.
func New[K comparable](fallback policy.Policy[K]) policy.Policy[K] {
	return ttlPolicy[K]{fallback: fallback}
}

func (p ttlPolicy[K]) New() policy.ShardPolicy[K] {
	if p.fallback != nil {
		return p.fallback.New()
	}
	return none[K]{}
}

// none tracks nothing. Expired entries are reclaimed by the shard itself.
type none[K comparable] struct{}

func (none[K]) OnInsert(K) {}
func (none[K]) OnAccess(K) {}
func (none[K]) OnRemove(K) {}
func (none[K]) Victim() (K, bool) {
	var zero K
	return zero, false
}
