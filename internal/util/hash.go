// Package util contains internal helpers for striping keys across shards.
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

const (
	fnvOffset64 = 14695981039346656037
	fnvPrime64  = 1099511628211
)

// StripeHash hashes a key with 64-bit FNV-1a to pick its shard inside a node.
// The ring places keys with xxhash; using an unrelated hash here keeps the
// keys one node owns spread evenly over its shards.
//
// FNV's low bits only see the low bits of each byte, and ShardIndex masks
// the low bits, so the result goes through a murmur3 finalizer.
func StripeHash(key string) uint64 {
	h := uint64(fnvOffset64)
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= fnvPrime64
	}
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	return h
}
