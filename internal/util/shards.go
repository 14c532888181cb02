package util

import (
	"math/bits"
	"runtime"
)

// MaxShards caps the automatic shard count of a node.
const MaxShards = 256

// NextPow2 returns the smallest power of two >= x, and 1 for x <= 1.
// Results beyond 1<<63 clamp to 1<<63.
func NextPow2(x uint64) uint64 {
	if x <= 1 {
		return 1
	}
	n := bits.Len64(x - 1)
	if n >= 64 {
		return 1 << 63
	}
	return 1 << n
}

// ShardCount normalises a configured shard count: n <= 0 picks
// 2*GOMAXPROCS, and the result is a power of two in [1, MaxShards] unless
// the caller asked for more explicitly.
func ShardCount(n int) int {
	if n > 0 {
		return int(NextPow2(uint64(n)))
	}
	auto := int(NextPow2(uint64(2 * max(runtime.GOMAXPROCS(0), 1))))
	return min(auto, MaxShards)
}

// ShardIndex maps a hash onto one of shards stripes. shards must be a power
// of two, as returned by ShardCount.
func ShardIndex(hash uint64, shards int) int {
	return int(hash & uint64(shards-1))
}
