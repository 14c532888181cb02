package util

import (
	"sync/atomic"
	"unsafe"
)

// CacheLineSize is 64 bytes, right for current x86-64 and most arm64 parts.
const CacheLineSize = 64

// CacheLinePad separates the lock-guarded part of a struct from counters
// that are updated without the lock.
type CacheLinePad struct{ _ [CacheLineSize]byte }

// PaddedAtomicInt64 occupies a whole cache line so neighbouring counters
// bumped by different goroutines do not false-share.
type PaddedAtomicInt64 struct {
	atomic.Int64
	_ [CacheLineSize - 8]byte
}

// PaddedAtomicUint64 is the unsigned counterpart.
type PaddedAtomicUint64 struct {
	atomic.Uint64
	_ [CacheLineSize - 8]byte
}

// Fails to compile if a padded counter is not exactly one line.
var (
	_ [CacheLineSize - int(unsafe.Sizeof(PaddedAtomicInt64{}))]byte
	_ [int(unsafe.Sizeof(PaddedAtomicInt64{})) - CacheLineSize]byte
	_ [CacheLineSize - int(unsafe.Sizeof(PaddedAtomicUint64{}))]byte
	_ [int(unsafe.Sizeof(PaddedAtomicUint64{})) - CacheLineSize]byte
)
