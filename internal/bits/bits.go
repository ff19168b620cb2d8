// Package bits provides the fixed byte-order conversions used for bucket
// placement and digest distance, plus power-of-two sizing helpers.
//
// All conversions are big-endian by construction and never depend on the
// host byte order.
package bits

import (
	"encoding/binary"
	"math/bits"
)

// PrefixIndex interprets the first n bytes of b as a big-endian unsigned
// integer. n must be in [1, 8] and len(b) >= n.
func PrefixIndex(b []byte, n int) uint64 {
	_ = b[n-1]
	var v uint64
	for i := 0; i < n; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// Uint64BE reads the first 8 bytes of b as a big-endian uint64.
func Uint64BE(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

// Distance returns Uint64BE(next) - Uint64BE(prev) using wrapping unsigned
// arithmetic. For prev <= next in byte order the result is the numeric gap;
// otherwise it wraps to a large value.
func Distance(prev, next []byte) uint64 {
	return Uint64BE(next) - Uint64BE(prev)
}

// IsZero reports whether every byte of b is zero.
func IsZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// PutUintLE writes the low n bytes of v into dst in little-endian order.
func PutUintLE(dst []byte, v uint64, n int) {
	_ = dst[n-1]
	for i := 0; i < n; i++ {
		dst[i] = byte(v >> (8 * i))
	}
}

// UintLE reads n little-endian bytes from src.
func UintLE(src []byte, n int) uint64 {
	_ = src[n-1]
	var v uint64
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(src[i])
	}
	return v
}

// FloorPowerOfTwo returns the largest power of two <= n, or 0 for n == 0.
func FloorPowerOfTwo(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	return uint64(1) << (bits.Len64(n) - 1)
}

// CeilPowerOfTwo returns the smallest power of two >= n (1 for n == 0).
func CeilPowerOfTwo(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	return uint64(1) << bits.Len64(n-1)
}

// CeilDiv returns ceil(a / b). b must be non-zero.
func CeilDiv(a, b uint64) uint64 {
	return (a + b - 1) / b
}
