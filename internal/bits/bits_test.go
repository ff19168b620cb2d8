package bits

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"testing"
)

// Named seeds for deterministic reproduction.
const (
	testSeed1 = 0x1234567890ABCDEF
	testSeed2 = 0xFEDCBA9876543210
)

func newTestRNG(t testing.TB) *rand.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	s1 := binary.LittleEndian.Uint64(sum[:8])
	s2 := binary.LittleEndian.Uint64(sum[8:])
	return rand.New(rand.NewPCG(testSeed1^s1, testSeed2^s2))
}

func TestPrefixIndexByteOrder(t *testing.T) {
	b := []byte{0x01, 0x02, 0x03, 0x04, 0xFF}
	tests := []struct {
		n    int
		want uint64
	}{
		{1, 0x01},
		{2, 0x0102},
		{3, 0x010203},
		{4, 0x01020304},
	}
	for _, tt := range tests {
		if got := PrefixIndex(b, tt.n); got != tt.want {
			t.Fatalf("PrefixIndex(n=%d) = 0x%X, want 0x%X", tt.n, got, tt.want)
		}
	}
}

// TestPrefixIndexIgnoresSuffix verifies that bytes past the prefix never
// influence the index.
func TestPrefixIndexIgnoresSuffix(t *testing.T) {
	rng := newTestRNG(t)
	for i := 0; i < 1000; i++ {
		var a, b [8]byte
		binary.LittleEndian.PutUint64(a[:], rng.Uint64())
		b = a
		pos := 3 + rng.IntN(5)
		b[pos] ^= byte(1 + rng.IntN(255))
		if PrefixIndex(a[:], 3) != PrefixIndex(b[:], 3) {
			t.Fatalf("iter %d: changing byte %d altered the prefix index", i, pos)
		}
	}
}

func TestUint64BE(t *testing.T) {
	b := []byte{0x80, 0, 0, 0, 0, 0, 0, 0x01}
	if got := Uint64BE(b); got != 0x8000000000000001 {
		t.Fatalf("Uint64BE = 0x%X", got)
	}
}

func TestDistanceWraps(t *testing.T) {
	lo := []byte{0, 0, 0, 0, 0, 0, 0, 1}
	hi := []byte{0, 0, 0, 0, 0, 0, 0, 5}
	if got := Distance(lo, hi); got != 4 {
		t.Fatalf("Distance(lo, hi) = %d, want 4", got)
	}
	if got := Distance(hi, lo); got != math.MaxUint64-3 {
		t.Fatalf("Distance(hi, lo) = %d, want wraparound %d", got, uint64(math.MaxUint64-3))
	}
}

func TestLittleEndianRoundTrip(t *testing.T) {
	rng := newTestRNG(t)
	for n := 1; n <= 8; n++ {
		mask := uint64(math.MaxUint64)
		if n < 8 {
			mask = (uint64(1) << (8 * n)) - 1
		}
		for i := 0; i < 100; i++ {
			v := rng.Uint64() & mask
			buf := make([]byte, n)
			PutUintLE(buf, v, n)
			if got := UintLE(buf, n); got != v {
				t.Fatalf("n=%d: round trip 0x%X -> 0x%X", n, v, got)
			}
		}
	}
	buf := make([]byte, 4)
	PutUintLE(buf, 0x04030201, 4)
	if buf[0] != 0x01 || buf[3] != 0x04 {
		t.Fatalf("PutUintLE byte order: %x", buf)
	}
}

func TestIsZero(t *testing.T) {
	if !IsZero(make([]byte, 5)) {
		t.Fatal("zero slice reported non-zero")
	}
	if IsZero([]byte{0, 0, 1}) {
		t.Fatal("non-zero slice reported zero")
	}
}

func TestPowerOfTwoHelpers(t *testing.T) {
	tests := []struct {
		n           uint64
		floor, ceil uint64
	}{
		{0, 0, 1},
		{1, 1, 1},
		{2, 2, 2},
		{5, 4, 8},
		{8, 8, 8},
		{1 << 40, 1 << 40, 1 << 40},
	}
	for _, tt := range tests {
		if got := FloorPowerOfTwo(tt.n); got != tt.floor {
			t.Errorf("FloorPowerOfTwo(%d) = %d, want %d", tt.n, got, tt.floor)
		}
		if got := CeilPowerOfTwo(tt.n); got != tt.ceil {
			t.Errorf("CeilPowerOfTwo(%d) = %d, want %d", tt.n, got, tt.ceil)
		}
	}
	if CeilDiv(10, 3) != 4 || CeilDiv(9, 3) != 3 {
		t.Fatal("CeilDiv")
	}
}
