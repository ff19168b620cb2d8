package vaultx

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	intbits "github.com/tamirms/vaultx/internal/bits"
)

// Named seeds for deterministic reproduction.
const (
	testSeed1 = 0x1234567890ABCDEF
	testSeed2 = 0xFEDCBA9876543210
)

// Small geometry used across tests: 256 buckets, 4096 nonces, 16 slots per
// bucket per round.
const (
	testK          = 12
	testPrefixSize = 1
	testBuckets    = 256
)

// newTestRNG returns a generator seeded from the test name, so every test
// sees a stable but distinct stream.
func newTestRNG(t testing.TB) *rand.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	s1 := binary.LittleEndian.Uint64(sum[:8])
	s2 := binary.LittleEndian.Uint64(sum[8:])
	return rand.New(rand.NewPCG(testSeed1^s1, testSeed2^s2))
}

// testPlotID derives a stable plot ID from the test name.
func testPlotID(t testing.TB, salt byte) PlotID {
	t.Helper()
	rng := newTestRNG(t)
	var id PlotID
	for i := range id {
		id[i] = byte(rng.Uint32()) ^ salt
	}
	return id
}

// testOptions returns the small geometry plus extra options.
func testOptions(extra ...Option) []Option {
	return append([]Option{
		WithK(testK),
		WithPrefixSize(testPrefixSize),
		WithWorkers(4),
		WithIOWorkers(2),
		WithBatchSize(128),
	}, extra...)
}

// generateTestPlot generates a plot in dir and fails the test on error.
func generateTestPlot(t testing.TB, dir string, salt byte, extra ...Option) *PlotResult {
	t.Helper()
	res, err := GeneratePlotWithID(context.Background(), dir, testPlotID(t, salt), testOptions(extra...)...)
	if err != nil {
		t.Fatalf("GeneratePlotWithID failed: %v", err)
	}
	return res
}

// plotRef describes a generated plot for Merge.
func plotRef(t testing.TB, res *PlotResult) PlotRef {
	t.Helper()
	info, err := os.Stat(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	return PlotRef{Path: res.Path, K: res.K, ID: res.ID, Size: info.Size()}
}

// testDigester returns the keyed blake3 digester for a plot.
func testDigester(t testing.TB, id PlotID, k int) *Digester {
	t.Helper()
	key := DeriveKey(id, k)
	d, err := NewDigester(DigestBlake3, key[:])
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// nonceBytes encodes v little-endian in ns bytes.
func nonceBytes(v uint64, ns int) []byte {
	b := make([]byte, ns)
	intbits.PutUintLE(b, v, ns)
	return b
}

// writeRaw writes data to dir/name and returns the path.
func writeRaw(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// firstRecord returns the first non-empty record of a bucket-major body,
// along with its bucket and slot.
func firstRecord(t testing.TB, body []byte, buckets uint64, rs int) (rec []byte, bucket, slot uint64) {
	t.Helper()
	bb := uint64(len(body)) / buckets
	for b := uint64(0); b < buckets; b++ {
		for s := uint64(0); s*uint64(rs) < bb; s++ {
			off := b*bb + s*uint64(rs)
			r := body[off : off+uint64(rs)]
			if !intbits.IsZero(r) {
				return r, b, s
			}
		}
	}
	t.Fatal("plot holds no records")
	return nil, 0, 0
}
