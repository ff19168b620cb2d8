package vaultx

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	vaultxerrors "github.com/tamirms/vaultx/errors"
)

func TestPlotGeometry(t *testing.T) {
	tests := []struct {
		name                       string
		opts                       []Option
		rounds, capacity, perRound uint64
		err                        error
	}{
		{"single round", testOptions(), 1, 16, 4096, nil},
		{"four rounds", testOptions(withMemoryBytes(12288)), 4, 4, 1024, nil},
		// 49152 bytes over 10000 is 5 rounds, rounded up to 8.
		{"rounds are a power of two", testOptions(withMemoryBytes(10000)), 8, 2, 512, nil},
		{"full buckets", testOptions(WithNonceSize(2), WithFullBuckets(true)), 1, 16, 65536, nil},
		{"too many buckets", testOptions(WithPrefixSize(2)), 0, 0, 0, vaultxerrors.ErrInvalidGeometry},
		{"memory too small", testOptions(withMemoryBytes(1)), 0, 0, 0, vaultxerrors.ErrInvalidMemory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := newConfig(tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			g, err := newPlotGeometry(cfg)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("got %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if g.rounds != tt.rounds || g.capacity != tt.capacity || g.noncesPerRound != tt.perRound {
				t.Fatalf("geometry %+v", g)
			}
			if g.fileSize() != int64(g.rounds*g.buckets*g.capacity*uint64(g.recordSize)) {
				t.Fatalf("fileSize %d", g.fileSize())
			}
		})
	}
}

// dirEntries lists the names in dir.
func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestGeneratePlotSingleRound(t *testing.T) {
	dir := t.TempDir()
	res := generateTestPlot(t, dir, 0)

	if filepath.Base(res.Path) != PlotFileName(testK, res.ID) {
		t.Fatalf("plot written to %s", res.Path)
	}
	if names := dirEntries(t, dir); len(names) != 1 {
		t.Fatalf("directory holds %v, want only the plot", names)
	}
	info, err := os.Stat(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != res.Size || res.Size != testBuckets*16*8 {
		t.Fatalf("plot size %d (result says %d)", info.Size(), res.Size)
	}
	if res.Rounds != 1 || res.RecordsPerBucket != 16 || res.ShuffleTime != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Hashed != 1<<testK || res.Pairs == 0 {
		t.Fatalf("hashed %d, pairs %d", res.Hashed, res.Pairs)
	}

	report, err := Verify(context.Background(), res.Path, testOptions()...)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if report.Ratio() != 1 || report.Mismatched != 0 || report.HalfEmpty != 0 {
		t.Fatalf("verify report %+v", report)
	}
	if report.Records != res.Table2.Records {
		t.Fatalf("plot holds %d records, generation stored %d", report.Records, res.Table2.Records)
	}
	if report.Records+report.Empty != testBuckets*16 {
		t.Fatalf("records %d + empty %d != slots", report.Records, report.Empty)
	}
}

func TestGeneratePlotMultiRound(t *testing.T) {
	dir := t.TempDir()
	res := generateTestPlot(t, dir, 0, withMemoryBytes(12288))
	if res.Rounds != 4 || res.RecordsPerBucket != 16 || res.Table2.Rounds != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
	if names := dirEntries(t, dir); len(names) != 1 {
		t.Fatalf("directory holds %v, want only the plot", names)
	}

	report, err := Verify(context.Background(), res.Path, testOptions()...)
	if err != nil {
		t.Fatal(err)
	}
	if report.Ratio() != 1 || report.Records != res.Table2.Records {
		t.Fatalf("verify report %+v, generation stored %d", report, res.Table2.Records)
	}
}

func TestGeneratePlotDeterministic(t *testing.T) {
	for _, mem := range []uint64{1 << 20, 12288} {
		var bodies [][]byte
		for range 2 {
			res := generateTestPlot(t, t.TempDir(), 0, WithWorkers(1), withMemoryBytes(mem))
			data, err := os.ReadFile(res.Path)
			if err != nil {
				t.Fatal(err)
			}
			bodies = append(bodies, data)
		}
		if !bytes.Equal(bodies[0], bodies[1]) {
			t.Fatalf("memory %d: single-worker generation is not reproducible", mem)
		}
	}

	// Different IDs give different plots.
	a := generateTestPlot(t, t.TempDir(), 1, WithWorkers(1))
	b := generateTestPlot(t, t.TempDir(), 2, WithWorkers(1))
	da, _ := os.ReadFile(a.Path)
	db, _ := os.ReadFile(b.Path)
	if bytes.Equal(da, db) {
		t.Fatal("plots with different IDs are identical")
	}
}

func TestGeneratePlotFullBuckets(t *testing.T) {
	dir := t.TempDir()
	res := generateTestPlot(t, dir, 0, WithNonceSize(2), WithFullBuckets(true))
	if res.Table1.FullBuckets != testBuckets {
		t.Fatalf("%d of %d Table-1 buckets full", res.Table1.FullBuckets, testBuckets)
	}
	if res.Table1.Records != testBuckets*16 {
		t.Fatalf("Table-1 holds %d records", res.Table1.Records)
	}
	if res.Size != testBuckets*16*4 {
		t.Fatalf("plot size %d", res.Size)
	}
	report, err := Verify(context.Background(), res.Path, testOptions(WithNonceSize(2))...)
	if err != nil {
		t.Fatal(err)
	}
	if report.Ratio() != 1 {
		t.Fatalf("verify report %+v", report)
	}
}

func TestGeneratePlotDigests(t *testing.T) {
	for _, algo := range allDigests {
		t.Run(algo.String(), func(t *testing.T) {
			res := generateTestPlot(t, t.TempDir(), 0, WithDigest(algo))
			report, err := Verify(context.Background(), res.Path, testOptions(WithDigest(algo))...)
			if err != nil {
				t.Fatal(err)
			}
			if report.Ratio() != 1 || report.Records == 0 {
				t.Fatalf("verify report %+v", report)
			}
		})
	}
}

func TestGeneratePlotCancelled(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, mem := range []uint64{1 << 20, 12288} {
		_, err := GeneratePlotWithID(ctx, dir, testPlotID(t, 0), testOptions(withMemoryBytes(mem))...)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("got %v, want context.Canceled", err)
		}
		if names := dirEntries(t, dir); len(names) != 0 {
			t.Fatalf("cancelled generation left %v behind", names)
		}
	}
}

func TestGeneratePlotMissingDir(t *testing.T) {
	_, err := GeneratePlot(context.Background(), filepath.Join(t.TempDir(), "missing"), testOptions()...)
	if err == nil {
		t.Fatal("expected an error for a missing directory")
	}
}
