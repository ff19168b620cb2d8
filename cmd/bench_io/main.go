//go:build linux

// bench_io compares the merge strategies on the same set of plots:
//
//  0. "sync": parallel read, serial interleave, write
//  1. "parallel": serial read, parallel interleave, write
//  2. "pipeline": overlapped read/interleave/write across batches
//
// Plots are generated once into the temp directory and reused. Before each
// merge the inputs are evicted from the page cache so every strategy reads
// from disk.
//
// Usage:
//
//	go run ./cmd/bench_io -K 24 -files 4
//	go run ./cmd/bench_io -K 26 -files 8 -batch 64 -mode 2
//
// To simulate memory pressure (data exceeding page cache):
//
//	sudo systemd-run --scope -p MemoryMax=4G --uid=$(id -u) \
//	  go run ./cmd/bench_io -K 26 -files 8
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tamirms/vaultx"
)

func main() {
	kFlag := flag.Int("K", 22, "nonce-space exponent")
	numFiles := flag.Int("files", 4, "number of plots to merge")
	prefix := flag.Int("prefix", 2, "bucket prefix size in bytes")
	batchMB := flag.Uint64("batch", 64, "merge batch size in MB")
	limitMB := flag.Uint64("limit", 1024, "merge memory ceiling in MB")
	mode := flag.Int("mode", -1, "strategy: 0, 1, 2, or -1 for all")
	verify := flag.Bool("verify", false, "verify each merged file")
	tmpDir := flag.String("dir", "", "temp directory (default: os.TempDir())")
	flag.Parse()

	if *tmpDir == "" {
		*tmpDir = os.TempDir()
	}
	dir, err := os.MkdirTemp(*tmpDir, "vaultx-bench-io-")
	if err != nil {
		fmt.Printf("Failed to create temp dir: %v\n", err)
		return
	}
	defer func() { _ = os.RemoveAll(dir) }()

	fmt.Printf("Configuration:\n")
	fmt.Printf("  K:            %d\n", *kFlag)
	fmt.Printf("  Files:        %d\n", *numFiles)
	fmt.Printf("  Batch:        %d MB\n", *batchMB)
	fmt.Printf("  Limit:        %d MB\n", *limitMB)
	fmt.Printf("  Temp dir:     %s\n", dir)
	fmt.Printf("  GOMAXPROCS:   %d\n", runtime.GOMAXPROCS(0))
	fmt.Println()

	ctx := context.Background()
	common := []vaultx.Option{
		vaultx.WithK(*kFlag),
		vaultx.WithPrefixSize(*prefix),
		vaultx.WithWorkers(runtime.NumCPU()),
		vaultx.WithIOWorkers(runtime.NumCPU()),
	}

	fmt.Printf("Generating %d plots...\n", *numFiles)
	genStart := time.Now()
	for i := 0; i < *numFiles; i++ {
		if _, err := vaultx.GeneratePlot(ctx, dir, common...); err != nil {
			fmt.Printf("Generation failed: %v\n", err)
			return
		}
	}
	fmt.Printf("  done in %.2f sec\n\n", time.Since(genStart).Seconds())

	refs, err := vaultx.ListPlots(dir)
	if err != nil {
		fmt.Printf("List failed: %v\n", err)
		return
	}
	var inputBytes int64
	for _, r := range refs {
		inputBytes += r.Size
	}

	strategies := []vaultx.MergeStrategy{vaultx.StrategySync, vaultx.StrategyParallelMerge, vaultx.StrategyPipeline}
	if *mode >= 0 {
		strategies = []vaultx.MergeStrategy{vaultx.MergeStrategy(*mode)}
	}
	for _, s := range strategies {
		benchMerge(ctx, dir, refs, inputBytes, s, *batchMB, *limitMB, *verify, common)
	}
}

// dropCache evicts path from the page cache.
func dropCache(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_DONTNEED)
}

func benchMerge(ctx context.Context, dir string, refs []vaultx.PlotRef, inputBytes int64,
	s vaultx.MergeStrategy, batchMB, limitMB uint64, verify bool, common []vaultx.Option) {
	fmt.Printf("=== strategy %s ===\n", s)
	for _, r := range refs {
		if err := dropCache(r.Path); err != nil {
			fmt.Printf("  fadvise %s: %v\n", r.Path, err)
		}
	}

	out := filepath.Join(dir, fmt.Sprintf("out_%d", s), vaultx.MergeFileName(refs[0].K, len(refs)))
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		fmt.Printf("  mkdir: %v\n", err)
		return
	}
	defer func() { _ = os.RemoveAll(filepath.Dir(out)) }()

	opts := append([]vaultx.Option{
		vaultx.WithStrategy(s),
		vaultx.WithBatchMemoryMB(batchMB),
		vaultx.WithMemoryLimitMB(limitMB),
		vaultx.WithVerify(verify),
	}, common...)

	var before unix.Rusage
	_ = unix.Getrusage(unix.RUSAGE_SELF, &before)
	res, err := vaultx.Merge(ctx, refs, out, opts...)
	if err != nil {
		fmt.Printf("  merge failed: %v\n", err)
		return
	}
	var after unix.Rusage
	_ = unix.Getrusage(unix.RUSAGE_SELF, &after)

	secs := res.Duration.Seconds()
	fmt.Printf("  Batches:      %d (%d buckets each)\n", res.Batches, res.BatchBuckets)
	fmt.Printf("  Time:         %.2f sec\n", secs)
	fmt.Printf("  Read:         %.1f MB/s\n", float64(inputBytes)/secs/1_000_000)
	fmt.Printf("  Write:        %.1f MB/s\n", float64(res.Size)/secs/1_000_000)
	fmt.Printf("  Blocks in:    %d\n", after.Inblock-before.Inblock)
	fmt.Printf("  Blocks out:   %d\n", after.Oublock-before.Oublock)
	if res.Verify != nil {
		fmt.Printf("  Verified:     %.4f%% (checksum %016x)\n", 100*res.Verify.Ratio(), res.Verify.Checksum)
	}
	fmt.Println()
}
