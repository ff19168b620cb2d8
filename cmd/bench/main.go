// Bench is a benchmarking tool for measuring vaultx digest throughput, plot
// generation performance, lookup latency, and memory usage.
//
// Usage:
//
//	go run ./cmd/bench -K 24 -memory 256 -digest blake3
//
// Flags:
//
//	-K         Nonce-space exponent (default: 22)
//	-prefix    Bucket prefix size in bytes (default: 2)
//	-memory    Bucket memory in MB; smaller values force more rounds (default: 256)
//	-workers   Number of parallel workers (default: NumCPU)
//	-digest    Digest algorithm: blake3, blake2b, xxh3, murmur3 (default: blake3)
//	-lookups   Number of random prefix lookups (default: 100,000)
//	-search    Random prefix size in bytes (default: 3)
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	mrand "math/rand/v2"
	"os"
	"runtime"
	"runtime/metrics"
	"runtime/pprof"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/tamirms/vaultx"
)

// getMaxRSS returns the maximum resident set size in bytes.
// Uses getrusage(RUSAGE_SELF) which tracks peak RSS since process start.
func getMaxRSS() uint64 {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		return 0
	}
	// On macOS, MaxRss is in bytes. On Linux, it's in kilobytes.
	maxRSS := uint64(rusage.Maxrss)
	if runtime.GOOS == "linux" {
		maxRSS *= 1024
	}
	return maxRSS
}

// benchDigests times one million Table-1 digests per algorithm, plus a raw
// murmur3 baseline without the keyed-digester wrapper.
func benchDigests(key []byte) (map[vaultx.DigestAlgorithmID]time.Duration, time.Duration, error) {
	const n = 1 << 20
	var nonce [4]byte
	out := make(map[vaultx.DigestAlgorithmID]time.Duration)
	for _, algo := range []vaultx.DigestAlgorithmID{
		vaultx.DigestBlake3, vaultx.DigestBlake2b, vaultx.DigestXXH3, vaultx.DigestMurmur3,
	} {
		d, err := vaultx.NewDigester(algo, key)
		if err != nil {
			return nil, 0, err
		}
		start := time.Now()
		for i := uint32(0); i < n; i++ {
			binary.LittleEndian.PutUint32(nonce[:], i)
			d.Sum(nonce[:], nil)
		}
		out[algo] = time.Since(start)
	}

	start := time.Now()
	seed := uint32(0x1234)
	for i := uint32(0); i < n; i++ {
		binary.LittleEndian.PutUint32(nonce[:], i)
		murmur3.Sum128WithSeed(nonce[:], seed)
	}
	return out, time.Since(start), nil
}

func main() {
	kFlag := flag.Int("K", 22, "nonce-space exponent")
	prefixFlag := flag.Int("prefix", 2, "bucket prefix size in bytes")
	memoryFlag := flag.Uint64("memory", 256, "bucket memory in MB")
	workersFlag := flag.Int("workers", runtime.NumCPU(), "number of parallel workers")
	digestFlag := flag.String("digest", "blake3", "digest algorithm")
	lookupsFlag := flag.Int("lookups", 100_000, "number of random prefix lookups")
	searchFlag := flag.Int("search", 3, "random prefix size in bytes")
	cpuprofile := flag.String("cpuprofile", "", "write cpu profile to file (generation phase only)")
	memprofile := flag.String("memprofile", "", "write memory profile to file (generation phase only)")
	flag.Parse()

	algo, err := vaultx.ParseDigestAlgorithm(*digestFlag)
	if err != nil {
		fmt.Printf("%v\n", err)
		return
	}

	fmt.Println("Timing digests...")
	var key [vaultx.KeySize]byte
	for i := range key {
		key[i] = byte(mrand.Uint32())
	}
	digestTimes, murmurRaw, err := benchDigests(key[:])
	if err != nil {
		fmt.Printf("Digest benchmark failed: %v\n", err)
		return
	}

	tmpDir, err := os.MkdirTemp("", "vaultx-bench-")
	if err != nil {
		fmt.Printf("Failed to create temp dir: %v\n", err)
		return
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	runtime.GC()
	time.Sleep(50 * time.Millisecond)
	var baseline runtime.MemStats
	runtime.ReadMemStats(&baseline)
	baselineRSS := getMaxRSS()

	// 10ms sampling for peak memory (both heap and RSS).
	// runtime/metrics avoids the stop-the-world pauses of ReadMemStats.
	var peakAlloc atomic.Uint64
	var peakRSS atomic.Uint64
	peakAlloc.Store(baseline.Alloc)
	peakRSS.Store(baselineRSS)
	done := make(chan struct{})
	go func() {
		samples := []metrics.Sample{
			{Name: "/memory/classes/heap/objects:bytes"},
		}
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				metrics.Read(samples)
				heapBytes := samples[0].Value.Uint64()
				for {
					old := peakAlloc.Load()
					if heapBytes <= old || peakAlloc.CompareAndSwap(old, heapBytes) {
						break
					}
				}
				rss := getMaxRSS()
				for {
					old := peakRSS.Load()
					if rss <= old || peakRSS.CompareAndSwap(old, rss) {
						break
					}
				}
			}
		}
	}()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Printf("could not create CPU profile: %v\n", err)
			return
		}
		defer func() { _ = f.Close() }()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Printf("could not start CPU profile: %v\n", err)
			return
		}
	}

	fmt.Println("Generating plot...")
	ctx := context.Background()
	res, err := vaultx.GeneratePlot(ctx, tmpDir,
		vaultx.WithK(*kFlag),
		vaultx.WithPrefixSize(*prefixFlag),
		vaultx.WithMemoryMB(*memoryFlag),
		vaultx.WithWorkers(*workersFlag),
		vaultx.WithIOWorkers(*workersFlag),
		vaultx.WithDigest(algo),
	)

	if *cpuprofile != "" {
		pprof.StopCPUProfile()
	}
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Printf("could not create memory profile: %v\n", err)
		} else {
			runtime.GC()
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Printf("could not write memory profile: %v\n", err)
			}
			_ = f.Close()
		}
	}

	close(done)

	var final runtime.MemStats
	runtime.ReadMemStats(&final)
	if final.Alloc > peakAlloc.Load() {
		peakAlloc.Store(final.Alloc)
	}
	finalRSS := getMaxRSS()
	if finalRSS > peakRSS.Load() {
		peakRSS.Store(finalRSS)
	}
	peakHeapMem := peakAlloc.Load() - baseline.Alloc
	peakRSSMem := peakRSS.Load() - baselineRSS

	if err != nil {
		fmt.Printf("Generation failed: %v\n", err)
		return
	}

	plot, err := vaultx.OpenPlot(res.Path,
		vaultx.WithPrefixSize(*prefixFlag),
		vaultx.WithWorkers(*workersFlag),
		vaultx.WithDigest(algo),
	)
	if err != nil {
		fmt.Printf("Open failed: %v\n", err)
		return
	}
	defer func() { _ = plot.Close() }()

	fmt.Println("Benchmarking lookups...")
	rng := mrand.New(mrand.NewPCG(0x5eed, 0xcafe))
	batch, err := plot.BatchLookup(ctx, *lookupsFlag, *searchFlag, rng)
	if err != nil {
		fmt.Printf("Lookups failed: %v\n", err)
		return
	}
	avgLatency := float64(batch.AvgLatency().Nanoseconds()) / 1000
	hitRate := 100 * float64(batch.Found) / float64(max(batch.Lookups, 1))
	nonces := float64(uint64(1) << *kFlag)

	fmt.Printf("\n")
	fmt.Printf("╔═════════════════════╦════════════════╦══════════════════╗\n")
	fmt.Printf("║ K: %-17d║ Digest: %-7s║ Rounds: %-8d ║\n", res.K, algo, res.Rounds)
	fmt.Printf("╠═════════════════════╬════════════════╬══════════════════╣\n")
	fmt.Printf("║ Metric              ║ Value          ║ Note             ║\n")
	fmt.Printf("╠═════════════════════╬════════════════╬══════════════════╣\n")
	for _, a := range []vaultx.DigestAlgorithmID{vaultx.DigestBlake3, vaultx.DigestBlake2b, vaultx.DigestXXH3, vaultx.DigestMurmur3} {
		fmt.Printf("║ Digest %-13s║ %6.2f M/sec   ║ keyed, 1M nonces ║\n", a, float64(1<<20)/digestTimes[a].Seconds()/1_000_000)
	}
	fmt.Printf("║ Raw murmur3         ║ %6.2f M/sec   ║ baseline         ║\n", float64(1<<20)/murmurRaw.Seconds()/1_000_000)
	fmt.Printf("║ Hash time           ║ %6.2f sec     ║ -                ║\n", res.HashTime.Seconds())
	fmt.Printf("║ Match time          ║ %6.2f sec     ║ -                ║\n", res.MatchTime.Seconds())
	fmt.Printf("║ Write time          ║ %6.2f sec     ║ -                ║\n", res.WriteTime.Seconds())
	fmt.Printf("║ Shuffle time        ║ %6.2f sec     ║ -                ║\n", res.ShuffleTime.Seconds())
	fmt.Printf("║ Total time          ║ %6.2f sec     ║ -                ║\n", res.Total.Seconds())
	fmt.Printf("║ Throughput          ║ %6.2f M/sec   ║ nonces           ║\n", nonces/res.Total.Seconds()/1_000_000)
	fmt.Printf("║ Table-1 storage     ║ %6.2f %%       ║ -                ║\n", 100*res.Table1.StorageEfficiency())
	fmt.Printf("║ Table-2 storage     ║ %6.2f %%       ║ -                ║\n", 100*res.Table2.StorageEfficiency())
	fmt.Printf("║ Pairs               ║ %14d ║ -                ║\n", res.Pairs)
	fmt.Printf("║ Plot size           ║ %6.1f MB      ║ -                ║\n", float64(res.Size)/1_000_000)
	fmt.Printf("║ Lookup latency      ║ %6.2f μs      ║ %5.1f%% hits      ║\n", avgLatency, hitRate)
	fmt.Printf("║ Peak heap memory    ║ %6.1f MB      ║ -                ║\n", float64(peakHeapMem)/1_000_000)
	fmt.Printf("║ Peak RSS memory     ║ %6.1f MB      ║ -                ║\n", float64(peakRSSMem)/1_000_000)
	fmt.Printf("╚═════════════════════╩════════════════╩══════════════════╝\n")
}
