// Package vaultx generates, merges, and searches disk-based proof-of-space
// plots.
//
// A plot holds 2^K nonce pairs whose keyed digests lie close together. Pairs
// are filed into buckets by the leading PrefixSize bytes of their digest, so
// any digest prefix can be answered by reading a single bucket.
//
// # Basic Usage
//
// Generating a plot:
//
//	res, err := vaultx.GeneratePlot(ctx, "plots", vaultx.WithK(28), vaultx.WithMemoryMB(4096))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Path) // plots/K28_<id>.plot
//
// Merging plots into one searchable file:
//
//	refs, err := vaultx.ListPlots("plots")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	out := filepath.Join("merged", vaultx.MergeFileName(28, len(refs)))
//	if _, err := vaultx.Merge(ctx, refs, out, vaultx.WithStrategy(vaultx.StrategyPipeline)); err != nil {
//	    log.Fatal(err)
//	}
//
// Searching:
//
//	p, err := vaultx.OpenPlot(out)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close()
//
//	m, err := p.LookupHex(ctx, "1a2b3c4d")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if m.Found {
//	    fmt.Printf("nonces %d %d\n", m.Nonce1, m.Nonce2)
//	}
//
// # Package Structure
//
// The implementation is organized as follows:
//
//   - Public API: plot.go (GeneratePlot), merge.go (Merge), search.go (OpenPlot, Lookup), verify.go (Verify)
//   - Configuration: options.go (Option, With* functions)
//   - Digests: digest.go (Digester over blake3, blake2b, xxh3, murmur3)
//   - Tables: bucket_store.go (BucketStore), table1.go (GenerateTable1), table2.go (MatchTable2)
//   - Disk layout: shuffle.go (round-major to bucket-major), footer.go, plot_layout.go, naming.go
//   - Merge execution: merge_strategies.go (sync, parallel-merge, pipeline)
//   - Platform: fallocate_*.go, fadvise_*.go, prefault_*.go (OS-specific optimizations)
package vaultx
