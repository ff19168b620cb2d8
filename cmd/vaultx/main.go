// Vaultx generates, merges, verifies, and searches proof-of-space plots.
//
// Usage:
//
//	vaultx plot   -dir plots -K 28 -n 4 -t 16 -m 4096
//	vaultx merge  -dir plots -out merged -n 4 -strategy 2 -verify
//	vaultx search -file merged/merge_28_4.plot -s 1a2b3c4d
//	vaultx search -file merged/merge_28_4.plot -S 4 -lookups 1000
//	vaultx verify -file plots/K28_<id>.plot
//	vaultx list   -dir plots
//
// Every subcommand accepts -json for machine-readable output and -debug for
// verbose logs. Geometry flags (-K, -nonce, -prefix, -digest) must match
// between generation and later merge, verify, or search runs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tamirms/vaultx"
)

// common holds flags shared by every subcommand.
type common struct {
	k         int
	nonce     int
	prefix    int
	threads   int
	ioThreads int
	batch     int
	digest    string
	debug     bool
	json      bool
}

func (c *common) register(fs *flag.FlagSet) {
	fs.IntVar(&c.k, "K", vaultx.DefaultK, "nonce-space exponent (plots hold 2^K nonces)")
	fs.IntVar(&c.nonce, "nonce", vaultx.DefaultNonceSize, "nonce size in bytes")
	fs.IntVar(&c.prefix, "prefix", vaultx.DefaultPrefixSize, "bucket prefix size in bytes")
	fs.IntVar(&c.threads, "t", runtime.NumCPU(), "worker threads")
	fs.IntVar(&c.ioThreads, "i", runtime.NumCPU(), "I/O threads")
	fs.IntVar(&c.batch, "b", vaultx.DefaultBatchSize, "batch size")
	fs.StringVar(&c.digest, "digest", "blake3", "digest algorithm: blake3, blake2b, xxh3, murmur3")
	fs.BoolVar(&c.debug, "debug", false, "verbose logging")
	fs.BoolVar(&c.json, "json", false, "print results as JSON")
}

func (c *common) options(log *zap.Logger) ([]vaultx.Option, error) {
	algo, err := vaultx.ParseDigestAlgorithm(c.digest)
	if err != nil {
		return nil, err
	}
	return []vaultx.Option{
		vaultx.WithK(c.k),
		vaultx.WithNonceSize(c.nonce),
		vaultx.WithPrefixSize(c.prefix),
		vaultx.WithWorkers(c.threads),
		vaultx.WithIOWorkers(c.ioThreads),
		vaultx.WithBatchSize(c.batch),
		vaultx.WithDigest(algo),
		vaultx.WithLogger(log),
	}, nil
}

func (c *common) logger() (*zap.Logger, error) {
	if c.debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

var printer = message.NewPrinter(language.English)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "plot":
		err = runPlot(ctx, os.Args[2:])
	case "merge":
		err = runMerge(ctx, os.Args[2:])
	case "search":
		err = runSearch(ctx, os.Args[2:])
	case "verify":
		err = runVerify(ctx, os.Args[2:])
	case "list":
		err = runList(os.Args[2:])
	case "-h", "-help", "--help", "help":
		usage()
		return
	default:
		usage()
		err = fmt.Errorf("unknown command %q", os.Args[1])
	}
	if err != nil && !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "vaultx: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: vaultx <plot|merge|search|verify|list> [flags]\n")
	fmt.Fprintf(os.Stderr, "run 'vaultx <command> -h' for command flags\n")
}

// setup parses fs and builds the logger and library options.
func setup(fs *flag.FlagSet, c *common, args []string) (*zap.Logger, []vaultx.Option, error) {
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	log, err := c.logger()
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	opts, err := c.options(log)
	if err != nil {
		return nil, nil, err
	}
	return log, opts, nil
}

func emitJSON(v any) error {
	out, err := sonnet.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = fmt.Fprintln(os.Stdout, string(out))
	return err
}

func runPlot(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("plot", flag.ContinueOnError)
	var c common
	c.register(fs)
	dir := fs.String("dir", ".", "output directory")
	count := fs.Int("n", 1, "number of plots to generate")
	memMB := fs.Uint64("m", 1024, "bucket memory in MB")
	full := fs.Bool("full-buckets", false, "generate until every bucket is full")
	log, opts, err := setup(fs, &c, args)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	opts = append(opts, vaultx.WithMemoryMB(*memMB), vaultx.WithFullBuckets(*full))

	if err := os.MkdirAll(*dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	var results []*vaultx.PlotResult
	for i := 0; i < *count; i++ {
		res, err := vaultx.GeneratePlot(ctx, *dir, opts...)
		if err != nil {
			return err
		}
		results = append(results, res)
		if !c.json {
			printPlot(res)
		}
	}
	if c.json {
		return emitJSON(results)
	}
	return nil
}

func printPlot(r *vaultx.PlotResult) {
	printer.Printf("plot %s\n", r.Path)
	printer.Printf("  K=%d rounds=%d buckets=%d records/bucket=%d size=%d bytes\n",
		r.K, r.Rounds, r.Buckets, r.RecordsPerBucket, r.Size)
	printer.Printf("  hashed=%d pairs=%d\n", r.Hashed, r.Pairs)
	for _, t := range []struct {
		name string
		s    vaultx.StoreStats
	}{{"table1", r.Table1}, {"table2", r.Table2}} {
		printer.Printf("  %s: records=%d storage_efficiency=%.2f%% full_buckets=%d bucket_efficiency=%.2f%% waste=%d hash_efficiency=%.2f%%\n",
			t.name, t.s.Records, 100*t.s.StorageEfficiency(), t.s.FullBuckets,
			100*t.s.BucketEfficiency(), t.s.Wasted, 100*t.s.HashEfficiency())
	}
	printer.Printf("  hash=%v match=%v write=%v shuffle=%v total=%v\n",
		r.HashTime, r.MatchTime, r.WriteTime, r.ShuffleTime, r.Total)
}

func runMerge(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("merge", flag.ContinueOnError)
	var c common
	c.register(fs)
	dir := fs.String("dir", ".", "directory holding plots")
	outDir := fs.String("out", ".", "output directory")
	count := fs.Int("n", 2, "number of plots to merge (0 for all)")
	strategy := fs.Int("strategy", int(vaultx.StrategyPipeline), "merge strategy: 0 sync, 1 parallel merge, 2 pipeline")
	batchMB := fs.Uint64("batch-mb", 256, "merge batch size in MB")
	limitMB := fs.Uint64("limit-mb", 307200, "merge memory ceiling in MB")
	verify := fs.Bool("verify", false, "verify the merged file")
	log, opts, err := setup(fs, &c, args)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	opts = append(opts,
		vaultx.WithStrategy(vaultx.MergeStrategy(*strategy)),
		vaultx.WithBatchMemoryMB(*batchMB),
		vaultx.WithMemoryLimitMB(*limitMB),
		vaultx.WithVerify(*verify))

	refs, err := vaultx.ListPlots(*dir)
	if err != nil {
		return err
	}
	if *count > 0 {
		if len(refs) < *count {
			return fmt.Errorf("found %d plots in %s, need %d", len(refs), *dir, *count)
		}
		refs = refs[:*count]
	}
	if len(refs) == 0 {
		return fmt.Errorf("no plots in %s", *dir)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	out := filepath.Join(*outDir, vaultx.MergeFileName(refs[0].K, len(refs)))

	res, err := vaultx.Merge(ctx, refs, out, opts...)
	if err != nil {
		return err
	}
	if c.json {
		return emitJSON(res)
	}
	printer.Printf("merged %d plots into %s (%d bytes, strategy %s, %d batches) in %v\n",
		res.Files, res.Path, res.Size, res.Strategy, res.Batches, res.Duration)
	if res.Verify != nil {
		printVerify(res.Verify)
	}
	return nil
}

func runSearch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	var c common
	c.register(fs)
	file := fs.String("file", "", "plot or merged file to search")
	prefix := fs.String("s", "", "hex digest prefix to look up")
	searchSize := fs.Int("S", 0, "random prefix size in bytes for batch lookups")
	lookups := fs.Int("lookups", 1000, "number of batch lookups")
	log, opts, err := setup(fs, &c, args)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if *file == "" {
		return errors.New("search needs -file")
	}

	p, err := vaultx.OpenPlot(*file, opts...)
	if err != nil {
		return err
	}
	defer p.Close()

	if *searchSize > 0 {
		res, err := p.BatchLookup(ctx, *lookups, *searchSize, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
		if err != nil {
			return err
		}
		if c.json {
			return emitJSON(res)
		}
		printer.Printf("%d lookups of %d-byte prefixes: found=%d not_found=%d avg=%v\n",
			res.Lookups, *searchSize, res.Found, res.NotFound, res.AvgLatency())
		return nil
	}
	if *prefix == "" {
		return errors.New("search needs -s or -S")
	}
	m, err := p.LookupHex(ctx, *prefix)
	if err != nil {
		return err
	}
	if c.json {
		return emitJSON(m)
	}
	if m.Found {
		printer.Printf("found nonces (%d, %d) for prefix %s in bucket %d slot %d\n",
			m.Nonce1, m.Nonce2, *prefix, m.Bucket, m.Slot)
	} else {
		printer.Printf("no nonce pair found for prefix %s (bucket %d)\n", *prefix, m.Bucket)
	}
	return nil
}

func runVerify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	var c common
	c.register(fs)
	file := fs.String("file", "", "plot or merged file to verify")
	log, opts, err := setup(fs, &c, args)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if *file == "" {
		return errors.New("verify needs -file")
	}
	report, err := vaultx.Verify(ctx, *file, opts...)
	if err != nil {
		return err
	}
	if c.json {
		return emitJSON(report)
	}
	printVerify(report)
	return nil
}

func printVerify(r *vaultx.VerifyReport) {
	printer.Printf("verified %d of %d buckets (%.4f%%) in %s\n", r.VerifiedBuckets, r.Buckets, 100*r.Ratio(), r.Path)
	printer.Printf("  records=%d empty=%d half_empty=%d mismatched=%d checksum=%016x time=%v\n",
		r.Records, r.Empty, r.HalfEmpty, r.Mismatched, r.Checksum, r.Duration)
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	dir := fs.String("dir", ".", "directory holding plots")
	asJSON := fs.Bool("json", false, "print results as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	refs, err := vaultx.ListPlots(*dir)
	if err != nil {
		return err
	}
	if *asJSON {
		type entry struct {
			Path string `json:"path"`
			K    int    `json:"k"`
			ID   string `json:"id"`
			Size int64  `json:"size"`
		}
		out := make([]entry, len(refs))
		for i, r := range refs {
			out[i] = entry{Path: r.Path, K: r.K, ID: r.ID.String(), Size: r.Size}
		}
		return emitJSON(out)
	}
	for _, r := range refs {
		printer.Printf("%s  K=%d  %d bytes\n", r.Path, r.K, r.Size)
	}
	return nil
}
