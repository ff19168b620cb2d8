package vaultx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	vaultxerrors "github.com/tamirms/vaultx/errors"
	intbits "github.com/tamirms/vaultx/internal/bits"
)

// parallelScanThreshold is the bucket size, in records, below which a
// lookup scans on the calling goroutine.
const parallelScanThreshold = 4096

// Match is the outcome of a lookup.
type Match struct {
	Found  bool
	Bucket uint64
	Slot   uint64 // record index within the bucket
	Source int    // index of the source plot that produced the record
	Nonce1 uint64
	Nonce2 uint64
	Digest Digest
}

// Plot is a plot file opened for prefix lookups.
//
// Thread Safety:
//   - Lookup, LookupHex, and BatchLookup are safe for concurrent use
//   - Close must only be called after all lookups have returned
type Plot struct {
	file      *os.File
	layout    *plotLayout
	digesters []*Digester
	workers   int
	log       *zap.Logger

	bufPool sync.Pool // *[]byte, one bucket each
	closed  atomic.Bool
}

// OpenPlot opens a single or merged plot for searching. The bucket
// geometry and digest algorithm options must match those the plot was
// generated with.
func OpenPlot(path string, opts ...Option) (*Plot, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plot: %w", err)
	}
	layout, err := resolvePlotLayout(f, cfg)
	if err != nil {
		return nil, errors.Join(err, f.Close())
	}
	digesters, err := layout.sourceDigesters(cfg.digest)
	if err != nil {
		return nil, errors.Join(err, f.Close())
	}
	adviseRandom(f.Fd())

	p := &Plot{
		file:      f,
		layout:    layout,
		digesters: digesters,
		workers:   cfg.workers,
		log:       cfg.logger.With(zap.String("plot", path)),
	}
	bucketBytes := layout.bucketBytes()
	p.bufPool.New = func() any {
		b := make([]byte, bucketBytes)
		return &b
	}
	return p, nil
}

// Close releases the file. Idempotent.
func (p *Plot) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.file.Close()
}

// K returns the plot's K.
func (p *Plot) K() int { return p.layout.k() }

// Buckets returns the bucket count.
func (p *Plot) Buckets() uint64 { return p.layout.buckets }

// RecordsPerBucket returns the number of record slots per bucket.
func (p *Plot) RecordsPerBucket() uint64 { return p.layout.recordsPerBucket }

// Sources returns the number of plots merged into this file.
func (p *Plot) Sources() int { return len(p.layout.sources) }

// LookupHex is Lookup with a hex-encoded prefix.
func (p *Plot) LookupHex(ctx context.Context, prefixHex string) (Match, error) {
	prefix, err := HexToBytes(prefixHex)
	if err != nil {
		return Match{}, err
	}
	return p.Lookup(ctx, prefix)
}

// Lookup finds a record whose pair digest starts with prefix. prefix must
// be at least the bucket prefix size; bytes beyond DigestSize are ignored.
//
// Exactly one bucket is read. Large buckets are scanned by several
// goroutines that stop starting new records once any of them finds a
// match; if a bucket holds several matches, which one is returned is
// unspecified. A read failure fails the lookup and is not retried.
func (p *Plot) Lookup(ctx context.Context, prefix []byte) (Match, error) {
	if p.closed.Load() {
		return Match{}, vaultxerrors.ErrPlotClosed
	}
	l := p.layout
	if len(prefix) < l.prefixSize {
		return Match{}, fmt.Errorf("%w: %d bytes, need %d", vaultxerrors.ErrPrefixTooShort, len(prefix), l.prefixSize)
	}
	prefix = prefix[:min(len(prefix), DigestSize)]
	bucket := intbits.PrefixIndex(prefix, l.prefixSize)

	bufp := p.bufPool.Get().(*[]byte)
	defer p.bufPool.Put(bufp)
	buf := *bufp
	if _, err := readExactly(p.file, buf, int64(bucket*l.bucketBytes())); err != nil {
		return Match{}, fmt.Errorf("read bucket %d: %w", bucket, err)
	}

	var result atomic.Pointer[Match]
	scan := func(lo, hi uint64) {
		states := make([]digestState, len(p.digesters))
		ns := l.nonceSize
		rs := uint64(l.recordSize())
		var d Digest
		for r := lo; r < hi; r++ {
			if result.Load() != nil {
				return
			}
			rec := buf[r*rs : (r+1)*rs]
			if intbits.IsZero(rec[:ns]) || intbits.IsZero(rec[ns:]) {
				continue
			}
			src := r / l.recordsPerSource
			if states[src] == nil {
				states[src] = p.digesters[src].newState()
			}
			states[src].sum(&d, rec[:ns], rec[ns:])
			if bytes.Equal(d[:len(prefix)], prefix) {
				m := &Match{
					Found:  true,
					Bucket: bucket,
					Slot:   r,
					Source: int(src),
					Nonce1: intbits.UintLE(rec[:ns], ns),
					Nonce2: intbits.UintLE(rec[ns:], ns),
					Digest: d,
				}
				result.CompareAndSwap(nil, m)
				return
			}
		}
	}

	if l.recordsPerBucket < parallelScanThreshold || p.workers <= 1 {
		scan(0, l.recordsPerBucket)
	} else {
		err := parallelChunks(ctx, p.workers, l.recordsPerBucket, func(_ int, lo, hi uint64) error {
			scan(lo, hi)
			return nil
		})
		if err != nil {
			return Match{}, err
		}
	}

	if m := result.Load(); m != nil {
		return *m, nil
	}
	return Match{Bucket: bucket}, nil
}

// BatchResult summarizes a batch of random lookups.
type BatchResult struct {
	Lookups  int           `json:"lookups"`
	Found    int           `json:"found"`
	NotFound int           `json:"not_found"`
	Elapsed  time.Duration `json:"elapsed_ns"`
}

// AvgLatency returns the mean time per lookup.
func (r BatchResult) AvgLatency() time.Duration {
	if r.Lookups == 0 {
		return 0
	}
	return r.Elapsed / time.Duration(r.Lookups)
}

// BatchLookup runs n lookups for random prefixes of searchSize bytes drawn
// from rng, against the same open file.
func (p *Plot) BatchLookup(ctx context.Context, n, searchSize int, rng *rand.Rand) (BatchResult, error) {
	if searchSize < p.layout.prefixSize {
		return BatchResult{}, fmt.Errorf("%w: %d bytes, need %d", vaultxerrors.ErrPrefixTooShort, searchSize, p.layout.prefixSize)
	}
	prefix := make([]byte, searchSize)
	res := BatchResult{Lookups: n}
	start := time.Now()
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		for j := range prefix {
			prefix[j] = byte(rng.UintN(256))
		}
		m, err := p.Lookup(ctx, prefix)
		if err != nil {
			return res, err
		}
		if m.Found {
			res.Found++
		} else {
			res.NotFound++
		}
	}
	res.Elapsed = time.Since(start)
	p.log.Info("batch lookup complete",
		zap.Int("lookups", n),
		zap.Int("search_size", searchSize),
		zap.Int("found", res.Found),
		zap.Int("not_found", res.NotFound),
		zap.Duration("avg_latency", res.AvgLatency()))
	return res, nil
}
