package vaultx

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/edsrzf/mmap-go"
	"go.uber.org/zap"

	intbits "github.com/tamirms/vaultx/internal/bits"
)

// VerifyReport summarizes a verification pass.
type VerifyReport struct {
	Path             string        `json:"path"`
	K                int           `json:"k"`
	Sources          int           `json:"sources"`
	Buckets          uint64        `json:"buckets"`
	RecordsPerBucket uint64        `json:"records_per_bucket"`
	VerifiedBuckets  uint64        `json:"verified_buckets"` // buckets with no bad record
	Records          uint64        `json:"records"`          // non-empty records checked
	Empty            uint64        `json:"empty"`
	HalfEmpty        uint64        `json:"half_empty"`
	Mismatched       uint64        `json:"mismatched"` // records whose digest points at another bucket
	Checksum         uint64        `json:"checksum"`   // xxHash64 fold of the body
	Duration         time.Duration `json:"duration_ns"`
}

// Ratio returns the fraction of buckets that verified cleanly.
func (r *VerifyReport) Ratio() float64 {
	if r.Buckets == 0 {
		return 0
	}
	return float64(r.VerifiedBuckets) / float64(r.Buckets)
}

// Verify checks that every record of the plot at path lives in the bucket
// its pair digest selects, recomputing each digest with the key of the
// source the record came from. Mismatches are counted, not returned as
// errors; only I/O and layout problems fail the call.
//
// The body checksum is computed per range of WithBatchSize buckets and the
// range hashes are folded in order, so it does not depend on WithWorkers.
func Verify(ctx context.Context, path string, opts ...Option) (*VerifyReport, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plot: %w", err)
	}
	defer f.Close()
	layout, err := resolvePlotLayout(f, cfg)
	if err != nil {
		return nil, err
	}
	return verifyFile(ctx, cfg, f, layout)
}

func verifyFile(ctx context.Context, cfg *config, f *os.File, l *plotLayout) (report *VerifyReport, err error) {
	start := time.Now()
	digesters, err := l.sourceDigesters(cfg.digest)
	if err != nil {
		return nil, err
	}

	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap plot: %w", err)
	}
	defer func() {
		err = errors.Join(err, mm.Unmap())
	}()
	if int64(len(mm)) < l.size {
		return nil, fmt.Errorf("plot shrank to %d bytes while verifying", len(mm))
	}
	body := []byte(mm)[:l.bodySize]

	ns := l.nonceSize
	rs := uint64(l.recordSize())
	bb := l.bucketBytes()
	rangeBuckets := uint64(cfg.batchSize)
	ranges := intbits.CeilDiv(l.buckets, rangeBuckets)
	sums := make([]uint64, ranges)
	states := make([][]digestState, cfg.workers)

	var verified, records, empty, half, mismatched atomic.Uint64
	err = parallelFor(ctx, cfg.workers, ranges, func(w int, ri uint64) error {
		if states[w] == nil {
			states[w] = make([]digestState, len(digesters))
		}
		lo := ri * rangeBuckets
		hi := min(lo+rangeBuckets, l.buckets)

		var d Digest
		var lVerified, lRecords, lEmpty, lHalf, lBad uint64
		for b := lo; b < hi; b++ {
			bucket := body[b*bb : (b+1)*bb]
			clean := true
			for r := uint64(0); r < l.recordsPerBucket; r++ {
				rec := bucket[r*rs : (r+1)*rs]
				z1 := intbits.IsZero(rec[:ns])
				z2 := intbits.IsZero(rec[ns:])
				if z1 && z2 {
					lEmpty++
					continue
				}
				if z1 || z2 {
					lHalf++
					clean = false
					continue
				}
				lRecords++
				src := r / l.recordsPerSource
				st := states[w][src]
				if st == nil {
					st = digesters[src].newState()
					states[w][src] = st
				}
				st.sum(&d, rec[:ns], rec[ns:])
				if intbits.PrefixIndex(d[:], l.prefixSize) != b {
					lBad++
					clean = false
				}
			}
			if clean {
				lVerified++
			}
		}
		sums[ri] = xxhash.Sum64(body[lo*bb : hi*bb])

		verified.Add(lVerified)
		records.Add(lRecords)
		empty.Add(lEmpty)
		half.Add(lHalf)
		mismatched.Add(lBad)
		return nil
	})
	if err != nil {
		return nil, err
	}

	h := xxhash.New()
	var buf [8]byte
	for _, s := range sums {
		binary.LittleEndian.PutUint64(buf[:], s)
		_, _ = h.Write(buf[:])
	}

	report = &VerifyReport{
		Path:             f.Name(),
		K:                l.k(),
		Sources:          len(l.sources),
		Buckets:          l.buckets,
		RecordsPerBucket: l.recordsPerBucket,
		VerifiedBuckets:  verified.Load(),
		Records:          records.Load(),
		Empty:            empty.Load(),
		HalfEmpty:        half.Load(),
		Mismatched:       mismatched.Load(),
		Checksum:         h.Sum64(),
		Duration:         time.Since(start),
	}
	log := cfg.logger.With(zap.String("path", report.Path))
	if report.Mismatched > 0 || report.HalfEmpty > 0 {
		log.Warn("verification found misplaced records",
			zap.Uint64("mismatched", report.Mismatched),
			zap.Uint64("half_empty", report.HalfEmpty))
	}
	log.Info("verification complete",
		zap.Uint64("verified_buckets", report.VerifiedBuckets),
		zap.Uint64("buckets", report.Buckets),
		zap.Float64("ratio", report.Ratio()),
		zap.Uint64("records", report.Records),
		zap.Uint64("empty", report.Empty),
		zap.Duration("elapsed", report.Duration))
	return report, nil
}
