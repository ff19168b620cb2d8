package vaultx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	vaultxerrors "github.com/tamirms/vaultx/errors"
	intbits "github.com/tamirms/vaultx/internal/bits"
)

// ShuffleGeometry describes a round-major Table-2 file.
//
// The source holds Rounds consecutive sections; section r holds Buckets
// buckets of RecordsPerBucket records each. The shuffled destination holds
// the same records bucket-major: bucket b's records from round 0, then
// round 1, and so on, giving Rounds*RecordsPerBucket records per bucket.
type ShuffleGeometry struct {
	Buckets          uint64
	Rounds           uint64
	RecordsPerBucket uint64 // per round
	RecordSize       int
}

func (g ShuffleGeometry) validate() error {
	if g.Buckets == 0 || g.Rounds == 0 || g.RecordsPerBucket == 0 || g.RecordSize <= 0 || g.RecordSize%2 != 0 {
		return fmt.Errorf("%w: %+v", vaultxerrors.ErrInvalidGeometry, g)
	}
	if g.Buckets&(g.Buckets-1) != 0 {
		return fmt.Errorf("%w: bucket count %d is not a power of two", vaultxerrors.ErrInvalidGeometry, g.Buckets)
	}
	return nil
}

// blockBytes is the size of one bucket's records from one round.
func (g ShuffleGeometry) blockBytes() uint64 {
	return g.RecordsPerBucket * uint64(g.RecordSize)
}

// Size returns the file size described by g.
func (g ShuffleGeometry) Size() int64 {
	return int64(g.Buckets * g.Rounds * g.blockBytes())
}

// ShuffleResult reports what a shuffle did.
type ShuffleResult struct {
	Ranges          uint64        `json:"ranges"`
	BucketsPerRange uint64        `json:"buckets_per_range"`
	Bytes           int64         `json:"bytes"`
	Empty           uint64        `json:"empty"`      // records with both nonces zero
	HalfEmpty       uint64        `json:"half_empty"` // records with exactly one zero nonce
	Duration        time.Duration `json:"duration"`
}

// Shuffle rewrites the round-major file src as the bucket-major file dst.
//
// Memory is bounded by WithMemoryMB: each step reads a range of buckets from
// every round into one buffer, transposes it into a second buffer, and
// writes that with a single call. Reads across rounds use WithIOWorkers
// goroutines; the transpose uses WithWorkers.
func Shuffle(ctx context.Context, src, dst string, g ShuffleGeometry, opts ...Option) (ShuffleResult, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return ShuffleResult{}, err
	}
	return shuffleFile(ctx, cfg, src, dst, g)
}

func shuffleFile(ctx context.Context, cfg *config, src, dst string, g ShuffleGeometry) (res ShuffleResult, err error) {
	if err := g.validate(); err != nil {
		return ShuffleResult{}, err
	}
	in, err := os.Open(src)
	if err != nil {
		return ShuffleResult{}, fmt.Errorf("open shuffle source: %w", err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return ShuffleResult{}, fmt.Errorf("stat shuffle source: %w", err)
	}
	if info.Size() < g.Size() {
		return ShuffleResult{}, fmt.Errorf("%w: source has %d bytes, geometry needs %d", vaultxerrors.ErrTruncatedFile, info.Size(), g.Size())
	}
	adviseSequential(in.Fd())

	out, err := os.Create(dst)
	if err != nil {
		return ShuffleResult{}, fmt.Errorf("create shuffle destination: %w", err)
	}
	defer func() {
		if out != nil {
			err = errors.Join(err, out.Close())
		}
	}()
	if err := preallocate(out, g.Size()); err != nil {
		return ShuffleResult{}, fmt.Errorf("allocate shuffle destination: %w", err)
	}

	res, err = shuffleStreams(ctx, cfg, in, out, g)
	if err != nil {
		return res, err
	}
	if err := out.Sync(); err != nil {
		return res, fmt.Errorf("fsync shuffle destination: %w", err)
	}
	closeErr := out.Close()
	out = nil
	return res, closeErr
}

// shuffleBucketsPerRange returns the largest power-of-two bucket range whose
// read and transpose buffers both fit in memBytes, at least 1.
func shuffleBucketsPerRange(g ShuffleGeometry, memBytes uint64) uint64 {
	perBucket := 2 * g.Rounds * g.blockBytes()
	n := intbits.FloorPowerOfTwo(memBytes / perBucket)
	return min(max(n, 1), g.Buckets)
}

func shuffleStreams(ctx context.Context, cfg *config, in *os.File, out *os.File, g ShuffleGeometry) (ShuffleResult, error) {
	start := time.Now()
	log := cfg.logger
	block := g.blockBytes()
	btr := shuffleBucketsPerRange(g, cfg.memoryBytes)
	rangeBytes := btr * g.Rounds * block
	readBuf := make([]byte, rangeBytes)
	outBuf := make([]byte, rangeBytes)
	ns := g.RecordSize / 2

	res := ShuffleResult{BucketsPerRange: btr}
	for i := uint64(0); i < g.Buckets; i += btr {
		rangeStart := time.Now()
		err := parallelFor(ctx, cfg.ioWorkers, g.Rounds, func(_ int, r uint64) error {
			dst := readBuf[r*btr*block : (r+1)*btr*block]
			off := int64((r*g.Buckets + i) * block)
			_, err := readExactly(in, dst, off)
			return err
		})
		if err != nil {
			return res, fmt.Errorf("shuffle read buckets [%d, %d): %w", i, i+btr, err)
		}

		empty, half, err := countEmptyRecords(ctx, cfg.workers, readBuf, ns)
		if err != nil {
			return res, err
		}
		res.Empty += empty
		res.HalfEmpty += half
		if half > 0 {
			log.Warn("records with exactly one zero nonce",
				zap.Uint64("bucket", i), zap.Uint64("count", half))
		}

		if err := transposeBlocks(ctx, cfg.workers, outBuf, readBuf, g.Rounds, btr, block); err != nil {
			return res, err
		}

		off := int64(i * g.Rounds * block)
		if err := writeExactly(out, outBuf, off); err != nil {
			return res, fmt.Errorf("shuffle write buckets [%d, %d): %w", i, i+btr, err)
		}
		for r := uint64(0); r < g.Rounds; r++ {
			adviseDontNeed(in.Fd(), int64((r*g.Buckets+i)*block), int64(btr*block))
		}

		res.Ranges++
		res.Bytes += int64(rangeBytes)
		elapsed := time.Since(rangeStart)
		log.Debug("shuffled bucket range",
			zap.Uint64("first_bucket", i),
			zap.Uint64("buckets", btr),
			zap.Float64("mb_per_sec", throughputMB(int64(rangeBytes), elapsed)))
	}
	res.Duration = time.Since(start)
	log.Info("shuffle complete",
		zap.Uint64("ranges", res.Ranges),
		zap.Int64("bytes", res.Bytes),
		zap.Uint64("empty", res.Empty),
		zap.Uint64("half_empty", res.HalfEmpty),
		zap.Duration("elapsed", res.Duration))
	return res, nil
}

// transposeBlocks views src as rows x cols blocks of blockBytes each, stored
// row-major, and writes its transpose to dst: block (r, c) of src becomes
// block (c, r) of dst. Columns are distributed over workers.
func transposeBlocks(ctx context.Context, workers int, dst, src []byte, rows, cols, blockBytes uint64) error {
	return parallelFor(ctx, workers, cols, func(_ int, c uint64) error {
		for r := uint64(0); r < rows; r++ {
			from := (r*cols + c) * blockBytes
			to := (c*rows + r) * blockBytes
			copy(dst[to:to+blockBytes], src[from:from+blockBytes])
		}
		return nil
	})
}

// countEmptyRecords counts Table-2 records whose nonces are both zero
// (empty slots) and records with exactly one zero nonce.
func countEmptyRecords(ctx context.Context, workers int, buf []byte, ns int) (empty, half uint64, err error) {
	rec := uint64(2 * ns)
	n := uint64(len(buf)) / rec
	var e, h atomic.Uint64
	err = parallelChunks(ctx, workers, n, func(_ int, lo, hi uint64) error {
		var le, lh uint64
		for i := lo; i < hi; i++ {
			r := buf[i*rec : (i+1)*rec]
			z1 := intbits.IsZero(r[:ns])
			z2 := intbits.IsZero(r[ns:])
			switch {
			case z1 && z2:
				le++
			case z1 != z2:
				lh++
			}
		}
		e.Add(le)
		h.Add(lh)
		return nil
	})
	return e.Load(), h.Load(), err
}

func throughputMB(bytes int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(bytes) / (1 << 20) / d.Seconds()
}
