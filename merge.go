package vaultx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	vaultxerrors "github.com/tamirms/vaultx/errors"
)

// MergeStrategy selects how merge batches are pipelined. All strategies
// produce byte-identical output.
type MergeStrategy uint8

const (
	// StrategySync reads every input in parallel, interleaves on one
	// goroutine, and writes, strictly one batch at a time.
	StrategySync MergeStrategy = 0

	// StrategyParallelMerge reads inputs one after another and interleaves
	// in parallel across the batch's buckets. Writes still block the next
	// read.
	StrategyParallelMerge MergeStrategy = 1

	// StrategyPipeline runs each batch as read, merge, and write tasks.
	// read(b) waits for read(b-1), merge(b) for read(b), and write(b) for
	// merge(b) and write(b-1), so batch b+1 is read and merged while batch
	// b is written. At most max(1, limit/batch - 1) batches hold buffers.
	StrategyPipeline MergeStrategy = 2
)

// String returns the strategy name.
func (s MergeStrategy) String() string {
	switch s {
	case StrategySync:
		return "sync"
	case StrategyParallelMerge:
		return "parallel-merge"
	case StrategyPipeline:
		return "pipeline"
	default:
		return "unknown"
	}
}

// MergeResult describes a merged file.
type MergeResult struct {
	Path             string        `json:"path"`
	K                int           `json:"k"`
	Files            int           `json:"files"`
	Buckets          uint64        `json:"buckets"`
	RecordsPerBucket uint64        `json:"records_per_bucket"` // per source file
	BatchBuckets     uint64        `json:"batch_buckets"`
	Batches          uint64        `json:"batches"`
	Size             int64         `json:"size"`
	Strategy         string        `json:"strategy"`
	Duration         time.Duration `json:"duration_ns"`
	Verify           *VerifyReport `json:"verify,omitempty"`
}

// mergePlan is the fixed geometry of one merge.
type mergePlan struct {
	files        int
	buckets      uint64
	rowBytes     uint64 // one bucket of one input
	batchBuckets uint64
	batches      uint64
}

// globalBucketBytes is the size of one output bucket.
func (p mergePlan) globalBucketBytes() uint64 {
	return uint64(p.files) * p.rowBytes
}

// batchBytes is the size of one batch of output.
func (p mergePlan) batchBytes() uint64 {
	return p.batchBuckets * p.globalBucketBytes()
}

func (p mergePlan) bodySize() int64 {
	return int64(p.buckets * p.globalBucketBytes())
}

// batchRange returns the bucket range [lo, hi) of batch b.
func (p mergePlan) batchRange(b uint64) (lo, hi uint64) {
	lo = b * p.batchBuckets
	return lo, min(lo+p.batchBuckets, p.buckets)
}

// batchBuffers holds the per-input read region and the interleaved output
// of one batch. Input f's rows start at f*batchBuckets*rowBytes.
type batchBuffers struct {
	read   []byte
	merged []byte
}

func (p mergePlan) newBatchBuffers() *batchBuffers {
	n := p.batchBytes()
	return &batchBuffers{read: make([]byte, n), merged: make([]byte, n)}
}

// Merge interleaves the bucket-major plots in inputs into one file at
// outPath. Output bucket k holds input 0's bucket k, then input 1's, and so
// on. A footer with each input's K and key follows the body. Inputs must
// share K and size.
//
// With WithVerify the finished file is verified and the report attached.
func Merge(ctx context.Context, inputs []PlotRef, outPath string, opts ...Option) (res *MergeResult, err error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	plan, err := newMergePlan(cfg, inputs)
	if err != nil {
		return nil, err
	}
	log := cfg.logger.With(zap.String("output", outPath), zap.Int("files", len(inputs)))

	files := make([]*os.File, len(inputs))
	defer func() {
		for _, f := range files {
			if f != nil {
				err = errors.Join(err, f.Close())
			}
		}
	}()
	for i, in := range inputs {
		f, err := os.Open(in.Path)
		if err != nil {
			return nil, fmt.Errorf("open merge input: %w", err)
		}
		files[i] = f
		adviseSequential(f.Fd())
	}

	metas := make([]PlotMetadata, len(inputs))
	for i, in := range inputs {
		metas[i] = PlotMetadata{K: int32(in.K), Key: in.Key()}
	}
	footer := encodeFooter(metas)

	tmpPath := filepath.Join(filepath.Dir(outPath), "."+uuid.NewString()+".merge")
	out, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("create merge output: %w", err)
	}
	defer func() {
		if out != nil {
			err = errors.Join(err, out.Close())
		}
		if err != nil {
			err = errors.Join(err, removeIfExists(tmpPath))
		}
	}()
	totalSize := plan.bodySize() + int64(len(footer))
	if err := preallocate(out, totalSize); err != nil {
		return nil, fmt.Errorf("allocate merge output: %w", err)
	}

	log.Info("merging plots",
		zap.Stringer("strategy", cfg.strategy),
		zap.Uint64("buckets", plan.buckets),
		zap.Uint64("batch_buckets", plan.batchBuckets),
		zap.Uint64("batches", plan.batches),
		zap.Int64("size", totalSize))
	start := time.Now()

	m := &merger{cfg: cfg, plan: plan, inputs: files, out: out, log: log}
	switch cfg.strategy {
	case StrategySync:
		err = m.runSync(ctx)
	case StrategyParallelMerge:
		err = m.runParallelMerge(ctx)
	case StrategyPipeline:
		err = m.runPipeline(ctx)
	default:
		err = fmt.Errorf("%w: %d", vaultxerrors.ErrInvalidStrategy, cfg.strategy)
	}
	if err != nil {
		return nil, err
	}

	if err := writeExactly(out, footer, plan.bodySize()); err != nil {
		return nil, fmt.Errorf("write footer: %w", err)
	}
	if err := out.Sync(); err != nil {
		return nil, fmt.Errorf("fsync merge output: %w", err)
	}
	closeErr := out.Close()
	out = nil
	if closeErr != nil {
		return nil, fmt.Errorf("close merge output: %w", closeErr)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return nil, fmt.Errorf("publish merge output: %w", err)
	}

	res = &MergeResult{
		Path:             outPath,
		K:                inputs[0].K,
		Files:            len(inputs),
		Buckets:          plan.buckets,
		RecordsPerBucket: plan.rowBytes / uint64(cfg.recordSize()),
		BatchBuckets:     plan.batchBuckets,
		Batches:          plan.batches,
		Size:             totalSize,
		Strategy:         cfg.strategy.String(),
		Duration:         time.Since(start),
	}
	log.Info("merge complete",
		zap.Duration("elapsed", res.Duration),
		zap.Float64("mb_per_sec", throughputMB(totalSize, res.Duration)))

	if cfg.verify {
		report, err := verifyMerged(ctx, cfg, outPath, plan, metas)
		if err != nil {
			return res, fmt.Errorf("verify merge output: %w", err)
		}
		res.Verify = report
	}
	return res, nil
}

// verifyMerged verifies a freshly merged file using the plan it was built
// with, so the output name need not follow MergeFileName.
func verifyMerged(ctx context.Context, cfg *config, path string, plan mergePlan, metas []PlotMetadata) (*VerifyReport, error) {
	layout, err := mergedLayout(cfg, plan, metas)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open merge output: %w", err)
	}
	defer f.Close()
	return verifyFile(ctx, cfg, f, layout)
}

func newMergePlan(cfg *config, inputs []PlotRef) (mergePlan, error) {
	if len(inputs) == 0 {
		return mergePlan{}, vaultxerrors.ErrNoInputs
	}
	buckets := cfg.numBuckets()
	rec := uint64(cfg.recordSize())
	first := inputs[0]
	for _, in := range inputs[1:] {
		if in.K != first.K || in.Size != first.Size {
			return mergePlan{}, fmt.Errorf("%w: %s (K=%d, %d bytes) vs %s (K=%d, %d bytes)",
				vaultxerrors.ErrMismatchedInputs, first.Path, first.K, first.Size, in.Path, in.K, in.Size)
		}
	}
	if first.Size <= 0 || uint64(first.Size)%(buckets*rec) != 0 {
		return mergePlan{}, fmt.Errorf("%w: %s has %d bytes, not a multiple of %d buckets x %d-byte records",
			vaultxerrors.ErrInvalidGeometry, first.Path, first.Size, buckets, rec)
	}
	rowBytes := uint64(first.Size) / buckets
	p := mergePlan{files: len(inputs), buckets: buckets, rowBytes: rowBytes}
	p.batchBuckets = min(max(cfg.batchMemoryBytes/p.globalBucketBytes(), 1), buckets)
	p.batches = (buckets + p.batchBuckets - 1) / p.batchBuckets
	return p, nil
}
