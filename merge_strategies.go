package vaultx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// merger runs one merge plan against open inputs and output.
type merger struct {
	cfg    *config
	plan   mergePlan
	inputs []*os.File
	out    io.WriterAt
	log    *zap.Logger
}

// readBatch reads buckets [lo, hi) of every input into buf.read using
// workers goroutines. An input that ends early is logged and the missing
// tail is left zeroed, which reads as empty slots.
func (m *merger) readBatch(ctx context.Context, buf *batchBuffers, lo, hi uint64, workers int) error {
	p := m.plan
	n := (hi - lo) * p.rowBytes
	return parallelFor(ctx, workers, uint64(p.files), func(_ int, f uint64) error {
		base := f * p.batchBuckets * p.rowBytes
		dst := buf.read[base : base+n]
		got, err := readExactly(m.inputs[f], dst, int64(lo*p.rowBytes))
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return fmt.Errorf("read input %d buckets [%d, %d): %w", f, lo, hi, err)
			}
			m.log.Info("merge input ended early",
				zap.Uint64("input", f),
				zap.Uint64("first_bucket", lo),
				zap.Int("bytes_read", got),
				zap.Uint64("bytes_wanted", n))
			clear(dst[got:])
		}
		return nil
	})
}

// mergeBatch interleaves buf.read into buf.merged for buckets [lo, hi):
// output bucket k holds each input's row k in input order. The buckets
// are spread over workers goroutines.
func (m *merger) mergeBatch(ctx context.Context, buf *batchBuffers, lo, hi uint64, workers int) error {
	p := m.plan
	row := p.rowBytes
	global := p.globalBucketBytes()
	return parallelFor(ctx, workers, hi-lo, func(_ int, k uint64) error {
		for f := uint64(0); f < uint64(p.files); f++ {
			src := f*p.batchBuckets*row + k*row
			dst := k*global + f*row
			copy(buf.merged[dst:dst+row], buf.read[src:src+row])
		}
		return nil
	})
}

// writeBatch writes the merged buckets [lo, hi) at their final offset.
func (m *merger) writeBatch(buf *batchBuffers, lo, hi uint64) error {
	global := m.plan.globalBucketBytes()
	n := (hi - lo) * global
	if err := writeExactly(m.out, buf.merged[:n], int64(lo*global)); err != nil {
		return fmt.Errorf("write buckets [%d, %d): %w", lo, hi, err)
	}
	return nil
}

// runSync is StrategySync.
func (m *merger) runSync(ctx context.Context) error {
	buf := m.plan.newBatchBuffers()
	for b := uint64(0); b < m.plan.batches; b++ {
		lo, hi := m.plan.batchRange(b)
		if err := m.readBatch(ctx, buf, lo, hi, m.cfg.ioWorkers); err != nil {
			return err
		}
		if err := m.mergeBatch(ctx, buf, lo, hi, 1); err != nil {
			return err
		}
		if err := m.writeBatch(buf, lo, hi); err != nil {
			return err
		}
		m.logBatch(b, lo, hi)
	}
	return nil
}

// runParallelMerge is StrategyParallelMerge.
func (m *merger) runParallelMerge(ctx context.Context) error {
	buf := m.plan.newBatchBuffers()
	for b := uint64(0); b < m.plan.batches; b++ {
		lo, hi := m.plan.batchRange(b)
		if err := m.readBatch(ctx, buf, lo, hi, 1); err != nil {
			return err
		}
		if err := m.mergeBatch(ctx, buf, lo, hi, m.cfg.workers); err != nil {
			return err
		}
		if err := m.writeBatch(buf, lo, hi); err != nil {
			return err
		}
		m.logBatch(b, lo, hi)
	}
	return nil
}

// maxActiveBatches returns how many batches StrategyPipeline may hold
// buffers for at once.
func (m *merger) maxActiveBatches() uint64 {
	batch := m.plan.batchBytes()
	active := uint64(1)
	if n := m.cfg.memoryLimitBytes / batch; n > 1 {
		active = n - 1
	}
	return min(active, m.plan.batches)
}

// runPipeline is StrategyPipeline. Every batch runs on its own goroutine
// and waits on its predecessor's read and write completion channels. A
// batch must take a buffer set from free before it starts, so read(b) also
// waits for write(b - maxActive) to return its buffers.
func (m *merger) runPipeline(ctx context.Context) error {
	active := m.maxActiveBatches()
	free := make(chan *batchBuffers, active)
	for range active {
		free <- nil // allocated on first use
	}

	g, gctx := errgroup.WithContext(ctx)
	prevRead := closedChan()
	prevWrite := closedChan()

dispatch:
	for b := uint64(0); b < m.plan.batches; b++ {
		var buf *batchBuffers
		select {
		case buf = <-free:
		case <-gctx.Done():
			break dispatch
		}
		if buf == nil {
			buf = m.plan.newBatchBuffers()
		}

		lo, hi := m.plan.batchRange(b)
		readDone := make(chan struct{})
		writeDone := make(chan struct{})
		waitRead, waitWrite := prevRead, prevWrite
		g.Go(func() error {
			if err := awaitTask(gctx, waitRead); err != nil {
				return err
			}
			if err := m.readBatch(gctx, buf, lo, hi, m.cfg.ioWorkers); err != nil {
				return err
			}
			close(readDone)

			if err := m.mergeBatch(gctx, buf, lo, hi, m.cfg.workers); err != nil {
				return err
			}

			if err := awaitTask(gctx, waitWrite); err != nil {
				return err
			}
			if err := m.writeBatch(buf, lo, hi); err != nil {
				return err
			}
			close(writeDone)
			m.logBatch(b, lo, hi)
			free <- buf
			return nil
		})
		prevRead, prevWrite = readDone, writeDone
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (m *merger) logBatch(b, lo, hi uint64) {
	m.log.Debug("merged batch",
		zap.Uint64("batch", b),
		zap.Uint64("first_bucket", lo),
		zap.Uint64("buckets", hi-lo))
}

// awaitTask blocks until done is closed or ctx is cancelled.
func awaitTask(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func closedChan() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}
