package vaultx

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ctxCheckInterval is how many items a serial loop processes between
// context checks.
const ctxCheckInterval = 64

// parallelFor runs fn(worker, i) for every i in [0, n) on at most workers
// goroutines. Items are claimed dynamically from a shared counter, so the
// order in which items run is unspecified. worker is in [0, workers) and is
// stable for the lifetime of a goroutine, letting callers keep per-worker
// scratch state without locking.
//
// After the first error or context cancellation no new items are started;
// items already running complete. The first error is returned.
func parallelFor(ctx context.Context, workers int, n uint64, fn func(worker int, i uint64) error) error {
	if n == 0 {
		return nil
	}
	if uint64(workers) > n {
		workers = int(n)
	}
	if workers <= 1 {
		for i := uint64(0); i < n; i++ {
			if i%ctxCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			if err := fn(0, i); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	var next atomic.Uint64
	for w := range workers {
		g.Go(func() error {
			for {
				i := next.Add(1) - 1
				if i >= n {
					return nil
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := fn(w, i); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}

// parallelChunks splits [0, n) into at most workers contiguous chunks and
// runs fn(worker, lo, hi) for each on its own goroutine.
func parallelChunks(ctx context.Context, workers int, n uint64, fn func(worker int, lo, hi uint64) error) error {
	if n == 0 {
		return nil
	}
	if uint64(workers) > n {
		workers = int(n)
	}
	if workers < 1 {
		workers = 1
	}
	chunk := (n + uint64(workers) - 1) / uint64(workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := range workers {
		lo := uint64(w) * chunk
		if lo >= n {
			break
		}
		hi := min(lo+chunk, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(w, lo, hi)
		})
	}
	return g.Wait()
}
