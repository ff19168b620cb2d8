package vaultx

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
)

func TestParallelForVisitsEachItemOnce(t *testing.T) {
	for _, workers := range []int{1, 3, 16, 200} {
		for _, n := range []uint64{0, 1, 7, 1000} {
			t.Run(fmt.Sprintf("workers=%d/n=%d", workers, n), func(t *testing.T) {
				hits := make([]atomic.Int32, n)
				var badWorker atomic.Bool
				err := parallelFor(context.Background(), workers, n, func(w int, i uint64) error {
					if w < 0 || w >= workers {
						badWorker.Store(true)
					}
					hits[i].Add(1)
					return nil
				})
				if err != nil {
					t.Fatal(err)
				}
				if badWorker.Load() {
					t.Fatal("worker index out of range")
				}
				for i := range hits {
					if got := hits[i].Load(); got != 1 {
						t.Fatalf("item %d visited %d times", i, got)
					}
				}
			})
		}
	}
}

func TestParallelForStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	for _, workers := range []int{1, 4} {
		var ran atomic.Uint64
		err := parallelFor(context.Background(), workers, 100_000, func(_ int, i uint64) error {
			ran.Add(1)
			if i == 10 {
				return boom
			}
			return nil
		})
		if !errors.Is(err, boom) {
			t.Fatalf("workers=%d: got %v, want boom", workers, err)
		}
		if ran.Load() == 100_000 {
			t.Fatalf("workers=%d: every item ran after the error", workers)
		}
	}
}

func TestParallelForCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, workers := range []int{1, 4} {
		err := parallelFor(ctx, workers, 100, func(int, uint64) error { return nil })
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("workers=%d: got %v", workers, err)
		}
	}
}

func TestParallelChunksCoversRange(t *testing.T) {
	for _, workers := range []int{0, 1, 3, 8, 50} {
		for _, n := range []uint64{1, 5, 17, 4096} {
			hits := make([]atomic.Int32, n)
			var calls atomic.Int32
			err := parallelChunks(context.Background(), workers, n, func(_ int, lo, hi uint64) error {
				calls.Add(1)
				for i := lo; i < hi; i++ {
					hits[i].Add(1)
				}
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
			if int(calls.Load()) > max(workers, 1) {
				t.Fatalf("workers=%d n=%d: %d chunks", workers, n, calls.Load())
			}
			for i := range hits {
				if hits[i].Load() != 1 {
					t.Fatalf("workers=%d n=%d: item %d covered %d times", workers, n, i, hits[i].Load())
				}
			}
		}
	}
}
