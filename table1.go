package vaultx

import (
	"context"
	"fmt"
	"sync/atomic"

	vaultxerrors "github.com/tamirms/vaultx/errors"
	intbits "github.com/tamirms/vaultx/internal/bits"
)

// Table1Result reports what a Table-1 pass did.
type Table1Result struct {
	Hashed         uint64 `json:"hashed"`          // nonces hashed and offered to the store
	SkippedBatches uint64 `json:"skipped_batches"` // batches dropped after every bucket filled
	EarlyExit      bool   `json:"early_exit"`
}

// GenerateTable1 hashes every nonce in [start, end) with d and inserts the
// nonce into store under its digest's bucket. Nonces are encoded
// little-endian in the configured nonce size, which must match the store's
// record size.
//
// Work is split into batches of WithBatchSize nonces spread over
// WithWorkers goroutines. With early exit enabled (the default), workers
// stop picking up batches once every bucket has overflowed; the check is
// made between batches, so a few extra batches may still run.
func GenerateTable1(ctx context.Context, store *BucketStore, d *Digester, start, end uint64, opts ...Option) (Table1Result, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return Table1Result{}, err
	}
	return generateTable1(ctx, cfg, store, d, start, end)
}

func generateTable1(ctx context.Context, cfg *config, store *BucketStore, d *Digester, start, end uint64) (Table1Result, error) {
	ns := cfg.nonceSize
	if store.RecordSize() != ns {
		return Table1Result{}, fmt.Errorf("%w: store records are %d bytes, nonces are %d", vaultxerrors.ErrInvalidGeometry, store.RecordSize(), ns)
	}
	if end <= start {
		return Table1Result{}, nil
	}

	batch := uint64(cfg.batchSize)
	numBatches := intbits.CeilDiv(end-start, batch)
	states := make([]digestState, cfg.workers)

	var (
		stop    atomic.Bool
		hashed  atomic.Uint64
		skipped atomic.Uint64
	)
	err := parallelFor(ctx, cfg.workers, numBatches, func(w int, b uint64) error {
		if cfg.earlyExit && stop.Load() {
			skipped.Add(1)
			return nil
		}
		st := states[w]
		if st == nil {
			st = d.newState()
			states[w] = st
		}

		var nonce [8]byte
		var dg Digest
		lo := start + b*batch
		hi := min(lo+batch, end)
		for n := lo; n < hi; n++ {
			intbits.PutUintLE(nonce[:], n, ns)
			st.sum(&dg, nonce[:ns], nil)
			store.Insert(&dg, nonce[:ns])
		}
		hashed.Add(hi - lo)

		if cfg.earlyExit && store.FullBuckets() >= store.NumBuckets() {
			stop.Store(true)
		}
		return nil
	})
	if err != nil {
		return Table1Result{}, err
	}
	return Table1Result{
		Hashed:         hashed.Load(),
		SkippedBatches: skipped.Load(),
		EarlyExit:      stop.Load(),
	}, nil
}
