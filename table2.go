package vaultx

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	vaultxerrors "github.com/tamirms/vaultx/errors"
	intbits "github.com/tamirms/vaultx/internal/bits"
)

// ExpectedDistance returns the largest digest distance, 2^(64-k), at which
// two Table-1 records still form a Table-2 pair.
func ExpectedDistance(k int) uint64 {
	return uint64(1) << (64 - k)
}

// Table2Result reports what a Table-2 pass did.
type Table2Result struct {
	Sorted     uint64 `json:"sorted"`     // Table-1 records sorted
	Pairs      uint64 `json:"pairs"`      // pairs within the expected distance
	Overflowed uint64 `json:"overflowed"` // pairs dropped because their bucket was full
}

// sortEntry is the auxiliary (nonce, digest) record used while sorting a
// bucket. The digest is computed once per record.
type sortEntry struct {
	digest Digest
	nonce  [8]byte
}

func compareSortEntries(a, b sortEntry) int {
	if c := bytes.Compare(a.digest[:], b.digest[:]); c != 0 {
		return c
	}
	return bytes.Compare(a.nonce[:], b.nonce[:])
}

// MatchTable2 sorts every bucket of t1 by digest and inserts each close pair
// of nonces into t2, bucketed by the pair's own digest. Buckets are
// processed in parallel; concurrent pairs landing in the same t2 bucket are
// serialized by the store's atomic insert.
func MatchTable2(ctx context.Context, t1, t2 *BucketStore, d *Digester, opts ...Option) (Table2Result, error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return Table2Result{}, err
	}
	return matchTable2(ctx, cfg, t1, t2, d)
}

func matchTable2(ctx context.Context, cfg *config, t1, t2 *BucketStore, d *Digester) (Table2Result, error) {
	ns := cfg.nonceSize
	if t1.RecordSize() != ns || t2.RecordSize() != 2*ns {
		return Table2Result{}, fmt.Errorf("%w: table record sizes %d/%d for %d-byte nonces",
			vaultxerrors.ErrInvalidGeometry, t1.RecordSize(), t2.RecordSize(), ns)
	}
	expected := ExpectedDistance(cfg.k)

	type scratch struct {
		st  digestState
		aux []sortEntry
	}
	workers := make([]scratch, cfg.workers)
	var sorted, pairs, overflowed atomic.Uint64

	err := parallelFor(ctx, cfg.workers, t1.NumBuckets(), func(w int, idx uint64) error {
		n := t1.Count(idx)
		if n == 0 {
			return nil
		}
		s := &workers[w]
		if s.st == nil {
			s.st = d.newState()
		}
		s.aux = sortBucket(t1.Bucket(idx)[:int(n)*ns], ns, s.st, s.aux)
		sorted.Add(uint64(n))

		var rec [16]byte
		var pd Digest
		var found, dropped uint64
		matchSorted(s.aux, ns, expected, func(i, j int) {
			copy(rec[:ns], s.aux[i].nonce[:ns])
			copy(rec[ns:2*ns], s.aux[j].nonce[:ns])
			s.st.sum(&pd, rec[:ns], rec[ns:2*ns])
			found++
			if t2.Insert(&pd, rec[:2*ns]) == Overflowed {
				dropped++
			}
		})
		pairs.Add(found)
		overflowed.Add(dropped)
		return nil
	})
	if err != nil {
		return Table2Result{}, err
	}
	return Table2Result{Sorted: sorted.Load(), Pairs: pairs.Load(), Overflowed: overflowed.Load()}, nil
}

// sortBucket sorts the records of one bucket by digest and writes the
// sorted nonces back in place. It returns aux holding the sorted entries;
// pass the returned slice back in to reuse its storage.
func sortBucket(bucket []byte, ns int, st digestState, aux []sortEntry) []sortEntry {
	aux = aux[:0]
	for off := 0; off+ns <= len(bucket); off += ns {
		var e sortEntry
		copy(e.nonce[:ns], bucket[off:off+ns])
		st.sum(&e.digest, e.nonce[:ns], nil)
		aux = append(aux, e)
	}
	slices.SortFunc(aux, compareSortEntries)
	for i := range aux {
		copy(bucket[i*ns:(i+1)*ns], aux[i].nonce[:ns])
	}
	return aux
}

// matchSorted calls emit(i, j) for every i < j in sorted whose distance is
// within expected, skipping empty (all-zero) nonces on both sides. Because
// digests ascend, the distance from i only grows with j, so the inner scan
// stops at the first j beyond expected.
func matchSorted(sorted []sortEntry, ns int, expected uint64, emit func(i, j int)) {
	for i := range sorted {
		if intbits.IsZero(sorted[i].nonce[:ns]) {
			continue
		}
		for j := i + 1; j < len(sorted); j++ {
			if intbits.IsZero(sorted[j].nonce[:ns]) {
				continue
			}
			if intbits.Distance(sorted[i].digest[:], sorted[j].digest[:]) > expected {
				break
			}
			emit(i, j)
		}
	}
}
