package vaultx

import (
	"fmt"
	"math"
	"math/bits"
	"sync/atomic"

	vaultxerrors "github.com/tamirms/vaultx/errors"
	intbits "github.com/tamirms/vaultx/internal/bits"
)

// InsertResult reports the outcome of a bucket insertion.
type InsertResult uint8

const (
	// Inserted means the record claimed a free slot.
	Inserted InsertResult = iota

	// Overflowed means the bucket was already at capacity; the record was
	// counted as waste and dropped.
	Overflowed
)

// bucketState holds the per-bucket counters. count, waste, and full are
// updated by concurrent inserters; flush is only touched between rounds.
type bucketState struct {
	count atomic.Uint32 // slots claimed, clamped to capacity
	waste atomic.Uint32 // insertions rejected after the bucket filled
	full  atomic.Bool   // set exactly once, on the first overflow
	flush uint32        // number of times the bucket was written out
}

// BucketStore is a fixed-capacity, in-memory table of buckets addressed by
// digest prefix. Record slots for all buckets live in one contiguous slice:
// bucket i occupies records[i*capacity*recordSize : (i+1)*capacity*recordSize].
// Unclaimed slots are zero, which readers treat as empty.
//
// Insert is safe for concurrent use. Everything else must not race with
// Insert.
type BucketStore struct {
	numBuckets uint64
	prefixSize int
	capacity   uint32
	recordSize int

	records []byte
	buckets []bucketState

	fullBuckets atomic.Uint64
}

// NewBucketStore allocates 2^(8*prefixSize) buckets of capacity records of
// recordSize bytes each.
func NewBucketStore(prefixSize int, capacity uint64, recordSize int) (*BucketStore, error) {
	if prefixSize < 1 || prefixSize > 4 {
		return nil, fmt.Errorf("%w: %d", vaultxerrors.ErrInvalidPrefixSize, prefixSize)
	}
	if capacity == 0 || capacity > math.MaxUint32 || recordSize <= 0 {
		return nil, fmt.Errorf("%w: capacity=%d recordSize=%d", vaultxerrors.ErrInvalidGeometry, capacity, recordSize)
	}
	numBuckets := uint64(1) << (8 * prefixSize)
	hi, slots := bits.Mul64(numBuckets, capacity)
	hi2, total := bits.Mul64(slots, uint64(recordSize))
	if hi != 0 || hi2 != 0 || total > math.MaxInt {
		return nil, fmt.Errorf("%w: %d buckets x %d records x %d bytes", vaultxerrors.ErrAllocation, numBuckets, capacity, recordSize)
	}
	return &BucketStore{
		numBuckets: numBuckets,
		prefixSize: prefixSize,
		capacity:   uint32(capacity),
		recordSize: recordSize,
		records:    make([]byte, total),
		buckets:    make([]bucketState, numBuckets),
	}, nil
}

// BucketIndex returns the bucket a digest belongs to: its leading prefixSize
// bytes read as a big-endian integer.
func (s *BucketStore) BucketIndex(d *Digest) uint64 {
	return intbits.PrefixIndex(d[:], s.prefixSize)
}

// Insert places record into the bucket selected by d.
func (s *BucketStore) Insert(d *Digest, record []byte) InsertResult {
	return s.InsertAt(s.BucketIndex(d), record)
}

// InsertAt places record into bucket idx. An out-of-range index is a
// configuration fault and panics.
func (s *BucketStore) InsertAt(idx uint64, record []byte) InsertResult {
	if idx >= s.numBuckets {
		panic(fmt.Errorf("%w: %d >= %d", vaultxerrors.ErrBucketOutOfRange, idx, s.numBuckets))
	}
	b := &s.buckets[idx]
	slot := b.count.Add(1) - 1
	if slot < s.capacity {
		off := (idx*uint64(s.capacity) + uint64(slot)) * uint64(s.recordSize)
		copy(s.records[off:off+uint64(s.recordSize)], record)
		return Inserted
	}

	// count only ever moves away from capacity by in-flight increments, so
	// clamping cannot hide a free slot.
	b.count.Store(s.capacity)
	if b.full.CompareAndSwap(false, true) {
		s.fullBuckets.Add(1)
	}
	b.waste.Add(1)
	return Overflowed
}

// Bucket returns the full slot range of bucket idx, including empty slots.
func (s *BucketStore) Bucket(idx uint64) []byte {
	size := uint64(s.capacity) * uint64(s.recordSize)
	off := idx * size
	return s.records[off : off+size]
}

// Count returns the number of occupied slots in bucket idx.
func (s *BucketStore) Count(idx uint64) uint32 {
	return min(s.buckets[idx].count.Load(), s.capacity)
}

// Waste returns the number of rejected insertions into bucket idx.
func (s *BucketStore) Waste(idx uint64) uint32 {
	return s.buckets[idx].waste.Load()
}

// Full reports whether bucket idx has overflowed.
func (s *BucketStore) Full(idx uint64) bool {
	return s.buckets[idx].full.Load()
}

// Flushes returns how many times bucket idx has been written out.
func (s *BucketStore) Flushes(idx uint64) uint32 {
	return s.buckets[idx].flush
}

// FullBuckets returns how many buckets have overflowed at least once.
func (s *BucketStore) FullBuckets() uint64 {
	return s.fullBuckets.Load()
}

// NumBuckets returns the number of buckets.
func (s *BucketStore) NumBuckets() uint64 { return s.numBuckets }

// Capacity returns the slot count per bucket.
func (s *BucketStore) Capacity() uint64 { return uint64(s.capacity) }

// RecordSize returns the slot size in bytes.
func (s *BucketStore) RecordSize() int { return s.recordSize }

// Bytes returns the contiguous record region for all buckets, in bucket order.
func (s *BucketStore) Bytes() []byte { return s.records }

// markFlushed records that every bucket was written out once.
func (s *BucketStore) markFlushed() {
	for i := range s.buckets {
		s.buckets[i].flush++
	}
}

// Reset empties every bucket. Flush counts are kept.
func (s *BucketStore) Reset() {
	clear(s.records)
	for i := range s.buckets {
		b := &s.buckets[i]
		b.count.Store(0)
		b.waste.Store(0)
		b.full.Store(false)
	}
	s.fullBuckets.Store(0)
}

// Stats returns aggregate occupancy counters.
func (s *BucketStore) Stats() StoreStats {
	st := StoreStats{
		Rounds:      1,
		Buckets:     s.numBuckets,
		Capacity:    uint64(s.capacity),
		FullBuckets: s.fullBuckets.Load(),
	}
	for i := range s.buckets {
		st.Records += uint64(min(s.buckets[i].count.Load(), s.capacity))
		st.Wasted += uint64(s.buckets[i].waste.Load())
	}
	return st
}

// StoreStats summarizes bucket occupancy over one or more generation rounds.
type StoreStats struct {
	Rounds      uint64 `json:"rounds"`
	Buckets     uint64 `json:"buckets"`
	Capacity    uint64 `json:"capacity"` // slots per bucket per round
	Records     uint64 `json:"records"`
	Wasted      uint64 `json:"wasted"`
	FullBuckets uint64 `json:"full_buckets"`
}

// StorageEfficiency is the fraction of slots holding a record.
func (st StoreStats) StorageEfficiency() float64 {
	slots := st.Buckets * st.Capacity * max(st.Rounds, 1)
	if slots == 0 {
		return 0
	}
	return float64(st.Records) / float64(slots)
}

// BucketEfficiency is the fraction of buckets that filled up.
func (st StoreStats) BucketEfficiency() float64 {
	if st.Buckets == 0 {
		return 0
	}
	return float64(st.FullBuckets) / float64(st.Buckets*max(st.Rounds, 1))
}

// HashEfficiency is the fraction of insertions that were kept.
func (st StoreStats) HashEfficiency() float64 {
	attempts := st.Records + st.Wasted
	if attempts == 0 {
		return 0
	}
	return float64(st.Records) / float64(attempts)
}

// add accumulates another round's counters.
func (st *StoreStats) add(o StoreStats) {
	st.Rounds += o.Rounds
	st.Buckets = o.Buckets
	st.Capacity = o.Capacity
	st.Records += o.Records
	st.Wasted += o.Wasted
	st.FullBuckets += o.FullBuckets
}
