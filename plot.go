package vaultx

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	vaultxerrors "github.com/tamirms/vaultx/errors"
	intbits "github.com/tamirms/vaultx/internal/bits"
)

// plotGeometry fixes how a plot's nonce space is split into rounds and how
// large each bucket is.
type plotGeometry struct {
	buckets        uint64
	rounds         uint64
	noncesPerRound uint64
	capacity       uint64 // slots per bucket per round, both tables
	nonceSize      int
	recordSize     int // Table-2 record
}

// newPlotGeometry sizes generation for cfg. Each nonce costs one Table-1
// slot and one Table-2 slot (3 nonce widths), and the round count is the
// smallest power of two that keeps both stores within the memory budget.
func newPlotGeometry(cfg *config) (plotGeometry, error) {
	totalNonces := uint64(1) << cfg.k
	buckets := cfg.numBuckets()
	perNonce := uint64(3 * cfg.nonceSize)

	need := totalNonces * perNonce
	rounds := intbits.CeilPowerOfTwo(intbits.CeilDiv(need, cfg.memoryBytes))
	if rounds > totalNonces {
		return plotGeometry{}, fmt.Errorf("%w: %d bytes cannot hold one bucket slot", vaultxerrors.ErrInvalidMemory, cfg.memoryBytes)
	}
	perRound := totalNonces / rounds
	capacity := perRound / buckets
	if capacity == 0 {
		return plotGeometry{}, fmt.Errorf("%w: %d nonces per round over %d buckets (raise K or memory, or lower prefix size)",
			vaultxerrors.ErrInvalidGeometry, perRound, buckets)
	}

	if cfg.fullBuckets {
		space := uint64(math.MaxUint64)
		if bitsInNonce := 8 * cfg.nonceSize; bitsInNonce < 64 {
			space = uint64(1) << bitsInNonce
		}
		perRound = space / rounds
	}

	return plotGeometry{
		buckets:        buckets,
		rounds:         rounds,
		noncesPerRound: perRound,
		capacity:       capacity,
		nonceSize:      cfg.nonceSize,
		recordSize:     cfg.recordSize(),
	}, nil
}

// roundBytes is the size of one round's Table-2 store.
func (g plotGeometry) roundBytes() uint64 {
	return g.buckets * g.capacity * uint64(g.recordSize)
}

// fileSize is the size of the finished plot body.
func (g plotGeometry) fileSize() int64 {
	return int64(g.rounds * g.roundBytes())
}

// recordsPerBucket is the per-bucket record count in the finished plot.
func (g plotGeometry) recordsPerBucket() uint64 {
	return g.rounds * g.capacity
}

func (g plotGeometry) shuffleGeometry() ShuffleGeometry {
	return ShuffleGeometry{
		Buckets:          g.buckets,
		Rounds:           g.rounds,
		RecordsPerBucket: g.capacity,
		RecordSize:       g.recordSize,
	}
}

// PlotResult describes a generated plot.
type PlotResult struct {
	Path             string `json:"path"`
	ID               PlotID `json:"-"`
	K                int    `json:"k"`
	Rounds           uint64 `json:"rounds"`
	Buckets          uint64 `json:"buckets"`
	RecordsPerBucket uint64 `json:"records_per_bucket"`
	Size             int64  `json:"size"`

	Hashed uint64     `json:"hashed"`
	Pairs  uint64     `json:"pairs"`
	Table1 StoreStats `json:"table1"`
	Table2 StoreStats `json:"table2"`

	HashTime    time.Duration `json:"hash_ns"`
	MatchTime   time.Duration `json:"match_ns"`
	WriteTime   time.Duration `json:"write_ns"`
	ShuffleTime time.Duration `json:"shuffle_ns"`
	Total       time.Duration `json:"total_ns"`
}

// GeneratePlot creates a plot with a fresh random ID in dir and returns
// its description. The file is named PlotFileName(K, id).
func GeneratePlot(ctx context.Context, dir string, opts ...Option) (*PlotResult, error) {
	id, err := NewPlotID()
	if err != nil {
		return nil, err
	}
	return GeneratePlotWithID(ctx, dir, id, opts...)
}

// GeneratePlotWithID creates the plot for a given ID. Generation is
// deterministic in (ID, options) except for the order of records within a
// bucket.
//
// Each round hashes its nonce range into the Table-1 store, matches every
// bucket into the Table-2 store, and writes that store at the round's
// offset. With more than one round the round-major result is then shuffled
// into bucket-major order. Output is written under a temporary name and
// renamed into place once complete.
func GeneratePlotWithID(ctx context.Context, dir string, id PlotID, opts ...Option) (res *PlotResult, err error) {
	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}
	geom, err := newPlotGeometry(cfg)
	if err != nil {
		return nil, err
	}
	key := DeriveKey(id, cfg.k)
	d, err := NewDigester(cfg.digest, key[:])
	if err != nil {
		return nil, err
	}

	t1, err := NewBucketStore(cfg.prefixSize, geom.capacity, cfg.nonceSize)
	if err != nil {
		return nil, err
	}
	t2, err := NewBucketStore(cfg.prefixSize, geom.capacity, cfg.recordSize())
	if err != nil {
		return nil, err
	}

	log := cfg.logger.With(zap.String("plot", id.String()), zap.Int("k", cfg.k))
	finalPath := filepath.Join(dir, PlotFileName(cfg.k, id))
	tmpPath := filepath.Join(dir, "."+uuid.NewString()+".tmp")
	bodyPath := tmpPath
	if geom.rounds > 1 {
		bodyPath = filepath.Join(dir, "."+uuid.NewString()+".rounds")
	}
	defer func() {
		if err != nil {
			removeErr := removeIfExists(tmpPath)
			if bodyPath != tmpPath {
				removeErr = errors.Join(removeErr, removeIfExists(bodyPath))
			}
			err = errors.Join(err, removeErr)
		}
	}()

	log.Info("generating plot",
		zap.Uint64("rounds", geom.rounds),
		zap.Uint64("buckets", geom.buckets),
		zap.Uint64("capacity", geom.capacity),
		zap.Int64("size", geom.fileSize()),
		zap.Stringer("digest", cfg.digest))

	res = &PlotResult{
		Path:             finalPath,
		ID:               id,
		K:                cfg.k,
		Rounds:           geom.rounds,
		Buckets:          geom.buckets,
		RecordsPerBucket: geom.recordsPerBucket(),
		Size:             geom.fileSize(),
	}
	start := time.Now()

	pw, err := newPlotWriter(bodyPath, geom.fileSize())
	if err != nil {
		return nil, err
	}
	if err := runRounds(ctx, cfg, geom, d, t1, t2, pw, res, log); err != nil {
		return nil, errors.Join(err, pw.close())
	}
	writeStart := time.Now()
	if err := pw.finalize(); err != nil {
		return nil, err
	}
	res.WriteTime += time.Since(writeStart)

	if geom.rounds > 1 {
		shuffleStart := time.Now()
		if _, err := shuffleFile(ctx, cfg, bodyPath, tmpPath, geom.shuffleGeometry()); err != nil {
			return nil, fmt.Errorf("shuffle rounds: %w", err)
		}
		if err := os.Remove(bodyPath); err != nil {
			return nil, fmt.Errorf("remove round-major scratch file: %w", err)
		}
		res.ShuffleTime = time.Since(shuffleStart)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, fmt.Errorf("publish plot: %w", err)
	}
	res.Total = time.Since(start)

	log.Info("plot complete",
		zap.String("path", finalPath),
		zap.Uint64("hashed", res.Hashed),
		zap.Uint64("pairs", res.Pairs),
		zap.Uint64("table2_records", res.Table2.Records),
		zap.Float64("storage_efficiency", res.Table2.StorageEfficiency()),
		zap.Float64("bucket_efficiency", res.Table2.BucketEfficiency()),
		zap.Float64("hash_efficiency", res.Table1.HashEfficiency()),
		zap.Duration("elapsed", res.Total))
	return res, nil
}

func runRounds(ctx context.Context, cfg *config, geom plotGeometry, d *Digester,
	t1, t2 *BucketStore, pw *plotWriter, res *PlotResult, log *zap.Logger) error {
	roundBytes := geom.roundBytes()
	for r := uint64(0); r < geom.rounds; r++ {
		t1.Reset()
		t2.Reset()

		lo := r * geom.noncesPerRound
		hi := lo + geom.noncesPerRound

		hashStart := time.Now()
		gen, err := generateTable1(ctx, cfg, t1, d, lo, hi)
		if err != nil {
			return fmt.Errorf("round %d table1: %w", r, err)
		}
		res.HashTime += time.Since(hashStart)

		matchStart := time.Now()
		m, err := matchTable2(ctx, cfg, t1, t2, d)
		if err != nil {
			return fmt.Errorf("round %d table2: %w", r, err)
		}
		res.MatchTime += time.Since(matchStart)

		writeStart := time.Now()
		if err := writeExactly(pw, t2.Bytes(), int64(r*roundBytes)); err != nil {
			return fmt.Errorf("round %d write: %w", r, err)
		}
		t2.markFlushed()
		res.WriteTime += time.Since(writeStart)

		s1, s2 := t1.Stats(), t2.Stats()
		res.Table1.add(s1)
		res.Table2.add(s2)
		res.Hashed += gen.Hashed
		res.Pairs += m.Pairs

		log.Debug("round complete",
			zap.Uint64("round", r),
			zap.Uint64("hashed", gen.Hashed),
			zap.Bool("early_exit", gen.EarlyExit),
			zap.Uint64("table1_full_buckets", s1.FullBuckets),
			zap.Uint64("pairs", m.Pairs),
			zap.Uint64("table2_records", s2.Records))
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
