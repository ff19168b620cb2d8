package vaultx

import (
	"fmt"
	"os"

	vaultxerrors "github.com/tamirms/vaultx/errors"
)

// plotLayout is the resolved geometry of a plot file on disk, single or
// merged.
type plotLayout struct {
	size             int64
	bodySize         int64
	buckets          uint64
	prefixSize       int
	nonceSize        int
	recordsPerBucket uint64
	sources          []PlotMetadata
	recordsPerSource uint64 // records each source contributes to a bucket
}

func (l *plotLayout) recordSize() int { return 2 * l.nonceSize }

func (l *plotLayout) bucketBytes() uint64 {
	return l.recordsPerBucket * uint64(l.recordSize())
}

// k returns the K shared by all sources.
func (l *plotLayout) k() int { return int(l.sources[0].K) }

// resolvePlotLayout works out the layout of f from its name: a single plot
// (PlotFileName) carries its key in the name, a merged file
// (MergeFileName) carries one footer record per source. Bucket geometry
// comes from cfg.
func resolvePlotLayout(f *os.File, cfg *config) (*plotLayout, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat plot: %w", err)
	}
	size := info.Size()

	var sources []PlotMetadata
	bodySize := size
	if k, id, err := ParsePlotFileName(f.Name()); err == nil {
		sources = []PlotMetadata{{K: int32(k), Key: DeriveKey(id, k)}}
	} else if k, n, err := ParseMergeFileName(f.Name()); err == nil {
		sources, err = readFooterFrom(f, size, n)
		if err != nil {
			return nil, err
		}
		for i, s := range sources {
			if int(s.K) != k {
				return nil, fmt.Errorf("%w: footer record %d has K=%d, file name says K=%d",
					vaultxerrors.ErrMismatchedInputs, i, s.K, k)
			}
		}
		bodySize -= int64(n) * footerRecordSize
	} else {
		return nil, fmt.Errorf("%w: %s", vaultxerrors.ErrInvalidFileName, f.Name())
	}

	l := &plotLayout{
		size:       size,
		bodySize:   bodySize,
		buckets:    cfg.numBuckets(),
		prefixSize: cfg.prefixSize,
		nonceSize:  cfg.nonceSize,
		sources:    sources,
	}
	if err := l.deriveCounts(); err != nil {
		return nil, err
	}
	return l, nil
}

// deriveCounts fills recordsPerBucket and recordsPerSource from bodySize.
func (l *plotLayout) deriveCounts() error {
	unit := l.buckets * uint64(l.recordSize()) * uint64(len(l.sources))
	if l.bodySize <= 0 || uint64(l.bodySize)%unit != 0 {
		return fmt.Errorf("%w: body of %d bytes does not divide into %d buckets x %d sources x %d-byte records",
			vaultxerrors.ErrTruncatedFile, l.bodySize, l.buckets, len(l.sources), l.recordSize())
	}
	l.recordsPerBucket = uint64(l.bodySize) / l.buckets / uint64(l.recordSize())
	l.recordsPerSource = l.recordsPerBucket / uint64(len(l.sources))
	return nil
}

// mergedLayout describes a file just written by Merge.
func mergedLayout(cfg *config, plan mergePlan, sources []PlotMetadata) (*plotLayout, error) {
	l := &plotLayout{
		bodySize:   plan.bodySize(),
		buckets:    plan.buckets,
		prefixSize: cfg.prefixSize,
		nonceSize:  cfg.nonceSize,
		sources:    sources,
	}
	l.size = l.bodySize + int64(len(sources))*footerRecordSize
	if err := l.deriveCounts(); err != nil {
		return nil, err
	}
	return l, nil
}

// sourceDigesters builds one keyed digester per source.
func (l *plotLayout) sourceDigesters(algo DigestAlgorithmID) ([]*Digester, error) {
	out := make([]*Digester, len(l.sources))
	for i := range l.sources {
		d, err := NewDigester(algo, l.sources[i].Key[:])
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}
