package vaultx

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"

	vaultxerrors "github.com/tamirms/vaultx/errors"
)

const (
	// DefaultK is the default nonce-space exponent.
	DefaultK = 24

	// MaxK bounds the nonce space at 2^40 nonces.
	MaxK = 40

	// DefaultNonceSize is the default nonce width in bytes.
	DefaultNonceSize = 4

	// DefaultPrefixSize is the default bucket prefix width (2^24 buckets).
	DefaultPrefixSize = 3

	// DefaultBatchSize is the number of nonces hashed per Table-1 work item.
	DefaultBatchSize = 1024

	defaultMemoryMB      = 1024
	defaultBatchMemoryMB = 256
	defaultLimitMB       = 307200
)

// Option is a functional option shared by plot generation, shuffle, merge,
// verification, and search.
type Option func(*config)

type config struct {
	k          int
	nonceSize  int
	prefixSize int
	workers    int
	ioWorkers  int
	batchSize  int

	memoryBytes      uint64 // bucket store budget for generation, buffer budget for shuffle
	batchMemoryBytes uint64 // merge batch size
	memoryLimitBytes uint64 // merge in-flight ceiling (strategy C)

	strategy    MergeStrategy
	fullBuckets bool
	earlyExit   bool
	verify      bool
	digest      DigestAlgorithmID

	logger *zap.Logger
}

func defaultConfig() *config {
	return &config{
		k:                DefaultK,
		nonceSize:        DefaultNonceSize,
		prefixSize:       DefaultPrefixSize,
		workers:          runtime.NumCPU(),
		ioWorkers:        runtime.NumCPU(),
		batchSize:        DefaultBatchSize,
		memoryBytes:      defaultMemoryMB << 20,
		batchMemoryBytes: defaultBatchMemoryMB << 20,
		memoryLimitBytes: defaultLimitMB << 20,
		strategy:         StrategyPipeline,
		earlyExit:        true,
		digest:           DigestBlake3,
		logger:           zap.NewNop(),
	}
}

func newConfig(opts []Option) (*config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *config) validate() error {
	if c.nonceSize < 1 || c.nonceSize > 8 {
		return fmt.Errorf("%w: %d", vaultxerrors.ErrInvalidNonceSize, c.nonceSize)
	}
	if c.prefixSize < 1 || c.prefixSize > 4 {
		return fmt.Errorf("%w: %d", vaultxerrors.ErrInvalidPrefixSize, c.prefixSize)
	}
	if c.k < 1 || c.k > MaxK || c.k > 8*c.nonceSize {
		return fmt.Errorf("%w: K=%d with %d-byte nonces", vaultxerrors.ErrInvalidK, c.k, c.nonceSize)
	}
	if c.memoryBytes == 0 || c.batchMemoryBytes == 0 || c.memoryLimitBytes == 0 {
		return vaultxerrors.ErrInvalidMemory
	}
	if c.strategy > StrategyPipeline {
		return fmt.Errorf("%w: %d", vaultxerrors.ErrInvalidStrategy, c.strategy)
	}
	if c.digest > DigestMurmur3 {
		return fmt.Errorf("%w: %d", vaultxerrors.ErrUnknownDigest, c.digest)
	}
	if c.workers < 1 {
		c.workers = 1
	}
	if c.ioWorkers < 1 {
		c.ioWorkers = 1
	}
	if c.batchSize < 1 {
		c.batchSize = DefaultBatchSize
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return nil
}

// numBuckets returns 2^(8*prefixSize).
func (c *config) numBuckets() uint64 {
	return uint64(1) << (8 * c.prefixSize)
}

// recordSize returns the size of a Table-2 record (two nonces).
func (c *config) recordSize() int {
	return 2 * c.nonceSize
}

// WithK sets the nonce-space exponent: plots cover 2^K nonces.
func WithK(k int) Option {
	return func(c *config) {
		c.k = k
	}
}

// WithNonceSize sets the nonce width in bytes.
func WithNonceSize(n int) Option {
	return func(c *config) {
		c.nonceSize = n
	}
}

// WithPrefixSize sets how many leading digest bytes select a bucket.
// The bucket count is 2^(8*n).
func WithPrefixSize(n int) Option {
	return func(c *config) {
		c.prefixSize = n
	}
}

// WithWorkers sets the number of hashing and scanning workers.
func WithWorkers(n int) Option {
	return func(c *config) {
		c.workers = n
	}
}

// WithIOWorkers sets the number of concurrent readers used by shuffle and
// merge.
func WithIOWorkers(n int) Option {
	return func(c *config) {
		c.ioWorkers = n
	}
}

// WithBatchSize sets the number of nonces per Table-1 work item.
func WithBatchSize(n int) Option {
	return func(c *config) {
		c.batchSize = n
	}
}

// WithMemoryMB sets the memory budget for generation bucket stores and for
// shuffle buffers.
func WithMemoryMB(mb uint64) Option {
	return withMemoryBytes(mb << 20)
}

func withMemoryBytes(n uint64) Option {
	return func(c *config) {
		c.memoryBytes = n
	}
}

// WithBatchMemoryMB sets the size of one merge batch.
func WithBatchMemoryMB(mb uint64) Option {
	return withBatchMemoryBytes(mb << 20)
}

func withBatchMemoryBytes(n uint64) Option {
	return func(c *config) {
		c.batchMemoryBytes = n
	}
}

// WithMemoryLimitMB sets the ceiling on merge memory held by in-flight
// batches. Only the pipelined strategy overlaps batches.
func WithMemoryLimitMB(mb uint64) Option {
	return withMemoryLimitBytes(mb << 20)
}

func withMemoryLimitBytes(n uint64) Option {
	return func(c *config) {
		c.memoryLimitBytes = n
	}
}

// WithStrategy selects the merge pipelining strategy.
func WithStrategy(s MergeStrategy) Option {
	return func(c *config) {
		c.strategy = s
	}
}

// WithFullBuckets makes generation draw from the whole 2^(8*NonceSize) nonce
// space and stop only once every bucket has overflowed.
func WithFullBuckets(enabled bool) Option {
	return func(c *config) {
		c.fullBuckets = enabled
	}
}

// WithEarlyExit toggles skipping remaining Table-1 batches once every bucket
// is full. Enabled by default.
func WithEarlyExit(enabled bool) Option {
	return func(c *config) {
		c.earlyExit = enabled
	}
}

// WithVerify runs a verification pass after merging.
func WithVerify(enabled bool) Option {
	return func(c *config) {
		c.verify = enabled
	}
}

// WithDigest selects the digest algorithm. Plots must be searched and
// verified with the algorithm they were generated with.
func WithDigest(algo DigestAlgorithmID) Option {
	return func(c *config) {
		c.digest = algo
	}
}

// WithLogger sets the structured logger. The default discards all output.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}
