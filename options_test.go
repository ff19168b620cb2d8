package vaultx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	vaultxerrors "github.com/tamirms/vaultx/errors"
)

func TestConfigDefaults(t *testing.T) {
	cfg, err := newConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultK, cfg.k)
	assert.Equal(t, DefaultNonceSize, cfg.nonceSize)
	assert.Equal(t, DefaultPrefixSize, cfg.prefixSize)
	assert.Equal(t, uint64(1)<<24, cfg.numBuckets())
	assert.Equal(t, 8, cfg.recordSize())
	assert.Equal(t, StrategyPipeline, cfg.strategy)
	assert.Equal(t, DigestBlake3, cfg.digest)
	assert.True(t, cfg.earlyExit)
	assert.False(t, cfg.fullBuckets)
	assert.NotNil(t, cfg.logger)
	assert.GreaterOrEqual(t, cfg.workers, 1)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want error
	}{
		{"K zero", []Option{WithK(0)}, vaultxerrors.ErrInvalidK},
		{"K above max", []Option{WithK(MaxK + 1), WithNonceSize(8)}, vaultxerrors.ErrInvalidK},
		{"K wider than nonce", []Option{WithK(17), WithNonceSize(2)}, vaultxerrors.ErrInvalidK},
		{"nonce zero", []Option{WithNonceSize(0)}, vaultxerrors.ErrInvalidNonceSize},
		{"nonce nine", []Option{WithNonceSize(9)}, vaultxerrors.ErrInvalidNonceSize},
		{"prefix zero", []Option{WithPrefixSize(0)}, vaultxerrors.ErrInvalidPrefixSize},
		{"prefix five", []Option{WithPrefixSize(5)}, vaultxerrors.ErrInvalidPrefixSize},
		{"no memory", []Option{WithMemoryMB(0)}, vaultxerrors.ErrInvalidMemory},
		{"no batch memory", []Option{WithBatchMemoryMB(0)}, vaultxerrors.ErrInvalidMemory},
		{"no limit", []Option{WithMemoryLimitMB(0)}, vaultxerrors.ErrInvalidMemory},
		{"strategy", []Option{WithStrategy(3)}, vaultxerrors.ErrInvalidStrategy},
		{"digest", []Option{WithDigest(7)}, vaultxerrors.ErrUnknownDigest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newConfig(tt.opts)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestConfigClampsAndOverrides(t *testing.T) {
	log := zap.NewExample()
	cfg, err := newConfig([]Option{
		WithWorkers(0),
		WithIOWorkers(-3),
		WithBatchSize(0),
		WithLogger(nil),
		WithK(16),
		WithNonceSize(2),
		WithPrefixSize(2),
		WithMemoryMB(8),
		WithFullBuckets(true),
		WithEarlyExit(false),
		WithVerify(true),
		WithStrategy(StrategySync),
		WithDigest(DigestXXH3),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.workers)
	assert.Equal(t, 1, cfg.ioWorkers)
	assert.Equal(t, DefaultBatchSize, cfg.batchSize)
	assert.NotNil(t, cfg.logger, "nil logger falls back to a no-op logger")
	assert.Equal(t, uint64(8<<20), cfg.memoryBytes)
	assert.Equal(t, 4, cfg.recordSize())
	assert.True(t, cfg.fullBuckets)
	assert.False(t, cfg.earlyExit)
	assert.True(t, cfg.verify)
	assert.Equal(t, StrategySync, cfg.strategy)
	assert.Equal(t, DigestXXH3, cfg.digest)

	cfg, err = newConfig([]Option{WithLogger(log)})
	require.NoError(t, err)
	assert.Same(t, log, cfg.logger)
}

func TestMergeStrategyString(t *testing.T) {
	assert.Equal(t, "sync", StrategySync.String())
	assert.Equal(t, "parallel-merge", StrategyParallelMerge.String())
	assert.Equal(t, "pipeline", StrategyPipeline.String())
	assert.Equal(t, "unknown", MergeStrategy(9).String())
}
