package vaultx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vaultxerrors "github.com/tamirms/vaultx/errors"
)

func TestPlotFileNameRoundTrip(t *testing.T) {
	id := testPlotID(t, 0)
	name := PlotFileName(28, id)
	assert.True(t, strings.HasPrefix(name, "K28_"), "name starts with K")
	assert.True(t, strings.HasSuffix(name, ".plot"), "name ends with .plot")

	k, got, err := ParsePlotFileName(filepath.Join("some", "dir", name))
	require.NoError(t, err)
	assert.Equal(t, 28, k, "parsed K")
	assert.Equal(t, id, got, "parsed id")
}

func TestParsePlotFileNameRejects(t *testing.T) {
	id := testPlotID(t, 0).String()
	for _, name := range []string{
		"",
		"K28.plot",
		"K28_" + id,
		"K28_" + id + ".dat",
		"Kx_" + id + ".plot",
		"K0_" + id + ".plot",
		"K41_" + id + ".plot",
		"K28_" + id[:62] + ".plot",
		"K28_" + id[:63] + "g.plot",
		"merge_28_4.plot",
	} {
		_, _, err := ParsePlotFileName(name)
		assert.ErrorIs(t, err, vaultxerrors.ErrInvalidFileName, "name %q", name)
	}
}

func TestMergeFileName(t *testing.T) {
	assert.Equal(t, "merge_26_8.plot", MergeFileName(26, 8))
	k, n, err := ParseMergeFileName("/tmp/merge_26_8.plot")
	require.NoError(t, err)
	assert.Equal(t, 26, k)
	assert.Equal(t, 8, n)

	for _, name := range []string{"merge_26.plot", "merge_26_0.plot", "merge_x_2.plot", "merged_26_2.plot", "merge_26_2.bin"} {
		_, _, err := ParseMergeFileName(name)
		assert.ErrorIs(t, err, vaultxerrors.ErrInvalidFileName, "name %q", name)
	}
}

func TestDeriveKey(t *testing.T) {
	a, b := testPlotID(t, 1), testPlotID(t, 2)
	assert.Equal(t, DeriveKey(a, 20), DeriveKey(a, 20), "deterministic")
	assert.NotEqual(t, DeriveKey(a, 20), DeriveKey(a, 21), "K is part of the key")
	assert.NotEqual(t, DeriveKey(a, 20), DeriveKey(b, 20), "ID is part of the key")
	assert.Equal(t, DeriveKey(a, 20), PlotRef{K: 20, ID: a}.Key())
}

func TestNewPlotIDUnique(t *testing.T) {
	a, err := NewPlotID()
	require.NoError(t, err)
	b, err := NewPlotID()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a.String(), 2*PlotIDSize)
}

func TestListPlots(t *testing.T) {
	dir := t.TempDir()
	ids := []PlotID{testPlotID(t, 3), testPlotID(t, 1), testPlotID(t, 2)}
	for i, id := range ids {
		writeRaw(t, dir, PlotFileName(20, id), make([]byte, 64*(i+1)))
	}
	writeRaw(t, dir, MergeFileName(20, 3), nil)
	writeRaw(t, dir, "notes.txt", nil)
	require.NoError(t, os.Mkdir(filepath.Join(dir, PlotFileName(20, testPlotID(t, 9))), 0o755))

	refs, err := ListPlots(dir)
	require.NoError(t, err)
	require.Len(t, refs, 3)
	for i := 1; i < len(refs); i++ {
		assert.Less(t, refs[i-1].Path, refs[i].Path, "sorted by path")
	}
	for _, r := range refs {
		assert.Equal(t, 20, r.K)
		assert.Equal(t, PlotFileName(20, r.ID), filepath.Base(r.Path))
		assert.Positive(t, r.Size)
	}

	_, err = ListPlots(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestHexHelpers(t *testing.T) {
	b, err := HexToBytes("00ff1A")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xff, 0x1a}, b)
	assert.Equal(t, "00ff1a", BytesToHex(b))

	for _, s := range []string{"abc", "zz", "0x12"} {
		_, err := HexToBytes(s)
		assert.ErrorIs(t, err, vaultxerrors.ErrInvalidHex, "input %q", s)
	}
}
