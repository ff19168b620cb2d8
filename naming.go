package vaultx

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	vaultxerrors "github.com/tamirms/vaultx/errors"
)

// PlotIDSize is the size of a plot identifier.
const PlotIDSize = 32

const plotExt = ".plot"

// PlotID identifies one generated plot.
type PlotID [PlotIDSize]byte

// String returns the lowercase hex encoding used in file names.
func (id PlotID) String() string { return hex.EncodeToString(id[:]) }

// NewPlotID returns SHA-256 over 32 bytes from crypto/rand.
func NewPlotID() (PlotID, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return PlotID{}, fmt.Errorf("read random seed: %w", err)
	}
	return sha256.Sum256(seed[:]), nil
}

// DeriveKey returns the per-plot digest key SHA-256(id || byte(k)).
func DeriveKey(id PlotID, k int) [KeySize]byte {
	var buf [PlotIDSize + 1]byte
	copy(buf[:], id[:])
	buf[PlotIDSize] = byte(k)
	return sha256.Sum256(buf[:])
}

// PlotFileName returns "K<k>_<hex id>.plot".
func PlotFileName(k int, id PlotID) string {
	return fmt.Sprintf("K%d_%s%s", k, id, plotExt)
}

// MergeFileName returns "merge_<k>_<n>.plot".
func MergeFileName(k, n int) string {
	return fmt.Sprintf("merge_%d_%d%s", k, n, plotExt)
}

// ParsePlotFileName extracts K and the plot ID from a plot file name. Any
// directory component is ignored.
func ParsePlotFileName(name string) (int, PlotID, error) {
	base := filepath.Base(name)
	rest, ok := strings.CutSuffix(base, plotExt)
	if !ok || !strings.HasPrefix(rest, "K") {
		return 0, PlotID{}, fmt.Errorf("%w: %q", vaultxerrors.ErrInvalidFileName, base)
	}
	kStr, idHex, ok := strings.Cut(rest[1:], "_")
	if !ok {
		return 0, PlotID{}, fmt.Errorf("%w: %q", vaultxerrors.ErrInvalidFileName, base)
	}
	k, err := strconv.Atoi(kStr)
	if err != nil || k < 1 || k > MaxK {
		return 0, PlotID{}, fmt.Errorf("%w: bad K in %q", vaultxerrors.ErrInvalidFileName, base)
	}
	raw, err := hex.DecodeString(idHex)
	if err != nil || len(raw) != PlotIDSize {
		return 0, PlotID{}, fmt.Errorf("%w: bad plot id in %q", vaultxerrors.ErrInvalidFileName, base)
	}
	return k, PlotID(raw), nil
}

// ParseMergeFileName extracts K and the source count from a merged file name.
func ParseMergeFileName(name string) (k, n int, err error) {
	base := filepath.Base(name)
	rest, ok := strings.CutSuffix(base, plotExt)
	if ok {
		rest, ok = strings.CutPrefix(rest, "merge_")
	}
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", vaultxerrors.ErrInvalidFileName, base)
	}
	kStr, nStr, ok := strings.Cut(rest, "_")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", vaultxerrors.ErrInvalidFileName, base)
	}
	k, err1 := strconv.Atoi(kStr)
	n, err2 := strconv.Atoi(nStr)
	if err1 != nil || err2 != nil || k < 1 || k > MaxK || n < 1 {
		return 0, 0, fmt.Errorf("%w: %q", vaultxerrors.ErrInvalidFileName, base)
	}
	return k, n, nil
}

// PlotRef describes a plot file found on disk.
type PlotRef struct {
	Path string
	K    int
	ID   PlotID
	Size int64
}

// Key returns the plot's derived digest key.
func (r PlotRef) Key() [KeySize]byte { return DeriveKey(r.ID, r.K) }

// ListPlots returns every well-named plot file directly inside dir, sorted
// by file name. Merged files and other entries are skipped.
func ListPlots(dir string) ([]PlotRef, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read plot directory: %w", err)
	}
	var refs []PlotRef
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		k, id, err := ParsePlotFileName(e.Name())
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		refs = append(refs, PlotRef{Path: filepath.Join(dir, e.Name()), K: k, ID: id, Size: info.Size()})
	}
	slices.SortFunc(refs, func(a, b PlotRef) int { return strings.Compare(a.Path, b.Path) })
	return refs, nil
}

// HexToBytes decodes a hex string. Odd-length input is rejected.
func HexToBytes(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", vaultxerrors.ErrInvalidHex, s)
	}
	return b, nil
}

// BytesToHex encodes b as lowercase hex.
func BytesToHex(b []byte) string { return hex.EncodeToString(b) }
