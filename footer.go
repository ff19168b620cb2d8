package vaultx

import (
	"encoding/binary"
	"fmt"
	"os"

	vaultxerrors "github.com/tamirms/vaultx/errors"
)

// footerRecordSize is the size of one serialized PlotMetadata record.
const footerRecordSize = 4 + KeySize

// PlotMetadata identifies one source plot of a merged file: its K and the
// key its pair digests were computed with.
//
// A merged file ends with one record per source, in source order, with no
// length prefix. The footer of an N-source file therefore starts at
// fileSize - N*36.
//
// Layout:
//
//	Offset  Size  Field  Type
//	0       4     K      int32_le
//	4       32    Key    [32]byte
type PlotMetadata struct {
	K   int32
	Key [KeySize]byte
}

// encodeTo serializes m into buf, which must hold footerRecordSize bytes.
func (m *PlotMetadata) encodeTo(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], uint32(m.K))
	copy(buf[4:footerRecordSize], m.Key[:])
}

func decodePlotMetadata(buf []byte) (PlotMetadata, error) {
	if len(buf) < footerRecordSize {
		return PlotMetadata{}, vaultxerrors.ErrTruncatedFile
	}
	m := PlotMetadata{K: int32(binary.LittleEndian.Uint32(buf[0:4]))}
	copy(m.Key[:], buf[4:footerRecordSize])
	return m, nil
}

// encodeFooter serializes records in order.
func encodeFooter(records []PlotMetadata) []byte {
	buf := make([]byte, len(records)*footerRecordSize)
	for i := range records {
		records[i].encodeTo(buf[i*footerRecordSize:])
	}
	return buf
}

// decodeFooter parses n consecutive records.
func decodeFooter(buf []byte, n int) ([]PlotMetadata, error) {
	if n < 0 || len(buf) < n*footerRecordSize {
		return nil, vaultxerrors.ErrTruncatedFile
	}
	out := make([]PlotMetadata, n)
	for i := range out {
		m, err := decodePlotMetadata(buf[i*footerRecordSize:])
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

// ReadFooter reads the n metadata records at the end of a merged file.
func ReadFooter(path string, n int) ([]PlotMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plot: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat plot: %w", err)
	}
	return readFooterFrom(f, info.Size(), n)
}

func readFooterFrom(f *os.File, size int64, n int) ([]PlotMetadata, error) {
	footerLen := int64(n) * footerRecordSize
	if n < 1 || footerLen > size {
		return nil, fmt.Errorf("%w: %d footer records in %d bytes", vaultxerrors.ErrTruncatedFile, n, size)
	}
	buf := make([]byte, footerLen)
	if _, err := readExactly(f, buf, size-footerLen); err != nil {
		return nil, fmt.Errorf("read footer: %w", err)
	}
	return decodeFooter(buf, n)
}
