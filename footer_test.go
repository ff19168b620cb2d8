package vaultx

import (
	"encoding/binary"
	"errors"
	"testing"

	vaultxerrors "github.com/tamirms/vaultx/errors"
)

func TestFooterRoundTrip(t *testing.T) {
	records := make([]PlotMetadata, 3)
	for i := range records {
		records[i] = PlotMetadata{K: int32(20 + i), Key: DeriveKey(testPlotID(t, byte(i)), 20+i)}
	}
	buf := encodeFooter(records)
	if len(buf) != 3*footerRecordSize {
		t.Fatalf("footer is %d bytes, want %d", len(buf), 3*footerRecordSize)
	}
	// K leads each record, little-endian.
	if got := binary.LittleEndian.Uint32(buf[footerRecordSize:]); got != 21 {
		t.Fatalf("record 1 K = %d, want 21", got)
	}

	got, err := decodeFooter(buf, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i := range records {
		if got[i] != records[i] {
			t.Fatalf("record %d = %+v, want %+v", i, got[i], records[i])
		}
	}
	if _, err := decodeFooter(buf[:len(buf)-1], 3); !errors.Is(err, vaultxerrors.ErrTruncatedFile) {
		t.Fatalf("short footer: got %v", err)
	}
}

func TestReadFooter(t *testing.T) {
	records := []PlotMetadata{
		{K: testK, Key: DeriveKey(testPlotID(t, 1), testK)},
		{K: testK, Key: DeriveKey(testPlotID(t, 2), testK)},
	}
	body := make([]byte, 1000)
	for i := range body {
		body[i] = byte(i)
	}
	path := writeRaw(t, t.TempDir(), "merged.plot", append(body, encodeFooter(records)...))

	got, err := ReadFooter(path, 2)
	if err != nil {
		t.Fatalf("ReadFooter failed: %v", err)
	}
	if len(got) != 2 || got[0] != records[0] || got[1] != records[1] {
		t.Fatalf("ReadFooter = %+v", got)
	}

	tiny := writeRaw(t, t.TempDir(), "tiny.plot", make([]byte, footerRecordSize-1))
	if _, err := ReadFooter(tiny, 1); !errors.Is(err, vaultxerrors.ErrTruncatedFile) {
		t.Fatalf("tiny file: got %v", err)
	}
	if _, err := ReadFooter(path, 0); !errors.Is(err, vaultxerrors.ErrTruncatedFile) {
		t.Fatalf("zero records: got %v", err)
	}
}
