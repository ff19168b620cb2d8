package vaultx

import (
	"errors"
	"fmt"
	"io"

	vaultxerrors "github.com/tamirms/vaultx/errors"
)

// readExactly fills buf from r starting at off. It returns the number of
// bytes read. Any shortfall is an error wrapping ErrShortRead; when the
// shortfall is caused by end of file the error also wraps io.EOF, so callers
// that tolerate a short final batch can detect it with errors.Is.
func readExactly(r io.ReaderAt, buf []byte, off int64) (int, error) {
	n, err := r.ReadAt(buf, off)
	if n == len(buf) {
		return n, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return n, fmt.Errorf("%w: %d of %d bytes at offset %d: %w", vaultxerrors.ErrShortRead, n, len(buf), off, io.EOF)
	}
	return n, fmt.Errorf("read %d bytes at offset %d: %w", len(buf), off, err)
}

// writeExactly writes all of buf to w at off.
func writeExactly(w io.WriterAt, buf []byte, off int64) error {
	n, err := w.WriteAt(buf, off)
	if err != nil {
		return fmt.Errorf("write %d bytes at offset %d: %w", len(buf), off, err)
	}
	if n != len(buf) {
		return fmt.Errorf("%w: %d of %d bytes at offset %d", vaultxerrors.ErrShortWrite, n, len(buf), off)
	}
	return nil
}
