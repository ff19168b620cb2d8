package vaultx

import (
	"errors"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// plotWriter writes a plot body through a shared memory mapping of a
// preallocated file. Rounds land at fixed offsets, so writes may arrive in
// any order and from several goroutines as long as their ranges do not
// overlap.
type plotWriter struct {
	file *os.File
	mmap mmap.MMap
	data []byte
	size int64
}

// newPlotWriter creates path, reserves size bytes, and maps the whole file.
func newPlotWriter(path string, size int64) (*plotWriter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("plot writer: invalid size %d", size)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create plot file: %w", err)
	}
	if err := preallocate(file, size); err != nil {
		primaryErr := fmt.Errorf("allocate %d bytes: %w", size, err)
		return nil, errors.Join(primaryErr, file.Close())
	}
	mm, err := mmap.MapRegion(file, int(size), mmap.RDWR, 0, 0)
	if err != nil {
		primaryErr := fmt.Errorf("mmap plot file: %w", err)
		return nil, errors.Join(primaryErr, file.Close())
	}
	pw := &plotWriter{file: file, mmap: mm, data: []byte(mm), size: size}
	prefaultWrite(pw.data)
	return pw, nil
}

// WriteAt copies p into the mapping at off.
func (pw *plotWriter) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > pw.size {
		return 0, fmt.Errorf("plot writer: write [%d, %d) outside file of %d bytes", off, off+int64(len(p)), pw.size)
	}
	return copy(pw.data[off:], p), nil
}

// finalize flushes the mapping, syncs, and closes the file. On error the
// writer is cleaned up and the error returned.
func (pw *plotWriter) finalize() error {
	if err := pw.mmap.Flush(); err != nil {
		primaryErr := fmt.Errorf("mmap flush failed: %w", err)
		return errors.Join(primaryErr, pw.close())
	}
	unmapErr := pw.mmap.Unmap()
	pw.mmap = nil
	if unmapErr != nil {
		primaryErr := fmt.Errorf("mmap unmap failed: %w", unmapErr)
		return errors.Join(primaryErr, pw.close())
	}
	if err := pw.file.Sync(); err != nil {
		primaryErr := fmt.Errorf("fsync failed: %w", err)
		return errors.Join(primaryErr, pw.close())
	}
	closeErr := pw.file.Close()
	pw.file = nil
	return closeErr
}

// close releases the mapping and file without syncing. Idempotent.
func (pw *plotWriter) close() error {
	var unmapErr error
	if pw.mmap != nil {
		unmapErr = pw.mmap.Unmap()
		pw.mmap = nil
	}
	var closeErr error
	if pw.file != nil {
		closeErr = pw.file.Close()
		pw.file = nil
	}
	return errors.Join(unmapErr, closeErr)
}
