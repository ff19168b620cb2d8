//go:build linux

package vaultx

import (
	"os"

	"golang.org/x/sys/unix"
)

// preallocate reserves size bytes for file and sets its length, so writing
// a plot body never fails halfway with ENOSPC or SIGBUS on a mapped page.
func preallocate(file *os.File, size int64) error {
	fd := int(file.Fd())
	if err := unix.Fallocate(fd, 0, 0, size); err != nil {
		// Filesystems without fallocate (NFS, some FUSE) still get a sized file.
		return unix.Ftruncate(fd, size)
	}
	return unix.Ftruncate(fd, size)
}
