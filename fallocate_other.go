//go:build !linux && !darwin

package vaultx

import "os"

// preallocate sets the file length. Disk blocks may stay unreserved.
func preallocate(file *os.File, size int64) error {
	return file.Truncate(size)
}
