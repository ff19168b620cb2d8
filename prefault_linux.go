//go:build linux

package vaultx

import "golang.org/x/sys/unix"

// MADV_POPULATE_WRITE (Linux 5.14+). Older kernels return EINVAL.
const madvPopulateWrite = 23

// prefaultWrite populates the page tables of a freshly mapped plot region
// before rounds are copied into it. Errors are ignored.
func prefaultWrite(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = unix.Madvise(data, madvPopulateWrite)
}
