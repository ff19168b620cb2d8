//go:build linux

package vaultx

import "golang.org/x/sys/unix"

// Access-pattern hints. Best-effort: errors are ignored.

// adviseSequential is applied to shuffle and merge inputs, which are
// streamed front to back.
func adviseSequential(fd uintptr) {
	_ = unix.Fadvise(int(fd), 0, 0, unix.FADV_SEQUENTIAL)
}

// adviseRandom is applied to plots opened for search, where each lookup
// touches a single bucket.
func adviseRandom(fd uintptr) {
	_ = unix.Fadvise(int(fd), 0, 0, unix.FADV_RANDOM)
}

// adviseDontNeed drops cached pages of a range that will not be read again.
func adviseDontNeed(fd uintptr, offset, length int64) {
	_ = unix.Fadvise(int(fd), offset, length, unix.FADV_DONTNEED)
}
