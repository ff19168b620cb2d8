//go:build !linux

package vaultx

func adviseSequential(fd uintptr) {}

func adviseRandom(fd uintptr) {}

func adviseDontNeed(fd uintptr, offset, length int64) {}
