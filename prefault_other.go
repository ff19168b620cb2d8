//go:build !linux

package vaultx

func prefaultWrite(data []byte) {}
