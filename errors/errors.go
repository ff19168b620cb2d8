// Package errors defines all exported error sentinels for the vaultx library.
//
// This is the single source of truth for error values. The top-level vaultx
// package, its internal packages, and the command-line tools all import from
// here, so errors.Is checks work across package boundaries.
package errors

import "errors"

// Configuration errors
var (
	ErrInvalidK          = errors.New("vaultx: K is outside the supported range")
	ErrInvalidNonceSize  = errors.New("vaultx: nonce size must be between 1 and 8 bytes")
	ErrInvalidPrefixSize = errors.New("vaultx: prefix size must be between 1 and 4 bytes")
	ErrInvalidGeometry   = errors.New("vaultx: invalid bucket geometry")
	ErrInvalidStrategy   = errors.New("vaultx: unknown merge strategy")
	ErrInvalidMemory     = errors.New("vaultx: memory budget is too small")
	ErrInvalidKey        = errors.New("vaultx: digest key has invalid length")
	ErrUnknownDigest     = errors.New("vaultx: unknown digest algorithm")
)

// Allocation and placement errors
var (
	ErrAllocation       = errors.New("vaultx: buffer size overflows addressable memory")
	ErrBucketOutOfRange = errors.New("vaultx: bucket index out of range")
)

// I/O errors
var (
	ErrShortRead     = errors.New("vaultx: short read")
	ErrShortWrite    = errors.New("vaultx: short write")
	ErrTruncatedFile = errors.New("vaultx: plot file is truncated")
)

// Plot file and naming errors
var (
	ErrInvalidFileName  = errors.New("vaultx: file name does not follow plot naming convention")
	ErrNoInputs         = errors.New("vaultx: no input plots")
	ErrMismatchedInputs = errors.New("vaultx: input plots have different geometry")
	ErrPlotClosed       = errors.New("vaultx: plot is closed")
)

// Search errors
var (
	ErrInvalidHex     = errors.New("vaultx: invalid hex string")
	ErrPrefixTooShort = errors.New("vaultx: search prefix shorter than bucket prefix")
)
