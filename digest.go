package vaultx

import (
	"encoding/binary"
	"fmt"
	"hash"

	"github.com/spaolacci/murmur3"
	"github.com/zeebo/blake3"
	"github.com/zeebo/xxh3"
	"golang.org/x/crypto/blake2b"

	vaultxerrors "github.com/tamirms/vaultx/errors"
)

// DigestSize is the width in bytes of every digest produced by a Digester.
// The leading PrefixSize bytes select the bucket; all 8 bytes form the
// big-endian value used for sorting and distance.
const DigestSize = 8

// KeySize is the size of a derived plot key.
const KeySize = 32

// Digest is a fixed-width digest over one or two nonces.
type Digest [DigestSize]byte

// DigestAlgorithmID identifies the hash primitive behind a Digester.
type DigestAlgorithmID uint16

const (
	// DigestBlake3 uses BLAKE3; keyed mode requires a 32-byte key.
	DigestBlake3 DigestAlgorithmID = 0

	// DigestBlake2b uses BLAKE2b-256; keyed mode accepts keys up to 64 bytes.
	DigestBlake2b DigestAlgorithmID = 1

	// DigestXXH3 uses XXH3-64 seeded from the first 8 key bytes.
	// Not cryptographic; intended for fast benchmarking plots.
	DigestXXH3 DigestAlgorithmID = 2

	// DigestMurmur3 uses MurmurHash3 x64-128 seeded from the first 4 key bytes.
	// Not cryptographic; intended for fast benchmarking plots.
	DigestMurmur3 DigestAlgorithmID = 3
)

// String returns the algorithm name.
func (a DigestAlgorithmID) String() string {
	switch a {
	case DigestBlake3:
		return "blake3"
	case DigestBlake2b:
		return "blake2b"
	case DigestXXH3:
		return "xxh3"
	case DigestMurmur3:
		return "murmur3"
	default:
		return "unknown"
	}
}

// ParseDigestAlgorithm maps an algorithm name to its ID.
func ParseDigestAlgorithm(name string) (DigestAlgorithmID, error) {
	for _, a := range []DigestAlgorithmID{DigestBlake3, DigestBlake2b, DigestXXH3, DigestMurmur3} {
		if a.String() == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", vaultxerrors.ErrUnknownDigest, name)
}

// Digester computes digests over the concatenation of one or two nonces,
// keyed when constructed with a key and unkeyed otherwise. A Digester is
// immutable and safe for concurrent use; hot loops obtain a per-goroutine
// digestState through newState.
type Digester struct {
	algo DigestAlgorithmID
	key  []byte
}

// NewDigester returns a Digester for algo. A nil key selects unkeyed mode.
func NewDigester(algo DigestAlgorithmID, key []byte) (*Digester, error) {
	if key != nil {
		switch algo {
		case DigestBlake3:
			if len(key) != KeySize {
				return nil, fmt.Errorf("%w: blake3 needs %d bytes, got %d", vaultxerrors.ErrInvalidKey, KeySize, len(key))
			}
		case DigestBlake2b:
			if len(key) == 0 || len(key) > blake2b.Size {
				return nil, fmt.Errorf("%w: blake2b accepts 1..%d bytes, got %d", vaultxerrors.ErrInvalidKey, blake2b.Size, len(key))
			}
		case DigestXXH3, DigestMurmur3:
			if len(key) < 8 {
				return nil, fmt.Errorf("%w: %s needs at least 8 bytes, got %d", vaultxerrors.ErrInvalidKey, algo, len(key))
			}
		default:
			return nil, fmt.Errorf("%w: %d", vaultxerrors.ErrUnknownDigest, algo)
		}
	} else if algo > DigestMurmur3 {
		return nil, fmt.Errorf("%w: %d", vaultxerrors.ErrUnknownDigest, algo)
	}
	return &Digester{algo: algo, key: append([]byte(nil), key...)}, nil
}

// Algorithm returns the digest algorithm.
func (d *Digester) Algorithm() DigestAlgorithmID { return d.algo }

// Keyed reports whether the digester runs in keyed mode.
func (d *Digester) Keyed() bool { return len(d.key) > 0 }

// Sum returns the digest of a followed by b. b may be nil for single-nonce
// digests. Sum allocates hashing state on every call; use newState in loops.
func (d *Digester) Sum(a, b []byte) Digest {
	var out Digest
	d.newState().sum(&out, a, b)
	return out
}

// digestState is a reusable, single-goroutine hashing context.
type digestState interface {
	sum(dst *Digest, a, b []byte)
}

func (d *Digester) newState() digestState {
	switch d.algo {
	case DigestBlake2b:
		h, err := blake2b.New256(d.keyOrNil())
		if err != nil {
			// Key length was validated in NewDigester.
			panic("blake2b.New256: " + err.Error())
		}
		return &blake2bState{h: h}
	case DigestXXH3:
		var seed uint64
		if d.Keyed() {
			seed = binary.LittleEndian.Uint64(d.key)
		}
		return &xxh3State{seed: seed}
	case DigestMurmur3:
		var seed uint32
		if d.Keyed() {
			seed = binary.LittleEndian.Uint32(d.key)
		}
		return &murmur3State{seed: seed}
	default:
		if d.Keyed() {
			h, err := blake3.NewKeyed(d.key)
			if err != nil {
				panic("blake3.NewKeyed: " + err.Error())
			}
			return &blake3State{h: h}
		}
		return &blake3State{h: blake3.New()}
	}
}

func (d *Digester) keyOrNil() []byte {
	if len(d.key) == 0 {
		return nil
	}
	return d.key
}

type blake3State struct {
	h   *blake3.Hasher
	out [32]byte
}

func (s *blake3State) sum(dst *Digest, a, b []byte) {
	s.h.Reset()
	_, _ = s.h.Write(a)
	if b != nil {
		_, _ = s.h.Write(b)
	}
	copy(dst[:], s.h.Sum(s.out[:0]))
}

type blake2bState struct {
	h   hash.Hash
	out [blake2b.Size256]byte
}

func (s *blake2bState) sum(dst *Digest, a, b []byte) {
	s.h.Reset()
	_, _ = s.h.Write(a)
	if b != nil {
		_, _ = s.h.Write(b)
	}
	copy(dst[:], s.h.Sum(s.out[:0]))
}

type xxh3State struct {
	seed uint64
	buf  []byte
}

func (s *xxh3State) sum(dst *Digest, a, b []byte) {
	s.buf = append(append(s.buf[:0], a...), b...)
	binary.BigEndian.PutUint64(dst[:], xxh3.HashSeed(s.buf, s.seed))
}

type murmur3State struct {
	seed uint32
	buf  []byte
}

func (s *murmur3State) sum(dst *Digest, a, b []byte) {
	s.buf = append(append(s.buf[:0], a...), b...)
	h1, _ := murmur3.Sum128WithSeed(s.buf, s.seed)
	binary.BigEndian.PutUint64(dst[:], h1)
}
