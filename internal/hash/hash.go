// Package hash computes the 128-bit content identifier every stored
// object is addressed by. See spec.md §4.A: xxHash3-128, little-endian.
package hash

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/xxh3"
)

// Size is the length in bytes of a content hash.
const Size = 16

// Hash is a 128-bit xxHash3 digest, stored little-endian.
type Hash [Size]byte

// Sum computes the content hash of data.
func Sum(data []byte) Hash {
	u := xxh3.Hash128(data)
	var h Hash
	binary.LittleEndian.PutUint64(h[0:8], u.Lo)
	binary.LittleEndian.PutUint64(h[8:16], u.Hi)
	return h
}

// FromBytes copies a 16-byte slice into a Hash. It panics if b is not
// exactly Size bytes long; callers read hashes only out of trusted
// storage records, where the length is already guaranteed.
func FromBytes(b []byte) Hash {
	var h Hash
	if len(b) != Size {
		panic("hash: wrong length")
	}
	copy(h[:], b)
	return h
}

func (h Hash) Bytes() []byte { return h[:] }

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// WithKey returns hash ‖ key, the composite key used in the refs tree
// (spec.md §3).
func (h Hash) WithKey(key []byte) []byte {
	out := make([]byte, Size+len(key))
	copy(out, h[:])
	copy(out[Size:], key)
	return out
}
