package engine

import (
	"encoding/binary"

	"github.com/kvdedup/dedupkv/internal/errs"
	"github.com/kvdedup/dedupkv/internal/hash"
)

// metaSize is the fixed on-disk layout of spec.md §6: 16-byte hash,
// 8-byte LE size, 8-byte LE refs, 8-byte LE created_at.
const metaSize = hash.Size + 8 + 8 + 8

// KeyMeta is the record stored per user key (spec.md §3).
type KeyMeta struct {
	Hash      hash.Hash
	Size      uint64
	Refs      uint64
	CreatedAt int64
}

func (m KeyMeta) encode() []byte {
	buf := make([]byte, metaSize)
	copy(buf[0:hash.Size], m.Hash[:])
	off := hash.Size
	binary.LittleEndian.PutUint64(buf[off:], m.Size)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], m.Refs)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(m.CreatedAt))
	return buf
}

func decodeKeyMeta(key string, raw []byte) (KeyMeta, error) {
	if len(raw) != metaSize {
		return KeyMeta{}, errs.Internalf(key, nil, "corrupt KeyMeta record: %d bytes, wanted %d", len(raw), metaSize)
	}
	var m KeyMeta
	m.Hash = hash.FromBytes(raw[0:hash.Size])
	off := hash.Size
	m.Size = binary.LittleEndian.Uint64(raw[off:])
	off += 8
	m.Refs = binary.LittleEndian.Uint64(raw[off:])
	off += 8
	m.CreatedAt = int64(binary.LittleEndian.Uint64(raw[off:]))
	return m, nil
}
