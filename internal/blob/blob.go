// Package blob implements the compression half of the Encoder contract
// of spec.md §4.A: compress a value, deciding raw vs. compressed
// storage, and its inverse. Hashing lives in package hash.
package blob

import (
	"github.com/klauspost/compress/zstd"

	"github.com/kvdedup/dedupkv/internal/errs"
)

const (
	// TagRaw marks a blob whose payload is the original bytes, uncompressed.
	TagRaw byte = 0x00
	// TagZstd marks a blob whose payload is a ZSTD frame.
	TagZstd byte = 0x01

	// MinCompressSize is the threshold below which values are stored
	// raw regardless of compression level (spec.md §3, §4.A).
	MinCompressSize = 512
)

// Codec encodes and decodes object blobs at a fixed compression level.
// It is safe for concurrent use; the underlying zstd encoder/decoder
// pairs support concurrent EncodeAll/DecodeAll calls.
type Codec struct {
	level  int // 0 disables compression; otherwise clamped to [1,9]
	enc    *zstd.Encoder
	dec    *zstd.Decoder
}

// NewCodec builds a Codec for the given COMPRESSION_LEVEL (spec.md §6).
// level is clamped to [0,9]; 0 disables compression entirely.
func NewCodec(level int) (*Codec, error) {
	if level < 0 {
		level = 0
	}
	if level > 9 {
		level = 9
	}
	c := &Codec{level: level}
	if level == 0 {
		return c, nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return nil, errs.Internalf("", err, "opening zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, errs.Internalf("", err, "opening zstd decoder")
	}
	c.enc = enc
	c.dec = dec
	return c, nil
}

// Close releases the codec's background goroutines.
func (c *Codec) Close() {
	if c.enc != nil {
		c.enc.Close()
	}
	if c.dec != nil {
		c.dec.Close()
	}
}

// Encode returns the one-byte tag and the on-disk payload for data, per
// spec.md §3's per-size policy: raw below MinCompressSize bytes,
// compressed at or above it, unless the codec was built with level 0.
func (c *Codec) Encode(data []byte) (tag byte, payload []byte) {
	if c.level == 0 || len(data) < MinCompressSize {
		return TagRaw, data
	}
	return TagZstd, c.enc.EncodeAll(data, make([]byte, 0, len(data)))
}

// Decode reverses Encode. A malformed ZSTD frame is reported as an
// Internal error and never silently passed through — spec.md §4.A:
// "Failure: malformed ZSTD frame on read is fatal for that request".
func (c *Codec) Decode(tag byte, payload []byte) ([]byte, error) {
	switch tag {
	case TagRaw:
		return payload, nil
	case TagZstd:
		if c.dec == nil {
			// A blob was written with compression enabled but this
			// process was started with COMPRESSION_LEVEL=0. We can
			// still decode: build a throwaway decoder rather than
			// refuse a read that a differently-configured process wrote.
			dec, err := zstd.NewReader(nil)
			if err != nil {
				return nil, errs.Internalf("", err, "opening zstd decoder")
			}
			defer dec.Close()
			out, err := dec.DecodeAll(payload, nil)
			if err != nil {
				return nil, errs.Internalf("", err, "decoding zstd frame")
			}
			return out, nil
		}
		out, err := c.dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, errs.Internalf("", err, "decoding zstd frame")
		}
		return out, nil
	default:
		return nil, errs.Internalf("", nil, "unknown blob tag %#x", tag)
	}
}

// EncodeToStorage produces the full stored form: tag byte followed by
// payload, matching spec.md §6's persisted format.
func (c *Codec) EncodeToStorage(data []byte) []byte {
	tag, payload := c.Encode(data)
	out := make([]byte, 1+len(payload))
	out[0] = tag
	copy(out[1:], payload)
	return out
}

// DecodeFromStorage reverses EncodeToStorage.
func (c *Codec) DecodeFromStorage(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, errs.Internalf("", nil, "empty stored blob")
	}
	return c.Decode(stored[0], stored[1:])
}
