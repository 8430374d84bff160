// Package engine implements the Dedup/Reference-Count Engine of
// spec.md §4.C: the five operations that keep the keys/objects/refs
// trees in the invariant described in spec.md §3, on top of package
// store's atomic multi-bucket transactions.
package engine

import (
	"time"
	"unicode/utf8"

	"github.com/kvdedup/dedupkv/internal/blob"
	"github.com/kvdedup/dedupkv/internal/errs"
	"github.com/kvdedup/dedupkv/internal/hash"
	"github.com/kvdedup/dedupkv/internal/store"
)

const (
	// MinKeyLen and MaxKeyLen bound user keys per spec.md §4.C.1.
	MinKeyLen = 1
	MaxKeyLen = 262144
)

// ValidateKey enforces spec.md §4.C.1 / §8: 1..262144 bytes, no byte
// in 0x00..0x1F except horizontal tab (0x09).
func ValidateKey(key []byte) error {
	if len(key) < MinKeyLen || len(key) > MaxKeyLen {
		return errs.BadRequestf("key length %d outside [%d, %d]", len(key), MinKeyLen, MaxKeyLen)
	}
	for _, b := range key {
		if b <= 0x1F && b != 0x09 {
			return errs.BadRequestf("key contains control byte %#x", b)
		}
	}
	return nil
}

// PutOutcome reports what PutTx did, for status-code/header decisions
// in the batch executor and the HTTP adapter.
type PutOutcome struct {
	Hash          hash.Hash
	Size          uint64
	CreatedAt     int64
	ObjectWasNew  bool // object did not exist before this PUT (spec.md §4.C step 3b)
}

// PutTx implements spec.md §4.C PUT steps 2-3f inside an already-open
// transaction, so both Engine.Put (one op, one transaction) and the
// batch executor (many ops, one shared transaction) run the identical
// invariant-preserving logic.
func PutTx(tx *store.Tx, codec *blob.Codec, key string, value []byte, now time.Time) (PutOutcome, error) {
	if err := ValidateKey([]byte(key)); err != nil {
		return PutOutcome{}, err
	}

	h := hash.Sum(value)
	keyBytes := []byte(key)

	keys := tx.Keys()
	objects := tx.Objects()
	refs := tx.Refs()

	// 3a. previous mapping for this key, if any.
	var prevHash hash.Hash
	var prevCreatedAt int64
	var hadPrev bool
	if rawMeta := keys.Get(keyBytes); rawMeta != nil {
		prevMeta, err := decodeKeyMeta(key, rawMeta)
		if err != nil {
			return PutOutcome{}, err
		}
		prevHash = prevMeta.Hash
		prevCreatedAt = prevMeta.CreatedAt
		hadPrev = true
	}

	// 3b. write the object if it's new.
	objectWasNew := objects.Get(h.Bytes()) == nil
	if objectWasNew {
		if err := objects.Put(h.Bytes(), codec.EncodeToStorage(value)); err != nil {
			return PutOutcome{}, errs.Internalf(key, err, "writing object")
		}
	}

	// 3c. refs[H ‖ key] = "1" (idempotent).
	refBuf := store.GetRefKeyBuf(hash.Size + len(keyBytes))
	defer store.PutRefKeyBuf(refBuf)
	*refBuf = append(*refBuf, h.Bytes()...)
	*refBuf = append(*refBuf, keyBytes...)
	if err := refs.Put(*refBuf, []byte{'1'}); err != nil {
		return PutOutcome{}, errs.Internalf(key, err, "writing ref")
	}

	// 3d. if this PUT changed the key's hash, drop the old ref and GC
	// the old object if it has no referrers left.
	if hadPrev && prevHash != h {
		oldRefKey := prevHash.WithKey(keyBytes)
		if err := refs.Delete(oldRefKey); err != nil {
			return PutOutcome{}, errs.Internalf(key, err, "removing old ref")
		}
		if !store.HasPrefix(refs, prevHash.Bytes()) {
			if err := objects.Delete(prevHash.Bytes()); err != nil {
				return PutOutcome{}, errs.Internalf(key, err, "garbage-collecting old object")
			}
		}
	}

	// 3e. refs-count for H as seen inside this transaction.
	refCount := store.CountPrefix(refs, h.Bytes())

	createdAt := now.Unix()
	if hadPrev {
		createdAt = prevCreatedAt // I4: created_at is monotonic across re-PUTs.
	}

	meta := KeyMeta{Hash: h, Size: uint64(len(value)), Refs: uint64(refCount), CreatedAt: createdAt}
	if err := keys.Put(keyBytes, meta.encode()); err != nil {
		return PutOutcome{}, errs.Internalf(key, err, "writing key metadata")
	}

	return PutOutcome{Hash: h, Size: meta.Size, CreatedAt: createdAt, ObjectWasNew: objectWasNew}, nil
}

// GetOutcome is the result of GetTx.
type GetOutcome struct {
	Value      []byte
	Hash       hash.Hash
	Size       uint64
	Refs       uint64
	CreatedAt  int64
	Compressed bool // stored object's tag byte was blob.TagZstd
}

// GetTx implements spec.md §4.C GET inside an already-open transaction.
func GetTx(tx *store.Tx, codec *blob.Codec, key string) (GetOutcome, error) {
	rawMeta := tx.Keys().Get([]byte(key))
	if rawMeta == nil {
		return GetOutcome{}, errs.NotFoundf(key, "key not found")
	}
	meta, err := decodeKeyMeta(key, rawMeta)
	if err != nil {
		return GetOutcome{}, err
	}

	stored := tx.Objects().Get(meta.Hash.Bytes())
	if stored == nil {
		// I1 violated: keys[k] exists but objects[hash] does not.
		tx.Logger().Error("invariant violation: object missing for key",
			"key", key, "hash", meta.Hash.String())
		return GetOutcome{}, errs.Internalf(key, nil, "object for hash %s missing (I1 violated)", meta.Hash)
	}

	value, err := codec.DecodeFromStorage(stored)
	if err != nil {
		return GetOutcome{}, errs.Wrap(key, err)
	}

	return GetOutcome{
		Value:      value,
		Hash:       meta.Hash,
		Size:       meta.Size,
		Refs:       meta.Refs,
		CreatedAt:  meta.CreatedAt,
		Compressed: stored[0] == blob.TagZstd,
	}, nil
}

// HeadTx implements spec.md §4.C HEAD: metadata only, never touches
// the objects tree.
func HeadTx(tx *store.Tx, key string) (KeyMeta, error) {
	rawMeta := tx.Keys().Get([]byte(key))
	if rawMeta == nil {
		return KeyMeta{}, errs.NotFoundf(key, "key not found")
	}
	return decodeKeyMeta(key, rawMeta)
}

// DeleteOutcome reports what DeleteTx did.
type DeleteOutcome struct {
	Existed bool
	GCed    bool // the deleted key was the object's last referrer
}

// DeleteTx implements spec.md §4.C DELETE inside an already-open
// transaction.
func DeleteTx(tx *store.Tx, key string) (DeleteOutcome, error) {
	keyBytes := []byte(key)
	rawMeta := tx.Keys().Get(keyBytes)
	if rawMeta == nil {
		return DeleteOutcome{}, nil
	}
	meta, err := decodeKeyMeta(key, rawMeta)
	if err != nil {
		return DeleteOutcome{}, err
	}

	if err := tx.Keys().Delete(keyBytes); err != nil {
		return DeleteOutcome{}, errs.Internalf(key, err, "removing key")
	}

	refs := tx.Refs()
	refKey := meta.Hash.WithKey(keyBytes)
	if err := refs.Delete(refKey); err != nil {
		return DeleteOutcome{}, errs.Internalf(key, err, "removing ref")
	}

	gced := false
	if !store.HasPrefix(refs, meta.Hash.Bytes()) {
		if err := tx.Objects().Delete(meta.Hash.Bytes()); err != nil {
			return DeleteOutcome{}, errs.Internalf(key, err, "garbage-collecting object")
		}
		gced = true
	}

	return DeleteOutcome{Existed: true, GCed: gced}, nil
}

// ValidUTF8Key reports whether a raw bucket key can be safely rendered
// as a string in API responses. Keys are stored as raw bytes
// (spec.md §9 "Key encoding"); LIST still has to hand callers *some*
// JSON-safe representation, so non-UTF-8 keys are hex-encoded by the
// httpapi layer instead of being rejected here — this helper only
// tells the caller which path to take.
func ValidUTF8Key(key []byte) bool {
	return utf8.Valid(key)
}
