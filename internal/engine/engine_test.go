package engine

import (
	"strings"
	"testing"

	"github.com/kvdedup/dedupkv/internal/blob"
	"github.com/kvdedup/dedupkv/internal/store"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	db, err := store.Open(store.Options{InMemory: true})
	if err != nil {
		t.Fatalf("store.Open() err = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	codec, err := blob.NewCodec(1)
	if err != nil {
		t.Fatalf("blob.NewCodec() err = %v", err)
	}
	t.Cleanup(codec.Close)

	return New(db, codec, nil, nil)
}

// countingRecorder records the last keys/objects totals pushed to it,
// so tests can assert the gauges update on every mutation rather than
// only when something later polls GET /stats.
type countingRecorder struct {
	keys, objects int
}

func (r *countingRecorder) ObservePut(bool)    {}
func (r *countingRecorder) ObserveDelete(bool) {}
func (r *countingRecorder) ObserveGet()        {}
func (r *countingRecorder) SetCounts(keys, objects int) {
	r.keys, r.objects = keys, objects
}

func TestPutDelete_PushLiveCountsToRecorder(t *testing.T) {
	db, err := store.Open(store.Options{InMemory: true})
	if err != nil {
		t.Fatalf("store.Open() err = %v", err)
	}
	defer db.Close()
	codec, err := blob.NewCodec(1)
	if err != nil {
		t.Fatalf("blob.NewCodec() err = %v", err)
	}
	defer codec.Close()

	rec := &countingRecorder{}
	e := New(db, codec, nil, rec)

	if _, err := e.Put("alpha", []byte("same body")); err != nil {
		t.Fatalf("Put(alpha) err = %v", err)
	}
	if rec.keys != 1 || rec.objects != 1 {
		t.Fatalf("after first PUT: keys=%d objects=%d, wanted 1,1", rec.keys, rec.objects)
	}

	if _, err := e.Put("beta", []byte("same body")); err != nil {
		t.Fatalf("Put(beta) err = %v", err)
	}
	if rec.keys != 2 || rec.objects != 1 {
		t.Fatalf("after dedup PUT: keys=%d objects=%d, wanted 2,1", rec.keys, rec.objects)
	}

	if _, err := e.Delete("alpha"); err != nil {
		t.Fatalf("Delete(alpha) err = %v", err)
	}
	if rec.keys != 1 || rec.objects != 1 {
		t.Fatalf("after DELETE of non-last-referrer: keys=%d objects=%d, wanted 1,1", rec.keys, rec.objects)
	}

	if _, err := e.Delete("beta"); err != nil {
		t.Fatalf("Delete(beta) err = %v", err)
	}
	if rec.keys != 0 || rec.objects != 0 {
		t.Fatalf("after DELETE of last referrer: keys=%d objects=%d, wanted 0,0 (GC'd)", rec.keys, rec.objects)
	}
}

func TestPutGet_RoundTrip(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.Put("k1", []byte("hello world")); err != nil {
		t.Fatalf("Put() err = %v", err)
	}
	got, err := e.Get("k1")
	if err != nil {
		t.Fatalf("Get() err = %v", err)
	}
	if string(got.Value) != "hello world" {
		t.Fatalf("Get().Value = %q, wanted %q", got.Value, "hello world")
	}
}

func TestPut_Idempotent(t *testing.T) {
	e := newTestEngine(t)

	out1, err := e.Put("k1", []byte("same value"))
	if err != nil {
		t.Fatalf("Put() #1 err = %v", err)
	}
	out2, err := e.Put("k1", []byte("same value"))
	if err != nil {
		t.Fatalf("Put() #2 err = %v", err)
	}
	if out1.Hash != out2.Hash {
		t.Fatalf("hash changed across idempotent PUTs: %v vs %v", out1.Hash, out2.Hash)
	}
	if out1.CreatedAt != out2.CreatedAt {
		t.Fatalf("CreatedAt changed across idempotent PUTs: %d vs %d", out1.CreatedAt, out2.CreatedAt)
	}
	if out2.ObjectWasNew {
		t.Fatalf("second identical PUT reported ObjectWasNew = true")
	}
}

func TestPut_DedupAcrossKeys(t *testing.T) {
	e := newTestEngine(t)

	out1, err := e.Put("a", []byte("shared content"))
	if err != nil {
		t.Fatalf("Put(a) err = %v", err)
	}
	out2, err := e.Put("b", []byte("shared content"))
	if err != nil {
		t.Fatalf("Put(b) err = %v", err)
	}
	if out1.Hash != out2.Hash {
		t.Fatalf("identical content hashed differently: %v vs %v", out1.Hash, out2.Hash)
	}
	if out2.ObjectWasNew {
		t.Fatalf("second key's PUT reported ObjectWasNew = true, object should have been shared")
	}

	// Refs is the count as of the entry's own last write, so the key
	// written second is the one that sees both referrers.
	metaB, err := e.Head("b")
	if err != nil {
		t.Fatalf("Head(b) err = %v", err)
	}
	if metaB.Refs != 2 {
		t.Fatalf("Refs = %d, wanted 2 (two keys reference the same object)", metaB.Refs)
	}
}

func TestDelete_GarbageCollectsOnlyWhenLastReferrer(t *testing.T) {
	e := newTestEngine(t)

	e.Put("a", []byte("shared content"))
	e.Put("b", []byte("shared content"))

	if _, err := e.Delete("a"); err != nil {
		t.Fatalf("Delete(a) err = %v", err)
	}

	// b must still read back fine: the object was not GC'd while b
	// still referenced it.
	got, err := e.Get("b")
	if err != nil {
		t.Fatalf("Get(b) after deleting a err = %v", err)
	}
	if string(got.Value) != "shared content" {
		t.Fatalf("Get(b).Value = %q, wanted %q", got.Value, "shared content")
	}

	if _, err := e.Delete("b"); err != nil {
		t.Fatalf("Delete(b) err = %v", err)
	}
	if _, err := e.Get("b"); err == nil {
		t.Fatalf("Get(b) after deleting b succeeded, wanted not-found")
	}
}

func TestDelete_UnknownKeyReportsNotFound(t *testing.T) {
	e := newTestEngine(t)

	existed, err := e.Delete("missing")
	if err != nil {
		t.Fatalf("Delete(missing) err = %v", err)
	}
	if existed {
		t.Fatalf("Delete(missing) existed = true, wanted false")
	}
}

func TestGet_UnknownKeyIsNotFound(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.Get("missing"); err == nil {
		t.Fatalf("Get(missing) err = nil, wanted not-found error")
	}
}

func TestPut_RepointingKeyChangesHashAndGCsOldObjectWhenUnreferenced(t *testing.T) {
	e := newTestEngine(t)

	first, err := e.Put("k", []byte("version one"))
	if err != nil {
		t.Fatalf("Put() #1 err = %v", err)
	}
	second, err := e.Put("k", []byte("version two, a different value"))
	if err != nil {
		t.Fatalf("Put() #2 err = %v", err)
	}
	if first.Hash == second.Hash {
		t.Fatalf("hash did not change across different content")
	}

	meta, err := e.Head("k")
	if err != nil {
		t.Fatalf("Head() err = %v", err)
	}
	if meta.Hash != second.Hash {
		t.Fatalf("Head().Hash = %v, wanted %v", meta.Hash, second.Hash)
	}
	if meta.CreatedAt != first.CreatedAt {
		t.Fatalf("CreatedAt changed on re-PUT of an existing key: %d vs %d", meta.CreatedAt, first.CreatedAt)
	}

	e.db.View(func(tx *store.Tx) error {
		if tx.Objects().Get(first.Hash.Bytes()) != nil {
			t.Fatalf("old object %v still stored after its only key was re-pointed", first.Hash)
		}
		if store.HasPrefix(tx.Refs(), first.Hash.Bytes()) {
			t.Fatalf("refs still hold an entry for old hash %v", first.Hash)
		}
		return nil
	})
}

func TestValidateKey_RejectsOutOfRangeAndControlBytes(t *testing.T) {
	if err := ValidateKey(nil); err == nil {
		t.Fatalf("ValidateKey(empty) err = nil, wanted error")
	}
	if err := ValidateKey([]byte(strings.Repeat("x", MaxKeyLen+1))); err == nil {
		t.Fatalf("ValidateKey(too long) err = nil, wanted error")
	}
	if err := ValidateKey([]byte("bad\x00key")); err == nil {
		t.Fatalf("ValidateKey(NUL byte) err = nil, wanted error")
	}
	if err := ValidateKey([]byte("tab\tkey")); err != nil {
		t.Fatalf("ValidateKey(tab) err = %v, wanted nil (tab is allowed)", err)
	}
}

func TestList_PaginatesInKeyOrder(t *testing.T) {
	e := newTestEngine(t)

	for _, k := range []string{"c", "a", "e", "b", "d"} {
		if _, err := e.Put(k, []byte(k)); err != nil {
			t.Fatalf("Put(%s) err = %v", k, err)
		}
	}

	result, err := e.List(1, 2)
	if err != nil {
		t.Fatalf("List() err = %v", err)
	}
	if result.Total != 5 {
		t.Fatalf("Total = %d, wanted 5", result.Total)
	}
	if len(result.Entries) != 2 {
		t.Fatalf("len(Entries) = %d, wanted 2", len(result.Entries))
	}
	if result.Entries[0].Key != "b" || result.Entries[1].Key != "c" {
		t.Fatalf("Entries = %+v, wanted [b c]", result.Entries)
	}
}

func TestList_ClampsLimitAndDefaults(t *testing.T) {
	e := newTestEngine(t)
	e.Put("a", []byte("v"))

	result, err := e.List(0, 0)
	if err != nil {
		t.Fatalf("List(0,0) err = %v", err)
	}
	if len(result.Entries) != 1 {
		t.Fatalf("List(0,0) returned %d entries, wanted 1", len(result.Entries))
	}

	if _, err := e.List(-1, 10); err == nil {
		t.Fatalf("List(-1, 10) err = nil, wanted error for negative offset")
	}
}
