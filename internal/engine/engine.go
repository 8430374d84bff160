package engine

import (
	"log/slog"
	"time"

	"github.com/kvdedup/dedupkv/internal/blob"
	"github.com/kvdedup/dedupkv/internal/errs"
	"github.com/kvdedup/dedupkv/internal/store"
)

const (
	// DefaultListLimit and MaxListLimit bound LIST per spec.md §4.C.LIST.
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// Recorder receives counters the HTTP adapter exposes as Prometheus
// metrics (spec.md §9, "operational visibility"). Engine's Put, Get
// and Delete call it directly, instead of the HTTP layer guessing what
// happened from a status code. Ops run by the batch executor go
// through PutTx/GetTx/DeleteTx and are not reported to it.
type Recorder interface {
	ObservePut(objectWasNew bool)
	ObserveDelete(objectGCed bool)
	ObserveGet()
	SetCounts(keys, objects int)
}

type noopRecorder struct{}

func (noopRecorder) ObservePut(bool)    {}
func (noopRecorder) ObserveDelete(bool) {}
func (noopRecorder) ObserveGet()        {}
func (noopRecorder) SetCounts(int, int) {}

// Engine is the Dedup/Reference-Count Engine of spec.md §4.C: the only
// component allowed to touch the keys/objects/refs trees, so every
// invariant I1-I5 is enforced in one place.
type Engine struct {
	db       *store.DB
	codec    *blob.Codec
	logger   *slog.Logger
	recorder Recorder
}

// New builds an Engine over an already-open store and blob codec.
func New(db *store.DB, codec *blob.Codec, logger *slog.Logger, rec Recorder) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if rec == nil {
		rec = noopRecorder{}
	}
	return &Engine{db: db, codec: codec, logger: logger, recorder: rec}
}

// Put stores value under key, deduplicating against any existing
// object with the same content hash (spec.md §4.C PUT).
func (e *Engine) Put(key string, value []byte) (PutOutcome, error) {
	now := time.Now()
	var out PutOutcome
	var keys, objects int
	err := e.db.Update(func(tx *store.Tx) error {
		var err error
		out, err = PutTx(tx, e.codec, key, value, now)
		if err != nil {
			return err
		}
		keys, objects = tx.Keys().KeyCount(), tx.Objects().KeyCount()
		return nil
	})
	if err != nil {
		return PutOutcome{}, err
	}
	e.recorder.ObservePut(out.ObjectWasNew)
	e.recorder.SetCounts(keys, objects)
	return out, nil
}

// Get retrieves the value stored under key (spec.md §4.C GET).
func (e *Engine) Get(key string) (GetOutcome, error) {
	var out GetOutcome
	err := e.db.View(func(tx *store.Tx) error {
		var err error
		out, err = GetTx(tx, e.codec, key)
		return err
	})
	if err != nil {
		return GetOutcome{}, err
	}
	e.recorder.ObserveGet()
	return out, nil
}

// Head retrieves metadata for key without reading its object
// (spec.md §4.C HEAD).
func (e *Engine) Head(key string) (KeyMeta, error) {
	var meta KeyMeta
	err := e.db.View(func(tx *store.Tx) error {
		var err error
		meta, err = HeadTx(tx, key)
		return err
	})
	return meta, err
}

// Delete removes key and garbage-collects its object if this was the
// last referrer (spec.md §4.C DELETE). It reports whether the key
// existed.
func (e *Engine) Delete(key string) (bool, error) {
	var out DeleteOutcome
	var keys, objects int
	err := e.db.Update(func(tx *store.Tx) error {
		var err error
		out, err = DeleteTx(tx, key)
		if err != nil {
			return err
		}
		keys, objects = tx.Keys().KeyCount(), tx.Objects().KeyCount()
		return nil
	})
	if err != nil {
		return false, err
	}
	if out.Existed {
		e.recorder.ObserveDelete(out.GCed)
		e.recorder.SetCounts(keys, objects)
	}
	return out.Existed, nil
}

// Stats summarizes the three trees (supplemental `GET /stats` feature,
// mirroring original_source's DbWrapper::count_keys/count_objects/
// count_refs/total_size).
type Stats struct {
	KeysTotal    int
	ObjectsTotal int
	RefsTotal    int
	TotalBytes   uint64
}

// Stats reads point-in-time counts across all three trees. All counts
// and TotalBytes are read inside one read-only transaction, so they
// are consistent with each other; like List's Total this is a snapshot
// taken for reporting, not a value any other operation depends on.
func (e *Engine) Stats() (Stats, error) {
	var st Stats
	err := e.db.View(func(tx *store.Tx) error {
		st.KeysTotal = tx.Keys().KeyCount()
		st.ObjectsTotal = tx.Objects().KeyCount()
		st.RefsTotal = tx.Refs().KeyCount()

		c := tx.Keys().Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			meta, err := decodeKeyMeta(string(k), v)
			if err != nil {
				return err
			}
			st.TotalBytes += meta.Size
		}
		return nil
	})
	return st, err
}

// ListEntry is one row of a LIST response.
type ListEntry struct {
	Key  string
	Meta KeyMeta
}

// ListResult is the outcome of List: a page of entries plus the total
// key count, so callers can paginate (spec.md §4.C LIST).
type ListResult struct {
	Entries []ListEntry
	Total   int
}

// List returns up to limit keys in ascending order starting at offset
// (spec.md §4.C LIST). limit is clamped to [1, MaxListLimit]; <= 0
// selects DefaultListLimit.
func (e *Engine) List(offset, limit int) (ListResult, error) {
	if offset < 0 {
		return ListResult{}, errs.BadRequestf("offset %d must be >= 0", offset)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	var result ListResult
	err := e.db.View(func(tx *store.Tx) error {
		keys := tx.Keys()
		result.Total = keys.KeyCount()
		page := store.ScanPage(keys, offset, limit)
		result.Entries = make([]ListEntry, 0, len(page))
		for _, ent := range page {
			meta, err := decodeKeyMeta(string(ent.Key), ent.Value)
			if err != nil {
				return err
			}
			result.Entries = append(result.Entries, ListEntry{Key: string(ent.Key), Meta: meta})
		}
		return nil
	})
	if err != nil {
		return ListResult{}, err
	}
	return result, nil
}
