// Package batch implements the Batch Executor of spec.md §4.D: an
// ordered list of Put/Get/Delete operations applied within one
// transaction, where a failing op is recorded but does not abort the
// batch.
package batch

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/kvdedup/dedupkv/internal/blob"
	"github.com/kvdedup/dedupkv/internal/engine"
	"github.com/kvdedup/dedupkv/internal/errs"
	"github.com/kvdedup/dedupkv/internal/store"
)

const (
	// MaxBatchOps bounds a single batch request (spec.md §4.D: "N >= 100,
	// bounded to avoid unbounded transaction size; recommended 1000").
	MaxBatchOps = 1000
	// MinBatchOpsFloor records the lower bound spec.md §4.D sets for
	// MaxBatchOps (N >= 100). No code path reads it; MaxBatchOps is a
	// constant, not a configuration value.
	MinBatchOpsFloor = 100
	// MaxCommitRetries bounds the number of attempts at committing a
	// whole batch (spec.md §4.D: "retried a bounded number of times").
	MaxCommitRetries = 3
)

// Kind identifies which of the three op types a Op/Result is.
type Kind string

const (
	Put    Kind = "put"
	Get    Kind = "get"
	Delete Kind = "delete"
)

// Op is one entry of a batch request body.
type Op struct {
	Kind  Kind   `json:"op" msgpack:"op"`
	Key   string `json:"key" msgpack:"key"`
	Value []byte `json:"value,omitempty" msgpack:"value,omitempty"`
}

// Result is one entry of a batch response, tagged with the outcome of
// its op per spec.md §4.D's four result shapes (put/get/delete/error).
type Result struct {
	Key     string `json:"key"`
	Op      Kind   `json:"op,omitempty"`
	Hash    string `json:"hash,omitempty"`
	Created *bool  `json:"created,omitempty"`
	Found   *bool  `json:"found,omitempty"`
	Value   []byte `json:"value,omitempty"`
	Deleted *bool  `json:"deleted,omitempty"`
	Error   string `json:"error,omitempty"`
}

func boolp(b bool) *bool { return &b }

// Executor runs batches of ops against a store.DB.
type Executor struct {
	db    *store.DB
	codec *blob.Codec
}

// New builds an Executor over an already-open store and blob codec.
func New(db *store.DB, codec *blob.Codec) *Executor {
	return &Executor{db: db, codec: codec}
}

// Run executes ops in order within one transaction, re-running the
// whole batch on commit failure for at most MaxCommitRetries attempts
// in total (spec.md §4.D).
// Per-op failures never abort the batch; only a store-level commit
// failure (a panic recovered by store.DB.Update, or the backend
// refusing the transaction) triggers a retry.
func (ex *Executor) Run(ops []Op) ([]Result, error) {
	if len(ops) > MaxBatchOps {
		return nil, errs.BadRequestf("batch has %d ops, max is %d", len(ops), MaxBatchOps)
	}

	// Freeze the plan into a replay-safe snapshot before opening any
	// transaction, so a retry replays byte-identical input rather than
	// re-walking caller-owned slices that might be mutated concurrently.
	frozen, err := freezePlan(ops)
	if err != nil {
		return nil, errs.Internalf("", err, "freezing batch plan")
	}

	var results []Result
	var lastErr error
	for attempt := 0; attempt < MaxCommitRetries; attempt++ {
		results = make([]Result, len(frozen))
		now := time.Now()
		lastErr = ex.db.Update(func(tx *store.Tx) error {
			for i, op := range frozen {
				results[i] = ex.runOne(tx, op, now)
			}
			return nil
		})
		if lastErr == nil {
			return results, nil
		}
	}
	return nil, errs.Unavailablef("batch commit failed after %d attempts: %v", MaxCommitRetries, lastErr)
}

// runOne executes a single op inside an open transaction. It never
// returns an error to its caller: any failure is captured into the
// Result's Error field so the surrounding transaction keeps going.
func (ex *Executor) runOne(tx *store.Tx, op Op, now time.Time) Result {
	switch op.Kind {
	case Put:
		out, err := engine.PutTx(tx, ex.codec, op.Key, op.Value, now)
		if err != nil {
			return Result{Key: op.Key, Op: Put, Error: err.Error()}
		}
		return Result{Key: op.Key, Op: Put, Hash: out.Hash.String(), Created: boolp(out.ObjectWasNew)}

	case Get:
		out, err := engine.GetTx(tx, ex.codec, op.Key)
		if errs.Is(err, errs.NotFound) {
			return Result{Key: op.Key, Op: Get, Found: boolp(false)}
		}
		if err != nil {
			return Result{Key: op.Key, Op: Get, Error: err.Error()}
		}
		return Result{Key: op.Key, Op: Get, Found: boolp(true), Value: out.Value, Hash: out.Hash.String()}

	case Delete:
		out, err := engine.DeleteTx(tx, op.Key)
		if err != nil {
			return Result{Key: op.Key, Op: Delete, Error: err.Error()}
		}
		return Result{Key: op.Key, Op: Delete, Deleted: boolp(out.Existed)}

	default:
		return Result{Key: op.Key, Error: "unknown op kind: " + string(op.Kind)}
	}
}

// freezePlan round-trips ops through msgpack so the executor's retry
// loop replays a detached snapshot instead of the caller's live slices.
func freezePlan(ops []Op) ([]Op, error) {
	raw, err := msgpack.Marshal(ops)
	if err != nil {
		return nil, err
	}
	var out []Op
	if err := msgpack.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
