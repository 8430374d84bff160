package httpapi

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin/binding"

	"github.com/kvdedup/dedupkv/internal/batch"
	"github.com/kvdedup/dedupkv/internal/engine"
	"github.com/kvdedup/dedupkv/internal/errs"
)

// keyFromPath extracts the path segment after the leading '/' exactly
// as received, without percent-decoding (spec.md §4.E: "the path
// segment after the first '/' is taken as the key exactly as
// received, without percent-decoding"). EscapedPath reproduces the
// wire form of the path, so no decode step runs on it here.
func keyFromPath(r *http.Request) string {
	return strings.TrimPrefix(r.URL.EscapedPath(), "/")
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	key := keyFromPath(r)

	body := http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	value, err := io.ReadAll(body)
	if err != nil {
		writeError(w, errs.PayloadTooLargef("request body exceeds %d bytes", s.maxBodyBytes))
		return
	}

	out, err := s.engine.Put(key, value)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if out.ObjectWasNew {
		status = http.StatusCreated
	}
	w.Header().Set("X-Hash", out.Hash.String())
	w.Header().Set("X-Hash-Algorithm", "xxh3_128")
	w.Header().Set("X-Deduplicated", strconv.FormatBool(!out.ObjectWasNew))
	w.WriteHeader(status)
	w.Write([]byte(out.Hash.String()))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := keyFromPath(r)

	out, err := s.engine.Get(key)
	if err != nil {
		writeError(w, err)
		return
	}

	setObjectHeaders(w, out.Hash.String(), out.Size, out.Refs, out.CreatedAt)
	// X-Compressed reflects the stored object's tag byte; only GET reads
	// the objects tree, so only GET can report it (spec.md §4.C.HEAD
	// deliberately never reads objects[H]).
	w.Header().Set("X-Compressed", strconv.FormatBool(out.Compressed))
	w.WriteHeader(http.StatusOK)
	w.Write(out.Value)
}

func (s *Server) handleHead(w http.ResponseWriter, r *http.Request) {
	key := keyFromPath(r)

	meta, err := s.engine.Head(key)
	if err != nil {
		writeError(w, err)
		return
	}

	setObjectHeaders(w, meta.Hash.String(), meta.Size, meta.Refs, meta.CreatedAt)
	w.WriteHeader(http.StatusOK)
}

func setObjectHeaders(w http.ResponseWriter, hash string, size, refs uint64, createdAt int64) {
	w.Header().Set("X-Hash", hash)
	w.Header().Set("X-Hash-Algorithm", "xxh3_128")
	w.Header().Set("X-Created-At", strconv.FormatInt(createdAt, 10))
	w.Header().Set("X-Object-Size", strconv.FormatUint(size, 10))
	w.Header().Set("X-Ref-Count", strconv.FormatUint(refs, 10))
	w.Header().Set("Content-Length", strconv.FormatUint(size, 10))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := keyFromPath(r)

	existed, err := s.engine.Delete(key)
	if err != nil {
		writeError(w, err)
		return
	}
	if !existed {
		writeError(w, errs.NotFoundf(key, "key not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type listEntryJSON struct {
	Key         string `json:"key"`
	KeyEncoding string `json:"key_encoding,omitempty"`
	Hash        string `json:"hash"`
	Size        uint64 `json:"size"`
	Refs        uint64 `json:"refs"`
	CreatedAt   int64  `json:"created_at"`
}

type listResponse struct {
	Keys  []listEntryJSON `json:"keys"`
	Total int             `json:"total"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, errs.BadRequestf("invalid offset: %v", err))
		return
	}
	limit, err := queryInt(r, "limit", engine.DefaultListLimit)
	if err != nil {
		writeError(w, errs.BadRequestf("invalid limit: %v", err))
		return
	}

	result, err := s.engine.List(offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := listResponse{Keys: make([]listEntryJSON, len(result.Entries)), Total: result.Total}
	for i, ent := range result.Entries {
		row := listEntryJSON{
			Key:       ent.Key,
			Hash:      ent.Meta.Hash.String(),
			Size:      ent.Meta.Size,
			Refs:      ent.Meta.Refs,
			CreatedAt: ent.Meta.CreatedAt,
		}
		// Keys are arbitrary bytes (spec.md §9); non-UTF-8 keys can't
		// round-trip through a JSON string, so they're hex-encoded and
		// flagged instead of silently mangled.
		if !engine.ValidUTF8Key([]byte(ent.Key)) {
			row.Key = hex.EncodeToString([]byte(ent.Key))
			row.KeyEncoding = "hex"
		}
		resp.Keys[i] = row
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

type statsResponse struct {
	KeysTotal    int    `json:"keys_total"`
	ObjectsTotal int    `json:"objects_total"`
	RefsTotal    int    `json:"refs_total"`
	TotalBytes   uint64 `json:"total_bytes"`
}

// handleStats serves the supplemental GET /stats endpoint (see
// DESIGN.md / SPEC_FULL.md §5.2): unlike /metrics, this is
// authenticated app data, not a health probe.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Stats()
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.SetCounts(st.KeysTotal, st.ObjectsTotal)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statsResponse{
		KeysTotal:    st.KeysTotal,
		ObjectsTotal: st.ObjectsTotal,
		RefsTotal:    st.RefsTotal,
		TotalBytes:   st.TotalBytes,
	})
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

type batchResponse struct {
	Results []batch.Result `json:"results"`
}

// handleBatch decodes the request body with gin/binding's JSON
// binding (spec.md §4.5 / SPEC_FULL.md §4.6): the one place on this
// surface that needs JSON-body validation with size limits, so it's
// the one place that reaches for the binding package rather than
// plain encoding/json.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)

	var ops []batch.Op
	if err := binding.JSON.Bind(r, &ops); err != nil {
		writeError(w, errs.BadRequestf("malformed batch body: %v", err))
		return
	}

	results, err := s.executor.Run(ops)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(batchResponse{Results: results})
}
