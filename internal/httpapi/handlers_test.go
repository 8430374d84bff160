package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kvdedup/dedupkv/internal/batch"
	"github.com/kvdedup/dedupkv/internal/blob"
	"github.com/kvdedup/dedupkv/internal/engine"
	"github.com/kvdedup/dedupkv/internal/metrics"
	"github.com/kvdedup/dedupkv/internal/store"
)

const testToken = "test-token"

func newTestServer(t *testing.T) http.Handler {
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

	reg := metrics.New()
	eng := engine.New(db, codec, nil, reg)
	executor := batch.New(db, codec)
	return New(eng, executor, reg, testToken)
}

func authed(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer "+testToken)
	return req
}

func TestPutThenGet_RoundTrip(t *testing.T) {
	h := newTestServer(t)

	putReq := authed(httptest.NewRequest(http.MethodPut, "/hello", bytes.NewBufferString("world")))
	putRec := httptest.NewRecorder()
	h.ServeHTTP(putRec, putReq)
	if putRec.Code != http.StatusCreated {
		t.Fatalf("PUT status = %d, wanted 201", putRec.Code)
	}
	if putRec.Header().Get("X-Deduplicated") != "false" {
		t.Fatalf("X-Deduplicated = %q, wanted false", putRec.Header().Get("X-Deduplicated"))
	}

	getReq := authed(httptest.NewRequest(http.MethodGet, "/hello", nil))
	getRec := httptest.NewRecorder()
	h.ServeHTTP(getRec, getReq)
	if getRec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, wanted 200", getRec.Code)
	}
	if getRec.Body.String() != "world" {
		t.Fatalf("GET body = %q, wanted world", getRec.Body.String())
	}
	if getRec.Header().Get("X-Hash") == "" {
		t.Fatalf("GET response missing X-Hash header")
	}
	if getRec.Header().Get("X-Ref-Count") != "1" {
		t.Fatalf("X-Ref-Count = %q, wanted 1", getRec.Header().Get("X-Ref-Count"))
	}
}

func TestPut_SecondIdenticalValueDedups(t *testing.T) {
	h := newTestServer(t)

	req1 := authed(httptest.NewRequest(http.MethodPut, "/a", bytes.NewBufferString("same")))
	rec1 := httptest.NewRecorder()
	h.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusCreated {
		t.Fatalf("first PUT status = %d, wanted 201", rec1.Code)
	}

	req2 := authed(httptest.NewRequest(http.MethodPut, "/b", bytes.NewBufferString("same")))
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("second PUT status = %d, wanted 200 (deduplicated)", rec2.Code)
	}
	if rec2.Header().Get("X-Deduplicated") != "true" {
		t.Fatalf("X-Deduplicated = %q, wanted true", rec2.Header().Get("X-Deduplicated"))
	}
}

func TestGet_MissingKeyIs404(t *testing.T) {
	h := newTestServer(t)

	req := authed(httptest.NewRequest(http.MethodGet, "/missing", nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("GET(missing) status = %d, wanted 404", rec.Code)
	}
}

func TestUnauthenticated_Rejected(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated GET status = %d, wanted 401", rec.Code)
	}
}

func TestMetrics_NoAuthRequired(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d, wanted 200", rec.Code)
	}
}

func TestDelete_ThenNotFound(t *testing.T) {
	h := newTestServer(t)

	putReq := authed(httptest.NewRequest(http.MethodPut, "/k", bytes.NewBufferString("v")))
	h.ServeHTTP(httptest.NewRecorder(), putReq)

	delReq := authed(httptest.NewRequest(http.MethodDelete, "/k", nil))
	delRec := httptest.NewRecorder()
	h.ServeHTTP(delRec, delReq)
	if delRec.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, wanted 204", delRec.Code)
	}

	delReq2 := authed(httptest.NewRequest(http.MethodDelete, "/k", nil))
	delRec2 := httptest.NewRecorder()
	h.ServeHTTP(delRec2, delReq2)
	if delRec2.Code != http.StatusNotFound {
		t.Fatalf("second DELETE status = %d, wanted 404", delRec2.Code)
	}
}

func TestList_ReturnsKeysAndTotal(t *testing.T) {
	h := newTestServer(t)

	for _, k := range []string{"/a", "/b", "/c"} {
		h.ServeHTTP(httptest.NewRecorder(), authed(httptest.NewRequest(http.MethodPut, k, bytes.NewBufferString(k))))
	}

	req := authed(httptest.NewRequest(http.MethodGet, "/keys?offset=0&limit=10", nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /keys status = %d, wanted 200", rec.Code)
	}

	var resp listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Total != 3 || len(resp.Keys) != 3 {
		t.Fatalf("resp = %+v, wanted 3 keys and total 3", resp)
	}
}

func TestBatch_MixedOpsInOneRequest(t *testing.T) {
	h := newTestServer(t)

	body := `[{"op":"put","key":"k1","value":"dg=="},{"op":"get","key":"k1"},{"op":"delete","key":"k1"}]`
	req := authed(httptest.NewRequest(http.MethodPost, "/batch", bytes.NewBufferString(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /batch status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp batchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("len(Results) = %d, wanted 3", len(resp.Results))
	}
}

func TestStats_ReflectsStoredKeys(t *testing.T) {
	h := newTestServer(t)

	h.ServeHTTP(httptest.NewRecorder(), authed(httptest.NewRequest(http.MethodPut, "/a", bytes.NewBufferString("x"))))

	req := authed(httptest.NewRequest(http.MethodGet, "/stats", nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /stats status = %d, wanted 200", rec.Code)
	}

	var resp statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.KeysTotal != 1 {
		t.Fatalf("KeysTotal = %d, wanted 1", resp.KeysTotal)
	}
}
