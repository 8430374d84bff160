// Package httpapi is the Request Adapter of spec.md §4.E: it maps
// HTTP verbs onto engine/batch calls with a bit-exact status and
// header contract, since external clients depend on both.
package httpapi

import (
	"net/http"

	"github.com/kvdedup/dedupkv/internal/batch"
	"github.com/kvdedup/dedupkv/internal/engine"
	"github.com/kvdedup/dedupkv/internal/metrics"
)

// DefaultMaxBodyBytes is spec.md §5's default per-request body limit.
const DefaultMaxBodyBytes = 256 * 1024 * 1024

// Server holds everything a request handler needs: the engine, the
// batch executor, and the metrics registry that both the middleware
// and the handlers report into.
type Server struct {
	engine       *engine.Engine
	executor     *batch.Executor
	metrics      *metrics.Registry
	token        string
	maxBodyBytes int64
}

// New builds the HTTP handler: auth and metrics middleware wrapping an
// http.ServeMux of the fixed route set in spec.md §4.E.
func New(eng *engine.Engine, executor *batch.Executor, reg *metrics.Registry, token string) http.Handler {
	s := &Server{engine: eng, executor: executor, metrics: reg, token: token, maxBodyBytes: DefaultMaxBodyBytes}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", reg.Handler())
	mux.HandleFunc("GET /keys", s.wrap("GET /keys", s.handleList))
	mux.HandleFunc("GET /stats", s.wrap("GET /stats", s.handleStats))
	mux.HandleFunc("POST /batch", s.wrap("POST /batch", s.handleBatch))
	mux.HandleFunc("PUT /{key...}", s.wrap("PUT /{key}", s.handlePut))
	// A "GET" pattern also matches HEAD requests, and a separate
	// "HEAD /{key...}" pattern would conflict with "GET /metrics" and the
	// other fixed GET routes, so one pattern serves both and dispatches
	// on the method.
	get := s.wrap("GET /{key}", s.handleGet)
	head := s.wrap("HEAD /{key}", s.handleHead)
	mux.HandleFunc("GET /{key...}", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			head(w, r)
			return
		}
		get(w, r)
	})
	mux.HandleFunc("DELETE /{key...}", s.wrap("DELETE /{key}", s.handleDelete))

	return Auth(token, mux)
}

// wrap attaches metrics observation to a handler under its route
// template, so the middleware's cardinality stays bounded regardless
// of the arbitrary user keys routed through {key...}.
func (s *Server) wrap(route string, h http.HandlerFunc) http.HandlerFunc {
	wrapped := s.metrics.Middleware(route, h)
	return func(w http.ResponseWriter, r *http.Request) { wrapped.ServeHTTP(w, r) }
}
