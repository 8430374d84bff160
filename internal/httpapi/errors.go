package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kvdedup/dedupkv/internal/errs"
)

func unauthorized(msg string) *errs.Error {
	return errs.Unauthorizedf("%s", msg)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError renders err as JSON with the status class spec.md §7
// assigns to its kind, logging internal/unavailable failures (client
// errors are not worth a log line on every occurrence).
func writeError(w http.ResponseWriter, err error) {
	var e *errs.Error
	if !errors.As(err, &e) {
		e = errs.Wrap("", err)
	}
	status := StatusFor(e.Kind)
	if status >= 500 {
		slog.Error("request failed", "kind", e.Kind.String(), "key", e.Key, "err", e.Error())
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: e.Error()})
}
