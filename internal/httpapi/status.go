package httpapi

import (
	"net/http"

	"github.com/kvdedup/dedupkv/internal/errs"
)

// StatusFor maps an errs.Kind to the HTTP status class spec.md §7
// mandates.
func StatusFor(kind errs.Kind) int {
	switch kind {
	case errs.BadRequest:
		return http.StatusBadRequest
	case errs.Unauthorized:
		return http.StatusUnauthorized
	case errs.NotFound:
		return http.StatusNotFound
	case errs.Conflict:
		return http.StatusConflict
	case errs.PayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case errs.Unavailable:
		return http.StatusServiceUnavailable
	case errs.Internal:
		fallthrough
	default:
		return http.StatusInternalServerError
	}
}
