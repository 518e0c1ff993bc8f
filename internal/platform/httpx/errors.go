// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Mapping binds a domain error to an HTTP status and problem title.
type Mapping struct {
	Target error
	Status int
	Title  string
	// Expose controls whether err.Error() is sent as the problem detail.
	Expose bool
}

// RespondError maps err to the first matching Mapping using errors.Is and
// writes an RFC7807 response. Unmapped errors become an opaque 500.
func RespondError(w http.ResponseWriter, err error, mappings ...Mapping) {
	for _, m := range mappings {
		if errors.Is(err, m.Target) {
			detail := ""
			if m.Expose {
				detail = err.Error()
			}
			Problem(w, m.Status, m.Title, detail)
			return
		}
	}
	Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
