package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/challengectl/challengectl/pkg/types"
)

// errorResponse is the JSON body returned for every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// writeJSON encodes v as the response body. Encoding failures are ignored
// because the status line has already been written.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps domain errors onto HTTP status codes. Unrecognized errors
// become 500s with a generic body so internal detail never leaks to agents.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, types.ErrAuth):
		status = http.StatusUnauthorized
		msg = err.Error()
	case errors.Is(err, types.ErrForbidden):
		status = http.StatusForbidden
		msg = err.Error()
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
		msg = err.Error()
	case errors.Is(err, types.ErrStaleAssignment):
		status = http.StatusConflict
		msg = err.Error()
	case errors.Is(err, types.ErrConflict):
		status = http.StatusConflict
		msg = err.Error()
	case errors.Is(err, types.ErrCorrupt):
		status = http.StatusInternalServerError
		msg = err.Error()
	}

	writeJSON(w, status, errorResponse{Error: msg, Code: status})
}
