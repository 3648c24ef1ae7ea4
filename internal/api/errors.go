package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dslite-io/dslite/internal/ds"
	"github.com/dslite-io/dslite/internal/log"
	"github.com/dslite-io/dslite/internal/sqliteds"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps datastore errors onto HTTP statuses. Unknown handles are
// 404, invalid arguments the client can fix are 400, everything else not
// classified is a 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, sqliteds.ErrUnknownTransaction),
		errors.Is(err, sqliteds.ErrUnknownCursor):
		code = http.StatusNotFound
	case errors.Is(err, ds.ErrInvalid):
		code = http.StatusBadRequest
	}
	if code == http.StatusInternalServerError {
		logger := log.FromContext(r.Context())
		logger.Error().Err(err).
			Str(log.FieldPath, r.URL.Path).
			Msg("request failed")
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// writeBadRequest reports malformed or invalid request payloads.
func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
}
