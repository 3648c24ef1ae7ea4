package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/dslite-io/dslite/internal/log"
)

// HeaderRequestID carries the request correlation ID on both directions.
const HeaderRequestID = "X-Request-Id"

// requestID assigns every request a correlation ID, reusing one supplied by
// the client.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(log.ContextWithRequestID(r.Context(), id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// requestLogger logs one line per request with method, path, status and
// latency.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)

		logger := log.FromContext(r.Context())
		logger.Info().
			Str("method", r.Method).
			Str(log.FieldPath, r.URL.Path).
			Str(log.FieldRemoteAddr, r.RemoteAddr).
			Int(log.FieldStatus, sr.status).
			Int64(log.FieldDurationMS, time.Since(start).Milliseconds()).
			Msg("request")
	})
}

// recoverer turns handler panics into 500 responses instead of crashing the
// daemon.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				buf := make([]byte, 8192)
				n := runtime.Stack(buf, false)

				logger := log.FromContext(r.Context())
				logger.Error().
					Str(log.FieldPath, r.URL.Path).
					Interface("panic_value", rec).
					Str("stack_trace", string(buf[:n])).
					Msg("panic recovered in HTTP handler")

				writeJSON(w, http.StatusInternalServerError,
					map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
