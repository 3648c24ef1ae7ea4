// Package api exposes the datastore over HTTP for development clients:
// batched get/put/delete, queries with cursors and explicit transactions,
// all speaking the typed JSON property encoding.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dslite-io/dslite/internal/ds"
	"github.com/dslite-io/dslite/internal/log"
	"github.com/dslite-io/dslite/internal/sqliteds"
)

// ListStore is the entity access the get/put/delete handlers go through:
// either the store itself or a cache layered over it. Queries and
// transaction control always address the store directly.
type ListStore interface {
	GetList(ctx context.Context, handle int64, keys []ds.Key) ([]ds.PropertyList, error)
	PutList(ctx context.Context, handle int64, keys []ds.Key, lists []ds.PropertyList) ([]ds.Key, error)
	DeleteKeys(ctx context.Context, handle int64, keys []ds.Key) error
}

// Server holds the handlers of the development server.
type Server struct {
	store *sqliteds.Store
	data  ListStore
	db    *sql.DB
	log   zerolog.Logger

	// rateLimit caps requests per client IP per minute; 0 disables it.
	rateLimit int
}

// New builds a Server over an open store. data may be nil, in which case
// entity access goes straight to the store. db is only pinged for health
// checks.
func New(store *sqliteds.Store, data ListStore, db *sql.DB, rateLimit int) *Server {
	if data == nil {
		data = store
	}
	return &Server{
		store:     store,
		data:      data,
		db:        db,
		log:       log.WithComponent("api"),
		rateLimit: rateLimit,
	}
}

// Router assembles the middleware stack and routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(requestID)
	r.Use(requestLogger)
	if s.rateLimit > 0 {
		r.Use(httprate.LimitByIP(s.rateLimit, time.Minute))
	}

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/get", s.handleGet)
		r.Post("/put", s.handlePut)
		r.Post("/delete", s.handleDelete)
		r.Post("/query", s.handleQuery)
		r.Post("/next", s.handleNext)
		r.Route("/tx", func(r chi.Router) {
			r.Post("/begin", s.handleTxBegin)
			r.Post("/commit", s.handleTxCommit)
			r.Post("/rollback", s.handleTxRollback)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
