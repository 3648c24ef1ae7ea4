package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dslite-io/dslite/internal/ds"
	"github.com/dslite-io/dslite/internal/log"
)

// defaultNextCount is the batch size drained per /v1/next call when the
// client does not ask for one.
const defaultNextCount = 20

func decode(r *http.Request, into any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(into)
}

type getRequest struct {
	Tx   int64     `json:"tx,omitempty"`
	Keys []wireKey `json:"keys"`
}

type getResponse struct {
	// Entities is aligned with the request keys; missing entities are null.
	Entities []*wireEntity `json:"entities"`
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	var req getRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if len(req.Keys) == 0 {
		writeBadRequest(w, errors.New("no keys given"))
		return
	}

	keys := toKeys(req.Keys)
	lists, err := s.data.GetList(r.Context(), req.Tx, keys)
	var merr ds.MultiError
	if err != nil && !errors.As(err, &merr) {
		writeError(w, r, err)
		return
	}

	resp := getResponse{Entities: make([]*wireEntity, len(keys))}
	for i, pl := range lists {
		if merr.NotFound(i) {
			continue
		}
		resp.Entities[i] = &wireEntity{Key: toWireKey(keys[i]), Properties: pl}
	}
	writeJSON(w, http.StatusOK, resp)
}

type putRequest struct {
	Tx       int64        `json:"tx,omitempty"`
	Entities []wireEntity `json:"entities"`
}

type putResponse struct {
	Keys []wireKey `json:"keys"`
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	var req putRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if len(req.Entities) == 0 {
		writeBadRequest(w, errors.New("no entities given"))
		return
	}

	keys := make([]ds.Key, len(req.Entities))
	lists := make([]ds.PropertyList, len(req.Entities))
	for i, e := range req.Entities {
		keys[i] = e.Key.key()
		lists[i] = e.Properties
	}

	completed, err := s.data.PutList(r.Context(), req.Tx, keys, lists)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, putResponse{Keys: toWireKeys(completed)})
}

type deleteRequest struct {
	Tx   int64     `json:"tx,omitempty"`
	Keys []wireKey `json:"keys"`
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if len(req.Keys) == 0 {
		writeBadRequest(w, errors.New("no keys given"))
		return
	}

	if err := s.data.DeleteKeys(r.Context(), req.Tx, toKeys(req.Keys)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

type queryRequest struct {
	Tx       int64        `json:"tx,omitempty"`
	Kind     string       `json:"kind"`
	Filters  []wireFilter `json:"filters,omitempty"`
	Orders   []wireOrder  `json:"orders,omitempty"`
	Offset   int          `json:"offset,omitempty"`
	Limit    int          `json:"limit,omitempty"`
	KeysOnly bool         `json:"keys_only,omitempty"`
}

type queryResponse struct {
	Cursor int64 `json:"cursor"`
	More   bool  `json:"more"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	q, err := toQuery(req)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	cursor, more, err := s.store.RunQueryIn(r.Context(), req.Tx, q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Cursor: cursor, More: more})
}

type nextRequest struct {
	Cursor int64 `json:"cursor"`
	Count  int   `json:"count,omitempty"`
}

type nextResponse struct {
	Entities []wireEntity `json:"entities"`
	More     bool         `json:"more"`
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	var req nextRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if req.Count <= 0 {
		req.Count = defaultNextCount
	}

	batch, more, err := s.store.Next(req.Cursor, req.Count)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := nextResponse{Entities: make([]wireEntity, len(batch)), More: more}
	for i, qr := range batch {
		resp.Entities[i] = wireEntity{Key: toWireKey(qr.Key), Properties: qr.Properties}
	}
	writeJSON(w, http.StatusOK, resp)
}

type txResponse struct {
	Tx int64 `json:"tx"`
}

func (s *Server) handleTxBegin(w http.ResponseWriter, r *http.Request) {
	handle, err := s.store.BeginTransaction(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txResponse{Tx: handle})
}

type txRequest struct {
	Tx int64 `json:"tx"`
}

func (s *Server) handleTxCommit(w http.ResponseWriter, r *http.Request) {
	var req txRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.store.Commit(req.Tx); err != nil {
		writeError(w, r, err)
		return
	}
	logger := log.FromContext(r.Context())
	logger.Debug().Int64(log.FieldTxHandle, req.Tx).Msg("transaction committed")
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleTxRollback(w http.ResponseWriter, r *http.Request) {
	var req txRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := s.store.Rollback(req.Tx); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}
