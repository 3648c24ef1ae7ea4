package sqliteds

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dslite-io/dslite/internal/ds"
	"github.com/dslite-io/dslite/internal/log"
	"github.com/dslite-io/dslite/internal/metrics"
)

// BeginTransaction opens a SQLite transaction and returns the numeric
// handle clients use to address it.
func (s *Store) BeginTransaction(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}

	s.txMu.Lock()
	s.nextTx++
	handle := s.nextTx
	entry := txEntry{tx: tx}
	if s.txIdle > 0 {
		entry.timer = time.AfterFunc(s.txIdle, func() { s.expireTx(handle) })
	}
	s.openTx[handle] = entry
	s.txMu.Unlock()
	metrics.OpenTransactions.Inc()

	s.log.Debug().Int64(log.FieldTxHandle, handle).Msg("transaction started")
	return handle, nil
}

// expireTx rolls back a transaction whose idle timeout elapsed. Handles
// resolved in the meantime are left alone.
func (s *Store) expireTx(handle int64) {
	s.txMu.Lock()
	e, ok := s.openTx[handle]
	if ok {
		delete(s.openTx, handle)
	}
	s.txMu.Unlock()
	if !ok {
		return
	}
	metrics.OpenTransactions.Dec()
	_ = e.tx.Rollback()
	s.log.Warn().Int64(log.FieldTxHandle, handle).Msg("rolled back idle transaction")
}

// Commit commits and releases the transaction behind the handle.
func (s *Store) Commit(handle int64) error {
	tx, err := s.takeTx(handle)
	if err != nil {
		return err
	}
	start := time.Now()
	err = tx.Commit()
	metrics.ObserveOp("commit", start, err)
	return err
}

// Rollback aborts and releases the transaction behind the handle.
func (s *Store) Rollback(handle int64) error {
	tx, err := s.takeTx(handle)
	if err != nil {
		return err
	}
	start := time.Now()
	err = tx.Rollback()
	metrics.ObserveOp("rollback", start, err)
	return err
}

// takeTx removes a transaction from the handle table.
func (s *Store) takeTx(handle int64) (*sql.Tx, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	e, ok := s.openTx[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTransaction, handle)
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(s.openTx, handle)
	metrics.OpenTransactions.Dec()
	return e.tx, nil
}

// WithTransaction returns a datastore view whose operations run inside the
// open transaction behind the handle. The handle stays open until Commit or
// Rollback.
func (s *Store) WithTransaction(handle int64) (ds.Datastore, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	e, ok := s.openTx[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTransaction, handle)
	}
	return &txView{store: s, tx: e.tx}, nil
}

// RunInTransaction runs f inside a single transaction, committing if f
// returns nil and rolling back otherwise.
func (s *Store) RunInTransaction(ctx context.Context, f func(ctx context.Context, tx ds.Datastore) error) error {
	handle, err := s.BeginTransaction(ctx)
	if err != nil {
		return err
	}
	view, err := s.WithTransaction(handle)
	if err != nil {
		return err
	}

	if err := f(ctx, view); err != nil {
		if rbErr := s.Rollback(handle); rbErr != nil {
			s.log.Error().Err(rbErr).Int64(log.FieldTxHandle, handle).Msg("rollback failed")
		}
		return err
	}
	return s.Commit(handle)
}

// txView is a datastore bound to an open transaction.
type txView struct {
	store *Store
	tx    *sql.Tx
}

func (v *txView) Get(ctx context.Context, keys []ds.Key, entities interface{}) error {
	start := time.Now()
	err := getEntities(ctx, v.tx, keys, entities)
	metrics.ObserveOp("get", start, err)
	return err
}

func (v *txView) Put(ctx context.Context, keys []ds.Key, entities interface{}) ([]ds.Key, error) {
	start := time.Now()
	completed, err := putEntities(ctx, v.tx, keys, entities)
	metrics.ObserveOp("put", start, err)
	return completed, err
}

func (v *txView) Delete(ctx context.Context, keys []ds.Key) error {
	start := time.Now()
	err := deleteEntities(ctx, v.tx, keys)
	metrics.ObserveOp("delete", start, err)
	return err
}

func (v *txView) Run(ctx context.Context, q ds.Query) (ds.Iterator, error) {
	start := time.Now()
	results, err := runQuery(ctx, v.tx, q)
	metrics.ObserveOp("run_query", start, err)
	if err != nil {
		return nil, err
	}
	return &iterator{results: results, keysOnly: q.KeysOnly}, nil
}

func (v *txView) RunInTransaction(ctx context.Context, f func(ctx context.Context, tx ds.Datastore) error) error {
	return ds.ErrConcurrentTx
}
