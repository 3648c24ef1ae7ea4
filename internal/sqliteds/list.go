package sqliteds

// Wire-level operations for the development server: raw property lists
// addressed by key, optionally bound to an open transaction handle. The
// struct-based ds.Datastore methods are built on the same internals.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dslite-io/dslite/internal/ds"
	"github.com/dslite-io/dslite/internal/metrics"
)

// handleRunner resolves an optional transaction handle to the statement
// runner an operation should use; handle 0 selects the plain database.
func (s *Store) handleRunner(handle int64) (runner, error) {
	if handle == 0 {
		return s.db, nil
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	e, ok := s.openTx[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTransaction, handle)
	}
	return e.tx, nil
}

// GetList loads the raw property lists stored under keys. Missing entities
// leave a nil slot and are reported as ds.ErrNoEntity in a ds.MultiError.
func (s *Store) GetList(ctx context.Context, handle int64, keys []ds.Key) ([]ds.PropertyList, error) {
	start := time.Now()
	lists, err := s.getLists(ctx, handle, keys)
	metrics.ObserveOp("get", start, err)
	return lists, err
}

func (s *Store) getLists(ctx context.Context, handle int64, keys []ds.Key) ([]ds.PropertyList, error) {
	r, err := s.handleRunner(handle)
	if err != nil {
		return nil, err
	}

	lists := make([]ds.PropertyList, len(keys))
	merr := make(ds.MultiError, len(keys))
	failed := false
	for i, key := range keys {
		if err := key.Validate(); err != nil {
			return nil, err
		}
		if key.Incomplete() {
			return nil, fmt.Errorf("%w: cannot get incomplete key %v", ds.ErrInvalid, key)
		}

		pl, found, err := getOne(ctx, r, key)
		if err != nil {
			return nil, err
		}
		if !found {
			merr[i] = ds.ErrNoEntity
			failed = true
			continue
		}
		lists[i] = pl
	}

	if failed {
		return lists, merr
	}
	return lists, nil
}

// PutList stores raw property lists under keys and returns the completed
// keys. With handle 0 the batch is applied in its own transaction.
func (s *Store) PutList(ctx context.Context, handle int64, keys []ds.Key, lists []ds.PropertyList) ([]ds.Key, error) {
	if len(keys) != len(lists) {
		return nil, fmt.Errorf("%w: keys length not same as lists length", ds.ErrInvalid)
	}

	start := time.Now()
	var (
		completed []ds.Key
		err       error
	)
	if handle == 0 {
		completed, err = s.inOwnTx(ctx, func(tx *sql.Tx) ([]ds.Key, error) {
			return putLists(ctx, tx, keys, lists)
		})
	} else {
		var r runner
		if r, err = s.handleRunner(handle); err == nil {
			completed, err = putLists(ctx, r, keys, lists)
		}
	}
	metrics.ObserveOp("put", start, err)
	return completed, err
}

func putLists(ctx context.Context, r runner, keys []ds.Key, lists []ds.PropertyList) ([]ds.Key, error) {
	completed := make([]ds.Key, len(keys))
	for i, key := range keys {
		var err error
		if completed[i], err = putOneList(ctx, r, key, lists[i]); err != nil {
			return nil, err
		}
	}
	return completed, nil
}

// DeleteKeys removes the entities stored under keys. Handle semantics match
// PutList.
func (s *Store) DeleteKeys(ctx context.Context, handle int64, keys []ds.Key) error {
	start := time.Now()
	var err error
	if handle == 0 {
		_, err = s.inOwnTx(ctx, func(tx *sql.Tx) ([]ds.Key, error) {
			return nil, deleteEntities(ctx, tx, keys)
		})
	} else {
		var r runner
		if r, err = s.handleRunner(handle); err == nil {
			err = deleteEntities(ctx, r, keys)
		}
	}
	metrics.ObserveOp("delete", start, err)
	return err
}
