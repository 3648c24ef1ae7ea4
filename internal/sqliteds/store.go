// Package sqliteds implements the ds.Datastore service on SQLite. Each kind
// is stored in its own table whose columns are derived from the properties
// of the entities written to it; the schema is migrated on the fly as new
// properties appear.
package sqliteds

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dslite-io/dslite/internal/ds"
	"github.com/dslite-io/dslite/internal/log"
	"github.com/dslite-io/dslite/internal/metrics"
)

var (
	// ErrUnknownTransaction is returned for transaction handles that are
	// not (or no longer) open.
	ErrUnknownTransaction = errors.New("dslite: unknown transaction handle")

	// ErrUnknownCursor is returned for query cursors that are not (or no
	// longer) open.
	ErrUnknownCursor = errors.New("dslite: unknown cursor")
)

// Store is a SQLite-backed datastore. It also keeps the numeric transaction
// and cursor handles the development server hands out to clients.
type Store struct {
	db  *sql.DB
	log zerolog.Logger

	txMu   sync.Mutex
	nextTx int64
	openTx map[int64]txEntry
	txIdle time.Duration

	cursorMu   sync.Mutex
	nextCursor int64
	cursors    map[int64][]QueryResult
}

// txEntry is an open transaction plus the timer that expires it when the
// client never commits or rolls back.
type txEntry struct {
	tx    *sql.Tx
	timer *time.Timer
}

var (
	_ ds.Datastore = (*Store)(nil)
	_ ds.Datastore = (*txView)(nil)
)

// New wraps an open SQLite database. The caller keeps ownership of db.
func New(db *sql.DB) *Store {
	return &Store{
		db:      db,
		log:     log.WithComponent("sqliteds"),
		openTx:  map[int64]txEntry{},
		cursors: map[int64][]QueryResult{},
	}
}

// SetTxIdleTimeout arranges for transactions that see neither Commit nor
// Rollback within d to be rolled back and their handle released. Zero, the
// default, keeps handles open until the client resolves them. An in-memory
// database has a single connection, so an abandoned handle would otherwise
// block every other operation.
func (s *Store) SetTxIdleTimeout(d time.Duration) {
	s.txMu.Lock()
	s.txIdle = d
	s.txMu.Unlock()
}

// Close rolls back any transactions still open. The database itself is not
// closed; it belongs to the caller.
func (s *Store) Close() error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	for handle, e := range s.openTx {
		if e.timer != nil {
			e.timer.Stop()
		}
		_ = e.tx.Rollback()
		delete(s.openTx, handle)
		metrics.OpenTransactions.Dec()
		s.log.Warn().Int64(log.FieldTxHandle, handle).Msg("rolled back abandoned transaction")
	}
	return nil
}

// Get loads the entities for the given keys. Missing entities surface as
// per-index ds.ErrNoEntity slots of a ds.MultiError.
func (s *Store) Get(ctx context.Context, keys []ds.Key, entities interface{}) error {
	start := time.Now()
	err := getEntities(ctx, s.db, keys, entities)
	metrics.ObserveOp("get", start, err)
	return err
}

// Put stores the entities, migrating each kind's schema as needed. The
// whole batch is applied in one SQLite transaction.
func (s *Store) Put(ctx context.Context, keys []ds.Key, entities interface{}) ([]ds.Key, error) {
	start := time.Now()
	completed, err := s.inOwnTx(ctx, func(tx *sql.Tx) ([]ds.Key, error) {
		return putEntities(ctx, tx, keys, entities)
	})
	metrics.ObserveOp("put", start, err)
	return completed, err
}

// Delete removes the entities for the given keys. Keys of kinds that were
// never written are ignored.
func (s *Store) Delete(ctx context.Context, keys []ds.Key) error {
	start := time.Now()
	_, err := s.inOwnTx(ctx, func(tx *sql.Tx) ([]ds.Key, error) {
		return nil, deleteEntities(ctx, tx, keys)
	})
	metrics.ObserveOp("delete", start, err)
	return err
}

func (s *Store) inOwnTx(ctx context.Context, f func(tx *sql.Tx) ([]ds.Key, error)) ([]ds.Key, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	out, err := f(tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// entityPtr returns a pointer to the i-th entity of the batch slice so it
// can be populated in place.
func entityPtr(v reflect.Value) (interface{}, error) {
	if v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Ptr:
		return v.Interface(), nil
	case reflect.Struct:
		if !v.CanAddr() {
			return nil, errors.New("dslite: entity slice element not addressable")
		}
		return v.Addr().Interface(), nil
	default:
		return nil, fmt.Errorf("dslite: entity element kind %s not supported", v.Kind())
	}
}

func getEntities(ctx context.Context, r runner, keys []ds.Key, entities interface{}) error {
	values := reflect.ValueOf(entities)
	if err := ds.CheckKeysValues(keys, values); err != nil {
		return err
	}

	merr := make(ds.MultiError, len(keys))
	failed := false
	for i, key := range keys {
		if err := key.Validate(); err != nil {
			return err
		}
		if key.Incomplete() {
			return fmt.Errorf("%w: cannot get incomplete key %v", ds.ErrInvalid, key)
		}

		pl, found, err := getOne(ctx, r, key)
		if err != nil {
			return err
		}
		if !found {
			merr[i] = ds.ErrNoEntity
			failed = true
			continue
		}

		dst, err := entityPtr(values.Index(i))
		if err != nil {
			return err
		}
		if err := ds.PopulateStruct(dst, pl); err != nil {
			return err
		}
	}

	if failed {
		return merr
	}
	return nil
}

func getOne(ctx context.Context, r runner, key ds.Key) (ds.PropertyList, bool, error) {
	schema, err := tableSchema(ctx, r, key.Kind)
	if err != nil {
		return nil, false, err
	}
	if schema == nil {
		return nil, false, nil
	}

	query, arg := pkCondition(key)
	rows, err := r.QueryContext(ctx, "SELECT * FROM "+key.Kind+" WHERE "+query, arg)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, false, rows.Err()
	}

	pl, _, err := scanRow(rows)
	if err != nil {
		return nil, false, err
	}
	return pl, true, nil
}

// pkCondition returns the WHERE fragment and bound value selecting a key's
// row.
func pkCondition(key ds.Key) (string, interface{}) {
	if key.Name != "" {
		return pkStringColumn + " = ?", key.Name
	}
	return pkIntColumn + " = ?", key.ID
}

// scanRow converts the current row into a property list plus the key parts
// found in the metadata columns.
func scanRow(rows *sql.Rows) (ds.PropertyList, ds.Key, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, ds.Key{}, err
	}

	raw := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, ds.Key{}, err
	}

	var key ds.Key
	pl := ds.PropertyList{}
	for i, name := range cols {
		switch name {
		case pkIntColumn:
			if v, ok := raw[i].(int64); ok {
				key.ID = v
			}
			continue
		case pkStringColumn:
			switch v := raw[i].(type) {
			case string:
				key.Name = v
			case []byte:
				key.Name = string(v)
			}
			continue
		}

		p, ok, err := propertyFromColumn(name, raw[i])
		if err != nil {
			return nil, ds.Key{}, err
		}
		if ok {
			pl = append(pl, p)
		}
	}
	// A row addressed by name keeps its rowid in pk_int; the name wins.
	if key.Name != "" {
		key.ID = 0
	}
	return pl, key, nil
}

func putEntities(ctx context.Context, r runner, keys []ds.Key, entities interface{}) ([]ds.Key, error) {
	values := reflect.ValueOf(entities)
	if err := ds.CheckKeysValues(keys, values); err != nil {
		return nil, err
	}

	completed := make([]ds.Key, len(keys))
	for i, key := range keys {
		src, err := entityPtr(values.Index(i))
		if err != nil {
			return nil, err
		}
		pl, err := ds.ToPropertyList(src)
		if err != nil {
			return nil, err
		}
		completed[i], err = putOneList(ctx, r, key, pl)
		if err != nil {
			return nil, err
		}
	}
	return completed, nil
}

// putOneList writes one property list under key, migrating the kind's table
// first and completing an incomplete key from the inserted rowid.
func putOneList(ctx context.Context, r runner, key ds.Key, pl ds.PropertyList) (ds.Key, error) {
	if err := key.Validate(); err != nil {
		return ds.Key{}, err
	}

	cols, err := columnsForProperties(pl)
	if err != nil {
		return ds.Key{}, err
	}
	if err := ensureSchema(ctx, r, key.Kind, cols); err != nil {
		return ds.Key{}, err
	}

	// Rewrites replace the whole row: stale columns from a previous
	// shape of the entity must not survive.
	if !key.Incomplete() {
		cond, arg := pkCondition(key)
		if _, err := r.ExecContext(ctx, "DELETE FROM "+key.Kind+" WHERE "+cond, arg); err != nil {
			return ds.Key{}, err
		}
		if key.Name != "" {
			cols = append(cols, column{name: pkStringColumn, value: key.Name})
		} else {
			cols = append(cols, column{name: pkIntColumn, value: key.ID})
		}
	}

	res, err := insertRow(ctx, r, key.Kind, cols)
	if err != nil {
		return ds.Key{}, err
	}

	if key.Incomplete() {
		id, err := res.LastInsertId()
		if err != nil {
			return ds.Key{}, err
		}
		key.ID = id
	}
	return key, nil
}

func insertRow(ctx context.Context, r runner, kind string, cols []column) (sql.Result, error) {
	if len(cols) == 0 {
		// An entity with no properties still needs a row.
		return r.ExecContext(ctx, "INSERT INTO "+kind+" ("+pkStringColumn+") VALUES (NULL)")
	}

	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, c := range cols {
		names[i] = c.name
		marks[i] = "?"
		args[i] = c.value
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		kind, strings.Join(names, ","), strings.Join(marks, ","))
	return r.ExecContext(ctx, stmt, args...)
}

func deleteEntities(ctx context.Context, r runner, keys []ds.Key) error {
	for _, key := range keys {
		if err := key.Validate(); err != nil {
			return err
		}
		if key.Incomplete() {
			return fmt.Errorf("%w: cannot delete incomplete key %v", ds.ErrInvalid, key)
		}

		schema, err := tableSchema(ctx, r, key.Kind)
		if err != nil {
			return err
		}
		if schema == nil {
			continue
		}

		cond, arg := pkCondition(key)
		if _, err := r.ExecContext(ctx, "DELETE FROM "+key.Kind+" WHERE "+cond, arg); err != nil {
			return err
		}
	}
	return nil
}
