package sqliteds

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dslite-io/dslite/internal/ds"
	"github.com/dslite-io/dslite/internal/log"
	"github.com/dslite-io/dslite/internal/metrics"
)

// maxQueryResults caps the rows materialized by a single query run.
const maxQueryResults = 1000

// QueryResult pairs an entity's key with its stored properties.
type QueryResult struct {
	Key        ds.Key
	Properties ds.PropertyList
}

// Run executes a query and returns an iterator over the results.
func (s *Store) Run(ctx context.Context, q ds.Query) (ds.Iterator, error) {
	start := time.Now()
	results, err := runQuery(ctx, s.db, q)
	metrics.ObserveOp("run_query", start, err)
	if err != nil {
		return nil, err
	}
	return &iterator{results: results, keysOnly: q.KeysOnly}, nil
}

// RunQuery executes a query and parks the results under a numeric cursor
// for batched retrieval with Next. It reports whether any results exist.
func (s *Store) RunQuery(ctx context.Context, q ds.Query) (int64, bool, error) {
	return s.RunQueryIn(ctx, 0, q)
}

// RunQueryIn is RunQuery bound to an open transaction handle; handle 0
// runs against the plain database.
func (s *Store) RunQueryIn(ctx context.Context, handle int64, q ds.Query) (int64, bool, error) {
	r, err := s.handleRunner(handle)
	if err != nil {
		return 0, false, err
	}

	start := time.Now()
	results, err := runQuery(ctx, r, q)
	metrics.ObserveOp("run_query", start, err)
	if err != nil {
		return 0, false, err
	}

	s.cursorMu.Lock()
	s.nextCursor++
	cursor := s.nextCursor
	s.cursors[cursor] = results
	s.cursorMu.Unlock()
	metrics.OpenCursors.Inc()

	s.log.Debug().
		Str(log.FieldKind, q.Kind).
		Int64(log.FieldCursor, cursor).
		Int(log.FieldCount, len(results)).
		Msg("query materialized")
	return cursor, len(results) > 0, nil
}

// Next drains up to count results from an open cursor. The cursor is
// released once it is exhausted.
func (s *Store) Next(cursor int64, count int) ([]QueryResult, bool, error) {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()

	results, ok := s.cursors[cursor]
	if !ok {
		return nil, false, fmt.Errorf("%w: %d", ErrUnknownCursor, cursor)
	}

	if count < 0 {
		count = 0
	}
	if count > len(results) {
		count = len(results)
	}
	batch := results[:count]
	rest := results[count:]

	if len(rest) == 0 {
		delete(s.cursors, cursor)
		metrics.OpenCursors.Dec()
		return batch, false, nil
	}
	s.cursors[cursor] = rest
	return batch, true, nil
}

// runQuery translates a query into SQL and materializes the matching rows.
func runQuery(ctx context.Context, r runner, q ds.Query) ([]QueryResult, error) {
	if err := validIdent(q.Kind); err != nil {
		return nil, err
	}

	schema, err := tableSchema(ctx, r, q.Kind)
	if err != nil {
		return nil, err
	}
	if schema == nil {
		// Kind has never been written.
		return nil, nil
	}

	var (
		conds []string
		args  []interface{}
	)
	for _, f := range q.Filters {
		if err := validIdent(f.Name); err != nil {
			return nil, err
		}

		if f.Op == ds.ExistsOp {
			columns := schema[f.Name]
			if len(columns) == 0 {
				return nil, nil
			}
			parts := make([]string, len(columns))
			for i, c := range columns {
				parts[i] = c + " IS NOT NULL"
			}
			conds = append(conds, "("+strings.Join(parts, " OR ")+")")
			continue
		}

		op, err := sqlOperator(f.Op)
		if err != nil {
			return nil, err
		}
		col, err := columnForProperty(ds.Property{Name: f.Name, Value: f.Value})
		if err != nil {
			return nil, err
		}
		// Filtering on a column the kind has never stored matches nothing.
		if !containsColumn(schema[f.Name], col.name) {
			return nil, nil
		}
		conds = append(conds, col.name+" "+op+" ?")
		args = append(args, col.value)
	}

	query := "SELECT * FROM " + q.Kind
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	var orders []string
	for _, o := range q.Orders {
		if err := validIdent(o.Name); err != nil {
			return nil, err
		}
		dir, err := sqlDirection(o.Dir)
		if err != nil {
			return nil, err
		}
		// Properties the kind has never stored do not influence the order.
		for _, c := range schema[o.Name] {
			orders = append(orders, c+" "+dir)
		}
	}
	if len(orders) > 0 {
		query += " ORDER BY " + strings.Join(orders, ", ")
	}

	limit := q.Limit
	if limit <= 0 || limit > maxQueryResults {
		limit = maxQueryResults
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []QueryResult
	for rows.Next() {
		pl, key, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		key.Kind = q.Kind
		results = append(results, QueryResult{Key: key, Properties: pl})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func sqlOperator(op ds.FilterOp) (string, error) {
	switch op {
	case ds.LessThanOp, ds.LessThanEqualOp, ds.EqualOp,
		ds.GreaterThanEqualOp, ds.GreaterThanOp:
		return string(op), nil
	default:
		return "", fmt.Errorf("%w: unsupported filter operator %q", ds.ErrInvalid, op)
	}
}

func sqlDirection(dir ds.OrderDir) (string, error) {
	switch dir {
	case ds.AscDir, "":
		return "ASC", nil
	case ds.DescDir:
		return "DESC", nil
	default:
		return "", fmt.Errorf("%w: unsupported order direction %q", ds.ErrInvalid, dir)
	}
}

func containsColumn(columns []string, name string) bool {
	for _, c := range columns {
		if c == name {
			return true
		}
	}
	return false
}

type iterator struct {
	results  []QueryResult
	keysOnly bool
	index    int
}

// Next returns the next key and, unless the query was keys-only or entity
// is nil, populates entity with the stored properties. done is true once
// the result set is exhausted.
func (it *iterator) Next(entity interface{}) (ds.Key, bool, error) {
	if it.index >= len(it.results) {
		return ds.Key{}, true, nil
	}

	result := it.results[it.index]
	it.index++

	if it.keysOnly || entity == nil {
		return result.Key, false, nil
	}
	if err := ds.PopulateStruct(entity, result.Properties); err != nil {
		return ds.Key{}, false, err
	}
	return result.Key, false, nil
}
