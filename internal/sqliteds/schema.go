package sqliteds

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dslite-io/dslite/internal/ds"
	"github.com/dslite-io/dslite/internal/metrics"
)

// Metadata columns present on every kind table. pk_int doubles as the
// SQLite rowid, which is what completes incomplete keys.
const (
	pkIntColumn    = "pk_int"
	pkStringColumn = "pk_string"
)

// Column name prefixes encode the property type, so a property can occupy
// differently typed columns over its lifetime without schema conflicts.
const (
	prefixInt64  = "int64"
	prefixString = "string"
	prefixBool   = "boolean"
	prefixDouble = "double"
	prefixBlob   = "blob"
	prefixTime   = "time"
)

// runner is the subset of database/sql shared by *sql.DB and *sql.Tx.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validIdent guards every identifier that is interpolated into SQL text.
// Values are always bound parameters; kind and property names cannot be.
func validIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%w: invalid identifier %q", ds.ErrInvalid, name)
	}
	return nil
}

// column is a property value mapped onto its SQL column.
type column struct {
	name    string
	sqlType string
	value   interface{}
}

// columnForProperty maps a property to the prefixed column that stores it.
func columnForProperty(p ds.Property) (column, error) {
	if err := validIdent(p.Name); err != nil {
		return column{}, err
	}
	switch v := p.Value.(type) {
	case int64:
		return column{prefixInt64 + "_" + p.Name, "INTEGER", v}, nil
	case string:
		return column{prefixString + "_" + p.Name, "TEXT", v}, nil
	case bool:
		n := int64(0)
		if v {
			n = 1
		}
		return column{prefixBool + "_" + p.Name, "INTEGER", n}, nil
	case float64:
		return column{prefixDouble + "_" + p.Name, "DOUBLE", v}, nil
	case []byte:
		return column{prefixBlob + "_" + p.Name, "BLOB", v}, nil
	case time.Time:
		return column{prefixTime + "_" + p.Name, "INTEGER", v.UnixNano()}, nil
	default:
		return column{}, fmt.Errorf("%w: unsupported property value type %T for %s",
			ds.ErrInvalid, p.Value, p.Name)
	}
}

// columnsForProperties maps a full property list onto columns.
func columnsForProperties(pl ds.PropertyList) ([]column, error) {
	cols := make([]column, 0, len(pl))
	for _, p := range pl {
		col, err := columnForProperty(p)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return cols, nil
}

// propertyFromColumn reverses the column mapping for a scanned value.
// It reports ok=false for metadata columns, NULLs and unknown prefixes.
func propertyFromColumn(name string, value interface{}) (ds.Property, bool, error) {
	if value == nil {
		return ds.Property{}, false, nil
	}
	i := strings.Index(name, "_")
	if i < 1 {
		return ds.Property{}, false, nil
	}
	prefix, propName := name[:i], name[i+1:]

	switch prefix {
	case "pk":
		return ds.Property{}, false, nil
	case prefixInt64:
		v, ok := value.(int64)
		if !ok {
			return ds.Property{}, false, typeError(name, value)
		}
		return ds.Property{Name: propName, Value: v}, true, nil
	case prefixString:
		switch v := value.(type) {
		case string:
			return ds.Property{Name: propName, Value: v}, true, nil
		case []byte:
			return ds.Property{Name: propName, Value: string(v)}, true, nil
		}
		return ds.Property{}, false, typeError(name, value)
	case prefixBool:
		v, ok := value.(int64)
		if !ok {
			return ds.Property{}, false, typeError(name, value)
		}
		return ds.Property{Name: propName, Value: v != 0}, true, nil
	case prefixDouble:
		v, ok := value.(float64)
		if !ok {
			return ds.Property{}, false, typeError(name, value)
		}
		return ds.Property{Name: propName, Value: v}, true, nil
	case prefixBlob:
		v, ok := value.([]byte)
		if !ok {
			return ds.Property{}, false, typeError(name, value)
		}
		// Copy: the driver may reuse the scan buffer.
		b := make([]byte, len(v))
		copy(b, v)
		return ds.Property{Name: propName, Value: b}, true, nil
	case prefixTime:
		v, ok := value.(int64)
		if !ok {
			return ds.Property{}, false, typeError(name, value)
		}
		return ds.Property{Name: propName, Value: time.Unix(0, v).UTC()}, true, nil
	default:
		return ds.Property{}, false, nil
	}
}

func typeError(column string, value interface{}) error {
	return fmt.Errorf("dslite: column %s holds unexpected driver type %T", column, value)
}

// tableSchema inspects a kind table and maps each property name to the
// columns that store it. It returns nil if the table does not exist.
func tableSchema(ctx context.Context, r runner, kind string) (map[string][]string, error) {
	if err := validIdent(kind); err != nil {
		return nil, err
	}

	rows, err := r.QueryContext(ctx, `PRAGMA table_info("`+kind+`")`)
	if err != nil {
		return nil, fmt.Errorf("dslite: table_info %s: %w", kind, err)
	}
	defer rows.Close()

	schema := map[string][]string{}
	hasTable := false
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    interface{}
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		hasTable = true

		i := strings.Index(name, "_")
		if i < 1 {
			continue
		}
		if name[:i] == "pk" {
			continue
		}
		prop := name[i+1:]
		schema[prop] = append(schema[prop], name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !hasTable {
		return nil, nil
	}
	return schema, nil
}

// suggestMutations returns the DDL needed so the kind table can hold the
// given columns: a CREATE TABLE for a new kind, ALTER TABLE ADD COLUMN
// statements for new columns, or nothing when the schema already fits.
func suggestMutations(ctx context.Context, r runner, kind string, cols []column) ([]string, error) {
	schema, err := tableSchema(ctx, r, kind)
	if err != nil {
		return nil, err
	}

	existing := map[string]bool{
		pkIntColumn:    true,
		pkStringColumn: true,
	}
	for _, columns := range schema {
		for _, c := range columns {
			existing[c] = true
		}
	}

	var defs []string
	seen := map[string]bool{}
	for _, c := range cols {
		if existing[c.name] || seen[c.name] {
			continue
		}
		seen[c.name] = true
		defs = append(defs, c.name+" "+c.sqlType)
	}

	if schema != nil {
		stmts := make([]string, 0, len(defs))
		for _, def := range defs {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", kind, def))
		}
		return stmts, nil
	}

	defs = append(defs, pkIntColumn+" INTEGER PRIMARY KEY", pkStringColumn+" TEXT")
	return []string{fmt.Sprintf("CREATE TABLE %s (%s)", kind, strings.Join(defs, ","))}, nil
}

// ensureSchema applies any mutations needed for the columns to fit.
func ensureSchema(ctx context.Context, r runner, kind string, cols []column) error {
	stmts, err := suggestMutations(ctx, r, kind, cols)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := r.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("dslite: schema mutation %q: %w", stmt, err)
		}
		metrics.SchemaMutationsTotal.WithLabelValues(kind).Inc()
	}
	return nil
}
