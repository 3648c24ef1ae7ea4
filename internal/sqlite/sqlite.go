// Package sqlite owns the database/sql connection conventions for dslite:
// DSN pragmas, pool limits and integrity verification.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

// MemoryPath selects an in-memory database when used as the database path.
const MemoryPath = ":memory:"

// Config defines standard SQLite operational parameters.
type Config struct {
	BusyTimeout  time.Duration
	MaxOpenConns int
}

// DefaultConfig returns the recommended configuration.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 25, // database/sql will manage the pool
	}
}

// Open initializes a SQLite connection pool with the mandatory PRAGMAs.
// File-backed databases run in WAL mode; in-memory databases are pinned to
// a single connection so every statement observes the same database.
func Open(dbPath string, cfg Config) (*sql.DB, error) {
	memory := dbPath == "" || dbPath == MemoryPath

	// Pragmas go into the DSN so they apply to every connection in the pool.
	var dsn string
	if memory {
		dsn = fmt.Sprintf("file::memory:?_pragma=busy_timeout(%d)",
			cfg.BusyTimeout.Milliseconds())
	} else {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
			dbPath, cfg.BusyTimeout.Milliseconds())
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}

	if memory {
		// A second connection would see its own empty database. The price
		// is that an open *sql.Tx holds the only connection and blocks all
		// other statements until it resolves; callers keeping long-lived
		// transaction handles must bound their lifetime.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
		db.SetConnMaxLifetime(1 * time.Hour)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	return db, nil
}
