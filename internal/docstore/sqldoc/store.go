// Package sqldoc stores documents in relational tables through database/sql.
//
// Every collection is a table with two columns: the document ID and the
// serialized body. SQLite keeps the body as JSON text and queries it with
// json_extract; Postgres keeps it as JSONB and queries it with containment.
//
// Tables are created on first use. Writes outside a session transaction run
// in a short local transaction so a bulk upsert is atomic per collection.
package sqldoc

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/uow/internal/docstore"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

var _ docstore.Store = (*Store)(nil)

// Store is a docstore.Store over a database/sql pool.
type Store struct {
	db      *sql.DB
	dialect dialect

	mu      sync.Mutex
	ensured map[string]bool
}

// Open connects to a database with the given driver ("sqlite3" or "pgx").
//
// SQLite databases are configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - a single connection, since SQLite allows one writer
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	return &Store{db: db, dialect: d, ensured: make(map[string]bool)}, nil
}

// OpenSQLite opens or creates a SQLite database file.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	return Open(ctx, DriverSQLite, path)
}

// StartSession opens a session. No connection is held until a transaction
// starts.
func (s *Store) StartSession(ctx context.Context, opts docstore.SessionOptions) (docstore.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &session{store: s, opts: opts}, nil
}

// Close closes the connection pool.
func (s *Store) Close(context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying pool for direct queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ensureTable creates the collection table if needed. Creation inside a
// transaction is not remembered because an abort would undo it.
func (s *Store) ensureTable(ctx context.Context, q querier, name string, inTx bool) error {
	if err := docstore.ValidateCollectionName(name); err != nil {
		return err
	}
	s.mu.Lock()
	done := s.ensured[name]
	s.mu.Unlock()
	if done {
		return nil
	}
	if _, err := q.ExecContext(ctx, s.dialect.createTable(name)); err != nil {
		return fmt.Errorf("create table %s: %w", name, err)
	}
	if !inTx {
		s.mu.Lock()
		s.ensured[name] = true
		s.mu.Unlock()
	}
	return nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
