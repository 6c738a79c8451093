// Package docstore defines the contract the unit of work expects from the
// underlying document store.
//
// A store keeps one collection per concrete entity type. Each document has an
// opaque string ID and a body that the backend serializes in its native
// format (JSON text for SQLite, JSONB for Postgres, BSON for MongoDB).
//
// Sessions are the unit of isolation. Collections obtained from a session
// participate in that session's transaction while one is open; otherwise
// every write is applied immediately.
//
// Implementations:
//   - memory: in-process store used by tests and the scenario harness
//   - sqldoc: database/sql document tables (sqlite3, pgx)
//   - mongostore: MongoDB via the official driver
package docstore

import (
	"context"
	"time"
)

// Document is a single record handed to BulkUpsert.
// Value is the entity itself; the backend owns serialization.
type Document struct {
	ID    string
	Value any
}

// SortField orders query results by a document field.
type SortField struct {
	Field      string
	Descending bool
}

// Query describes a restricted read: equality on top-level fields, ordering
// and a result limit. Translation of richer query languages is out of scope.
type Query struct {
	// Where holds equality conditions keyed by serialized field name.
	// All conditions must match.
	Where map[string]any

	// Sort is applied in order. Ties fall back to document ID ascending.
	Sort []SortField

	// Limit caps the number of results. Zero means unlimited.
	Limit int64
}

// SessionOptions configures a session and the transactions it starts.
type SessionOptions struct {
	// Majority requests majority read and write concern (MongoDB) or the
	// strictest isolation the backend offers (serializable on Postgres).
	Majority bool

	// MaxCommitTime bounds how long a commit may run. Zero uses the
	// backend default.
	MaxCommitTime time.Duration
}

// Store opens sessions against a document database.
type Store interface {
	// StartSession opens a session. The session does not start a
	// transaction until StartTransaction is called.
	StartSession(ctx context.Context, opts SessionOptions) (Session, error)

	// Close releases the connection pool.
	Close(ctx context.Context) error
}

// Session is a logical connection with optional transaction state.
// A session is owned by a single caller and is not safe for concurrent
// transaction control.
type Session interface {
	// StartTransaction begins a transaction. Returns ErrTransactionInProgress
	// if one is already open.
	StartTransaction(ctx context.Context) error

	// CommitTransaction makes all writes since StartTransaction durable.
	// Returns ErrNoTransaction if none is open.
	CommitTransaction(ctx context.Context) error

	// AbortTransaction discards all writes since StartTransaction.
	// Returns ErrNoTransaction if none is open.
	AbortTransaction(ctx context.Context) error

	// InTransaction reports whether a transaction is open.
	InTransaction() bool

	// Options returns the options the session was started with.
	Options() SessionOptions

	// Collection returns a handle bound to this session.
	Collection(name string) Collection

	// EndSession aborts any open transaction and releases the session.
	EndSession(ctx context.Context)
}

// Collection is a handle to one physical collection.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// BulkUpsert inserts or replaces every document by ID in one batched
	// operation. The write is atomic per collection; there is no atomicity
	// across collections unless the session holds a transaction.
	BulkUpsert(ctx context.Context, docs []Document) error

	// Count returns the number of documents matching q. Sort and Limit
	// are ignored.
	Count(ctx context.Context, q Query) (int64, error)

	// Find opens a cursor over documents matching q.
	Find(ctx context.Context, q Query) (Cursor, error)
}

// Cursor iterates query results. Callers must Close it.
type Cursor interface {
	Next(ctx context.Context) bool
	Decode(v any) error
	Err() error
	Close(ctx context.Context) error
}
