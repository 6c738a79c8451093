package sqldoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/roach88/uow/internal/docstore"
)

var errNoCurrent = errors.New("sqldoc: cursor has no current document")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type session struct {
	store *Store
	opts  docstore.SessionOptions
	tx    *sql.Tx
	ended bool
}

func (s *session) StartTransaction(ctx context.Context) error {
	if s.ended {
		return docstore.ErrSessionEnded
	}
	if s.tx != nil {
		return docstore.ErrTransactionInProgress
	}
	tx, err := s.store.db.BeginTx(ctx, s.store.dialect.txOptions(s.opts))
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	for _, stmt := range s.store.dialect.beginStatements(s.opts) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("begin tx: %w", err)
		}
	}
	s.tx = tx
	return nil
}

func (s *session) CommitTransaction(context.Context) error {
	if s.ended {
		return docstore.ErrSessionEnded
	}
	if s.tx == nil {
		return docstore.ErrNoTransaction
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *session) AbortTransaction(context.Context) error {
	if s.ended {
		return docstore.ErrSessionEnded
	}
	if s.tx == nil {
		return docstore.ErrNoTransaction
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (s *session) InTransaction() bool { return s.tx != nil }

func (s *session) Options() docstore.SessionOptions { return s.opts }

func (s *session) Collection(name string) docstore.Collection {
	return &collection{session: s, name: name}
}

func (s *session) EndSession(ctx context.Context) {
	if s.tx != nil {
		_ = s.AbortTransaction(ctx)
	}
	s.ended = true
}

func (s *session) querier() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.store.db
}

type collection struct {
	session *session
	name    string
}

func (c *collection) Name() string { return c.name }

// BulkUpsert writes every document with INSERT ... ON CONFLICT DO UPDATE.
// Outside a session transaction the batch runs in its own transaction.
func (c *collection) BulkUpsert(ctx context.Context, docs []docstore.Document) error {
	if c.session.ended {
		return docstore.ErrSessionEnded
	}
	if err := docstore.ValidateCollectionName(c.name); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	if err := docstore.ValidateDocuments(c.name, docs); err != nil {
		return err
	}

	st := c.session.store
	if c.session.tx != nil {
		return c.upsert(ctx, c.session.tx, docs, true)
	}

	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bulk upsert %s: begin tx: %w", c.name, err)
	}
	defer tx.Rollback() // No-op if committed

	if err := c.upsert(ctx, tx, docs, false); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("bulk upsert %s: commit: %w", c.name, err)
	}
	return nil
}

func (c *collection) upsert(ctx context.Context, tx *sql.Tx, docs []docstore.Document, sessionTx bool) error {
	st := c.session.store
	if err := st.ensureTable(ctx, tx, c.name, sessionTx); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, st.dialect.upsert(c.name))
	if err != nil {
		return fmt.Errorf("bulk upsert %s: prepare: %w", c.name, err)
	}
	defer stmt.Close()

	for _, d := range docs {
		raw, err := json.Marshal(d.Value)
		if err != nil {
			return fmt.Errorf("bulk upsert %s/%s: encode: %w", c.name, d.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, d.ID, string(raw)); err != nil {
			return fmt.Errorf("bulk upsert %s/%s: %w", c.name, d.ID, err)
		}
	}
	return nil
}

func (c *collection) Count(ctx context.Context, q docstore.Query) (int64, error) {
	if c.session.ended {
		return 0, docstore.ErrSessionEnded
	}
	st := c.session.store
	qr := c.session.querier()
	if err := st.ensureTable(ctx, qr, c.name, c.session.tx != nil); err != nil {
		return 0, err
	}
	where, args, err := st.dialect.where(q.Where, 1)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := qr.QueryRowContext(ctx, `SELECT COUNT(*) FROM "`+c.name+`"`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", c.name, err)
	}
	return n, nil
}

// Find reads all matching rows before returning so the pooled connection is
// released immediately.
func (c *collection) Find(ctx context.Context, q docstore.Query) (docstore.Cursor, error) {
	if c.session.ended {
		return nil, docstore.ErrSessionEnded
	}
	st := c.session.store
	qr := c.session.querier()
	if err := st.ensureTable(ctx, qr, c.name, c.session.tx != nil); err != nil {
		return nil, err
	}
	query, args, err := c.selectSQL(q)
	if err != nil {
		return nil, err
	}

	rows, err := qr.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", c.name, err)
	}
	defer rows.Close()

	var docs []string
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("find %s: scan: %w", c.name, err)
		}
		docs = append(docs, body)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find %s: %w", c.name, err)
	}
	return &cursor{docs: docs, pos: -1}, nil
}

func (c *collection) selectSQL(q docstore.Query) (string, []any, error) {
	d := c.session.store.dialect
	where, args, err := d.where(q.Where, 1)
	if err != nil {
		return "", nil, err
	}
	order, err := d.orderBy(q.Sort)
	if err != nil {
		return "", nil, err
	}
	query := `SELECT doc FROM "` + c.name + `"` + where + order
	if q.Limit > 0 {
		query += " LIMIT " + strconv.FormatInt(q.Limit, 10)
	}
	return query, args, nil
}

type cursor struct {
	docs []string
	pos  int
	err  error
}

func (c *cursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	c.pos++
	return c.pos < len(c.docs)
}

func (c *cursor) Decode(v any) error {
	if c.pos < 0 || c.pos >= len(c.docs) {
		return errNoCurrent
	}
	return json.Unmarshal([]byte(c.docs[c.pos]), v)
}

func (c *cursor) Err() error { return c.err }

func (c *cursor) Close(context.Context) error {
	c.docs = nil
	return nil
}
