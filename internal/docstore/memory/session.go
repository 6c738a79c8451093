package memory

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/roach88/uow/internal/docstore"
)

var errNoCurrent = errors.New("memory store: cursor has no current document")

type pendingWrite struct {
	collection string
	docs       []encodedDocument
}

type session struct {
	store   *Store
	opts    docstore.SessionOptions
	inTx    bool
	pending []pendingWrite
	ended   bool
}

func (s *session) StartTransaction(ctx context.Context) error {
	if s.ended {
		return docstore.ErrSessionEnded
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.inTx {
		return docstore.ErrTransactionInProgress
	}
	s.inTx = true
	s.pending = nil
	return nil
}

func (s *session) CommitTransaction(ctx context.Context) error {
	if s.ended {
		return docstore.ErrSessionEnded
	}
	if !s.inTx {
		return docstore.ErrNoTransaction
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.store.mu.Lock()
	for _, w := range s.pending {
		s.store.apply(w.collection, w.docs)
		s.store.journal = append(s.store.journal, Write{
			Collection:    w.collection,
			IDs:           ids(w.docs),
			Transactional: true,
		})
	}
	s.store.mu.Unlock()
	s.inTx = false
	s.pending = nil
	return nil
}

func (s *session) AbortTransaction(context.Context) error {
	if s.ended {
		return docstore.ErrSessionEnded
	}
	if !s.inTx {
		return docstore.ErrNoTransaction
	}
	s.inTx = false
	s.pending = nil
	return nil
}

func (s *session) InTransaction() bool { return s.inTx }

func (s *session) Options() docstore.SessionOptions { return s.opts }

func (s *session) Collection(name string) docstore.Collection {
	return &memCollection{session: s, name: name}
}

func (s *session) EndSession(context.Context) {
	s.inTx = false
	s.pending = nil
	s.ended = true
}

// view returns the collection as this session sees it: committed state
// overlaid with pending transactional writes.
func (s *session) view(name string) []encodedDocument {
	s.store.mu.RLock()
	base := s.store.snapshot(name)
	s.store.mu.RUnlock()
	if !s.inTx {
		return base
	}
	index := make(map[string]int, len(base))
	for i, d := range base {
		index[d.id] = i
	}
	for _, w := range s.pending {
		if w.collection != name {
			continue
		}
		for _, d := range w.docs {
			if i, ok := index[d.id]; ok {
				base[i] = d
				continue
			}
			index[d.id] = len(base)
			base = append(base, d)
		}
	}
	return base
}

type memCollection struct {
	session *session
	name    string
}

func (c *memCollection) Name() string { return c.name }

func (c *memCollection) BulkUpsert(ctx context.Context, docs []docstore.Document) error {
	if c.session.ended {
		return docstore.ErrSessionEnded
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := docstore.ValidateCollectionName(c.name); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	encoded, err := encodeDocuments(c.name, docs)
	if err != nil {
		return err
	}
	if err := c.session.store.takeFault(c.name); err != nil {
		return err
	}
	if c.session.inTx {
		c.session.pending = append(c.session.pending, pendingWrite{collection: c.name, docs: encoded})
		return nil
	}
	st := c.session.store
	st.mu.Lock()
	defer st.mu.Unlock()
	st.apply(c.name, encoded)
	st.journal = append(st.journal, Write{Collection: c.name, IDs: ids(encoded)})
	return nil
}

func (c *memCollection) Count(ctx context.Context, q docstore.Query) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	matched, err := c.matching(docstore.Query{Where: q.Where})
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

func (c *memCollection) Find(ctx context.Context, q docstore.Query) (docstore.Cursor, error) {
	if c.session.ended {
		return nil, docstore.ErrSessionEnded
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matched, err := c.matching(q)
	if err != nil {
		return nil, err
	}
	return &cursor{docs: matched, pos: -1}, nil
}

func (c *memCollection) matching(q docstore.Query) ([]encodedDocument, error) {
	docs := c.session.view(c.name)
	where, err := normalizeWhere(q.Where)
	if err != nil {
		return nil, err
	}
	type row struct {
		doc    encodedDocument
		fields map[string]any
	}
	rows := make([]row, 0, len(docs))
	for _, d := range docs {
		var fields map[string]any
		if err := json.Unmarshal(d.raw, &fields); err != nil {
			return nil, err
		}
		if !matches(fields, where) {
			continue
		}
		rows = append(rows, row{doc: d, fields: fields})
	}
	if len(q.Sort) > 0 {
		sortRows(rows, func(r row) map[string]any { return r.fields }, func(r row) string { return r.doc.id }, q.Sort)
	}
	if q.Limit > 0 && int64(len(rows)) > q.Limit {
		rows = rows[:q.Limit]
	}
	out := make([]encodedDocument, len(rows))
	for i, r := range rows {
		out[i] = r.doc
	}
	return out, nil
}

type cursor struct {
	docs []encodedDocument
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
	return json.Unmarshal(c.docs[c.pos].raw, v)
}

func (c *cursor) Err() error { return c.err }

func (c *cursor) Close(context.Context) error {
	c.docs = nil
	return nil
}
