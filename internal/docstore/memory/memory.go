// Package memory provides an in-process implementation of docstore.Store.
//
// Documents are held as JSON bytes so every read decodes a fresh copy and
// callers can never alias stored state. Transactions buffer writes per
// session and apply them atomically on commit under the store lock; reads
// inside a transaction see the session's own pending writes.
//
// The store keeps a journal of committed writes and supports one-shot fault
// injection per collection. Both exist for tests and the scenario harness.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/roach88/uow/internal/docstore"
)

var _ docstore.Store = (*Store)(nil)

// Write is one committed bulk upsert as seen in the journal.
type Write struct {
	Collection    string
	IDs           []string
	Transactional bool
}

type collection struct {
	docs  map[string][]byte
	order []string
}

func newCollection() *collection {
	return &collection{docs: make(map[string][]byte)}
}

func (c *collection) put(id string, raw []byte) {
	if _, ok := c.docs[id]; !ok {
		c.order = append(c.order, id)
	}
	c.docs[id] = raw
}

// Store is a thread-safe in-memory document store.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	journal     []Write
	faults      map[string]error
	sessions    []docstore.SessionOptions
	closed      bool
}

// New creates an empty store.
func New() *Store {
	return &Store{
		collections: make(map[string]*collection),
		faults:      make(map[string]error),
	}
}

// StartSession opens a session. The options are recorded and can be
// inspected with SessionHistory.
func (s *Store) StartSession(ctx context.Context, opts docstore.SessionOptions) (docstore.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("memory store: closed")
	}
	s.sessions = append(s.sessions, opts)
	return &session{store: s, opts: opts}, nil
}

// Close marks the store closed. Further sessions cannot be started.
func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Seed writes documents directly, bypassing sessions and the journal.
// Used to set up pre-existing state.
func (s *Store) Seed(name string, docs ...docstore.Document) error {
	if err := docstore.ValidateCollectionName(name); err != nil {
		return err
	}
	encoded, err := encodeDocuments(name, docs)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(name, encoded)
	return nil
}

// Get decodes the stored document into v. Returns false if absent.
func (s *Store) Get(name, id string, v any) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return false, nil
	}
	raw, ok := c.docs[id]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, v)
}

// Len returns the number of committed documents in a collection.
func (s *Store) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[name]; ok {
		return len(c.docs)
	}
	return 0
}

// Documents decodes every committed document of a collection, in
// insertion order.
func (s *Store) Documents(name string) ([]map[string]any, error) {
	s.mu.RLock()
	docs := s.snapshot(name)
	s.mu.RUnlock()
	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		var m map[string]any
		if err := json.Unmarshal(d.raw, &m); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", name, d.id, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// Journal returns a copy of all committed writes in commit order.
func (s *Store) Journal() []Write {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Write, len(s.journal))
	for i, w := range s.journal {
		out[i] = Write{
			Collection:    w.Collection,
			IDs:           append([]string(nil), w.IDs...),
			Transactional: w.Transactional,
		}
	}
	return out
}

// ResetJournal discards the write journal.
func (s *Store) ResetJournal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = nil
}

// SessionHistory returns the options of every session started so far.
func (s *Store) SessionHistory() []docstore.SessionOptions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]docstore.SessionOptions(nil), s.sessions...)
}

// FailNextUpsert makes the next BulkUpsert against the named collection
// return err without writing anything.
func (s *Store) FailNextUpsert(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[name] = err
}

func (s *Store) takeFault(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err, ok := s.faults[name]
	if !ok {
		return nil
	}
	delete(s.faults, name)
	return err
}

// apply writes encoded documents. Caller holds s.mu.
func (s *Store) apply(name string, docs []encodedDocument) {
	c, ok := s.collections[name]
	if !ok {
		c = newCollection()
		s.collections[name] = c
	}
	for _, d := range docs {
		c.put(d.id, d.raw)
	}
}

// snapshot returns committed documents of a collection in insertion order.
// Caller holds s.mu for reading.
func (s *Store) snapshot(name string) []encodedDocument {
	c, ok := s.collections[name]
	if !ok {
		return nil
	}
	out := make([]encodedDocument, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, encodedDocument{id: id, raw: c.docs[id]})
	}
	return out
}

type encodedDocument struct {
	id  string
	raw []byte
}

func encodeDocuments(name string, docs []docstore.Document) ([]encodedDocument, error) {
	if err := docstore.ValidateDocuments(name, docs); err != nil {
		return nil, err
	}
	out := make([]encodedDocument, 0, len(docs))
	for _, d := range docs {
		raw, err := json.Marshal(d.Value)
		if err != nil {
			return nil, fmt.Errorf("encode %s/%s: %w", name, d.ID, err)
		}
		out = append(out, encodedDocument{id: d.ID, raw: raw})
	}
	return out, nil
}

func ids(docs []encodedDocument) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.id
	}
	return out
}
