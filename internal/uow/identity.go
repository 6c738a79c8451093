package uow

import (
	"reflect"
)

// bucket holds the tracked instances of one root type.
type bucket struct {
	entries map[string]Entity
}

type identityKey struct {
	root reflect.Type
	id   string
}

// identityMap maps (root type, id) to the single tracked instance. order
// is one attach sequence across all roots so commits write documents
// deterministically.
type identityMap struct {
	buckets map[reflect.Type]*bucket
	order   []identityKey
}

func newIdentityMap() *identityMap {
	return &identityMap{buckets: make(map[reflect.Type]*bucket)}
}

func (m *identityMap) get(root reflect.Type, id string) (Entity, bool) {
	b, ok := m.buckets[root]
	if !ok {
		return nil, false
	}
	e, ok := b.entries[id]
	return e, ok
}

func (m *identityMap) put(root reflect.Type, id string, e Entity) {
	b, ok := m.buckets[root]
	if !ok {
		b = &bucket{entries: make(map[string]Entity)}
		m.buckets[root] = b
	}
	if _, exists := b.entries[id]; !exists {
		m.order = append(m.order, identityKey{root: root, id: id})
	}
	b.entries[id] = e
}

func (m *identityMap) count(root reflect.Type) int {
	if b, ok := m.buckets[root]; ok {
		return len(b.entries)
	}
	return 0
}

func (m *identityMap) len() int {
	n := 0
	for _, b := range m.buckets {
		n += len(b.entries)
	}
	return n
}

// each visits tracked entities in attach order.
func (m *identityMap) each(fn func(root reflect.Type, id string, e Entity)) {
	for _, k := range m.order {
		fn(k.root, k.id, m.buckets[k.root].entries[k.id])
	}
}

func (m *identityMap) clear() {
	m.buckets = make(map[reflect.Type]*bucket)
	m.order = nil
}

// snapshotStore holds deep copies of pre-existing entities as attached.
type snapshotStore struct {
	byRoot map[reflect.Type]map[string]Entity
}

func newSnapshotStore() *snapshotStore {
	return &snapshotStore{byRoot: make(map[reflect.Type]map[string]Entity)}
}

func (s *snapshotStore) get(root reflect.Type, id string) (Entity, bool) {
	e, ok := s.byRoot[root][id]
	return e, ok
}

func (s *snapshotStore) put(root reflect.Type, id string, e Entity) {
	m, ok := s.byRoot[root]
	if !ok {
		m = make(map[string]Entity)
		s.byRoot[root] = m
	}
	m[id] = e
}

func (s *snapshotStore) len() int {
	n := 0
	for _, m := range s.byRoot {
		n += len(m)
	}
	return n
}

func (s *snapshotStore) clear() {
	s.byRoot = make(map[reflect.Type]map[string]Entity)
}
