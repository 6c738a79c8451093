package uow

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"
)

var entityType = reflect.TypeFor[Entity]()

// TypeRegistry maps entity types onto root types. All members of a root
// share one identity map bucket. It is built once at startup and may be
// shared by many Contexts.
//
// An unregistered entity type is its own root.
type TypeRegistry struct {
	mu          sync.RWMutex
	roots       map[reflect.Type]reflect.Type
	members     map[reflect.Type][]reflect.Type
	collections map[reflect.Type]string
}

// NewTypeRegistry creates an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		roots:       make(map[reflect.Type]reflect.Type),
		members:     make(map[reflect.Type][]reflect.Type),
		collections: make(map[reflect.Type]string),
	}
}

// RegisterRoot declares R as the root of the given member entity types.
// R is usually an interface the members implement; it may also be a single
// concrete entity type. Members are passed as typed nil pointers:
//
//	uow.RegisterRoot[Animal](types, (*Dog)(nil), (*Cat)(nil))
func RegisterRoot[R any](tr *TypeRegistry, members ...Entity) error {
	root := reflect.TypeFor[R]()
	if len(members) == 0 {
		return fmt.Errorf("uow: root %s has no members", root)
	}
	types := make([]reflect.Type, 0, len(members))
	for _, m := range members {
		t, err := checkEntityType(reflect.TypeOf(m))
		if err != nil {
			return err
		}
		if !t.AssignableTo(root) {
			return fmt.Errorf("uow: %s is not assignable to root %s", t, root)
		}
		types = append(types, t)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	for _, t := range types {
		if prev, ok := tr.roots[t]; ok && prev != root {
			return fmt.Errorf("uow: %s already belongs to root %s", t, prev)
		}
	}
	for _, t := range types {
		if _, ok := tr.roots[t]; !ok {
			tr.members[root] = append(tr.members[root], t)
		}
		tr.roots[t] = root
	}
	return nil
}

// RootOf returns the root type of t.
func (tr *TypeRegistry) RootOf(t reflect.Type) reflect.Type {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	if root, ok := tr.roots[t]; ok {
		return root
	}
	return t
}

// MembersOf returns the concrete entity types stored under root. A
// concrete, unregistered entity type is the only member of itself.
func (tr *TypeRegistry) MembersOf(root reflect.Type) ([]reflect.Type, error) {
	tr.mu.RLock()
	members, ok := tr.members[root]
	tr.mu.RUnlock()
	if ok {
		return append([]reflect.Type(nil), members...), nil
	}
	t, err := checkEntityType(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoot, root)
	}
	return []reflect.Type{t}, nil
}

// CollectionName returns the collection that stores entities of type t:
// CollectionName() when t implements CollectionNamer, otherwise the snake
// case of the struct name.
func (tr *TypeRegistry) CollectionName(t reflect.Type) string {
	tr.mu.RLock()
	name, ok := tr.collections[t]
	tr.mu.RUnlock()
	if ok {
		return name
	}

	name = collectionName(t)
	tr.mu.Lock()
	tr.collections[t] = name
	tr.mu.Unlock()
	return name
}

func collectionName(t reflect.Type) string {
	if t.Implements(reflect.TypeFor[CollectionNamer]()) && t.Kind() == reflect.Pointer {
		return reflect.New(t.Elem()).Interface().(CollectionNamer).CollectionName()
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return snakeCase(t.Name())
}

func checkEntityType(t reflect.Type) (reflect.Type, error) {
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct || !t.Implements(entityType) {
		return nil, fmt.Errorf("uow: %v is not a pointer to a struct embedding uow.Base", t)
	}
	return t, nil
}

// snakeCase converts Go identifiers: TenantUser -> tenant_user,
// HTTPServer -> http_server.
func snakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
