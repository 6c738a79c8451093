// Package deepequal compares entity graphs for dirty checking.
//
// Comparison walks exported state only:
//   - unexported fields are skipped, as are fields tagged `compare:"-"`
//   - func, chan and unsafe pointer values never differ
//   - a type with a method Equal(T) bool is compared with that method
//   - nil and empty slices or maps are different (they serialize differently)
//
// A walk that goes deeper than the configured maximum reports a difference,
// so an entity too deep to verify is always written.
package deepequal

import (
	"reflect"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultMaxDepth bounds recursion into nested values.
	DefaultMaxDepth = 32

	// DefaultCacheSize is the number of types whose metadata is cached.
	DefaultCacheSize = 256

	tagName = "compare"
)

// Comparer performs deep comparison with cached per-type metadata.
// It is safe for concurrent use.
type Comparer struct {
	maxDepth int
	types    *lru.Cache[reflect.Type, *typeInfo]
}

// Option configures a Comparer.
type Option func(*Comparer)

// WithMaxDepth sets the recursion limit. Values below 1 are ignored.
func WithMaxDepth(n int) Option {
	return func(c *Comparer) {
		if n > 0 {
			c.maxDepth = n
		}
	}
}

// WithCacheSize sets how many types keep cached metadata.
func WithCacheSize(n int) Option {
	return func(c *Comparer) {
		if n <= 0 {
			return
		}
		if cache, err := lru.New[reflect.Type, *typeInfo](n); err == nil {
			c.types = cache
		}
	}
}

// New creates a Comparer.
func New(opts ...Option) *Comparer {
	cache, _ := lru.New[reflect.Type, *typeInfo](DefaultCacheSize)
	c := &Comparer{maxDepth: DefaultMaxDepth, types: cache}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxDepth returns the configured recursion limit.
func (c *Comparer) MaxDepth() int { return c.maxDepth }

// Equal reports whether a and b hold the same comparable state.
func (c *Comparer) Equal(a, b any) bool {
	_, equal := c.Diff(a, b)
	return equal
}

// Diff is Equal that also returns the path of the first difference found,
// e.g. ".Address.Lines[1]". The path is empty when the values are equal.
func (c *Comparer) Diff(a, b any) (string, bool) {
	w := walker{c: c, visited: make(map[visit]bool)}
	path, equal := w.compare(reflect.ValueOf(a), reflect.ValueOf(b), 0)
	if equal {
		return "", true
	}
	return path, false
}

type fieldInfo struct {
	index int
	name  string
}

type typeInfo struct {
	fields []fieldInfo
	equal  *reflect.Method
}

func (c *Comparer) info(t reflect.Type) *typeInfo {
	if ti, ok := c.types.Get(t); ok {
		return ti
	}
	ti := &typeInfo{equal: equalMethod(t)}
	if t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() || f.Tag.Get(tagName) == "-" {
				continue
			}
			switch f.Type.Kind() {
			case reflect.Func, reflect.Chan, reflect.UnsafePointer:
				continue
			}
			ti.fields = append(ti.fields, fieldInfo{index: i, name: f.Name})
		}
	}
	c.types.Add(t, ti)
	return ti
}

// equalMethod finds func (T) Equal(T) bool on t.
func equalMethod(t reflect.Type) *reflect.Method {
	if t.Kind() == reflect.Interface {
		return nil
	}
	m, ok := t.MethodByName("Equal")
	if !ok {
		return nil
	}
	mt := m.Type
	if mt.NumIn() != 2 || mt.In(1) != t || mt.NumOut() != 1 || mt.Out(0).Kind() != reflect.Bool {
		return nil
	}
	return &m
}

// nilable reports whether values of kind k can be nil. Equal methods are
// only called when neither side is nil.
func nilable(k reflect.Kind) bool {
	switch k {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return true
	}
	return false
}

type visit struct {
	a, b uintptr
	typ  reflect.Type
}

type walker struct {
	c       *Comparer
	visited map[visit]bool
}

func (w *walker) compare(a, b reflect.Value, depth int) (string, bool) {
	if depth > w.c.maxDepth {
		return "", false
	}
	if !a.IsValid() || !b.IsValid() {
		return "", a.IsValid() == b.IsValid()
	}
	if a.Type() != b.Type() {
		return "", false
	}

	ti := w.c.info(a.Type())
	if nilable(a.Kind()) && (a.IsNil() || b.IsNil()) {
		return "", a.IsNil() == b.IsNil()
	}
	if ti.equal != nil && a.CanInterface() && b.CanInterface() {
		out := ti.equal.Func.Call([]reflect.Value{a, b})
		return "", out[0].Bool()
	}

	switch a.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return "", true

	case reflect.Pointer:
		if a.IsNil() || b.IsNil() {
			return "", a.IsNil() == b.IsNil()
		}
		if a.Pointer() == b.Pointer() {
			return "", true
		}
		if w.seen(a, b) {
			return "", true
		}
		return w.compare(a.Elem(), b.Elem(), depth+1)

	case reflect.Interface:
		if a.IsNil() || b.IsNil() {
			return "", a.IsNil() == b.IsNil()
		}
		return w.compare(a.Elem(), b.Elem(), depth+1)

	case reflect.Struct:
		for _, f := range ti.fields {
			if path, ok := w.compare(a.Field(f.index), b.Field(f.index), depth+1); !ok {
				return "." + f.name + path, false
			}
		}
		return "", true

	case reflect.Slice:
		if a.IsNil() || b.IsNil() {
			return "", a.IsNil() == b.IsNil()
		}
		if a.Len() != b.Len() {
			return "", false
		}
		if a.Len() == 0 || a.Pointer() == b.Pointer() {
			return "", true
		}
		if w.seen(a, b) {
			return "", true
		}
		return w.elements(a, b, depth)

	case reflect.Array:
		return w.elements(a, b, depth)

	case reflect.Map:
		if a.IsNil() || b.IsNil() {
			return "", a.IsNil() == b.IsNil()
		}
		if a.Len() != b.Len() {
			return "", false
		}
		if a.Pointer() == b.Pointer() {
			return "", true
		}
		if w.seen(a, b) {
			return "", true
		}
		iter := a.MapRange()
		for iter.Next() {
			other := b.MapIndex(iter.Key())
			if !other.IsValid() {
				return "[" + keyString(iter.Key()) + "]", false
			}
			if path, ok := w.compare(iter.Value(), other, depth+1); !ok {
				return "[" + keyString(iter.Key()) + "]" + path, false
			}
		}
		return "", true

	case reflect.Bool:
		return "", a.Bool() == b.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "", a.Int() == b.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return "", a.Uint() == b.Uint()
	case reflect.Float32, reflect.Float64:
		return "", a.Float() == b.Float()
	case reflect.Complex64, reflect.Complex128:
		return "", a.Complex() == b.Complex()
	case reflect.String:
		return "", a.String() == b.String()
	}
	return "", false
}

func (w *walker) elements(a, b reflect.Value, depth int) (string, bool) {
	for i := 0; i < a.Len(); i++ {
		if path, ok := w.compare(a.Index(i), b.Index(i), depth+1); !ok {
			return "[" + strconv.Itoa(i) + "]" + path, false
		}
	}
	return "", true
}

// seen records the pair and reports whether it was already being compared.
// Revisiting a pair means a cycle; the pair is assumed equal.
func (w *walker) seen(a, b reflect.Value) bool {
	v := visit{a: a.Pointer(), b: b.Pointer(), typ: a.Type()}
	if w.visited[v] {
		return true
	}
	w.visited[v] = true
	return false
}

func keyString(k reflect.Value) string {
	switch k.Kind() {
	case reflect.String:
		return strconv.Quote(k.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(k.Uint(), 10)
	}
	return k.Type().String()
}
