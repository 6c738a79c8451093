package pipeline

import (
	"reflect"
)

// FilterRegistration describes a data filter keyed by its marker interface.
type FilterRegistration struct {
	marker reflect.Type
	build  func(Services) func(any) bool
}

// Filter registers a predicate for entities implementing F. The factory is
// called once per unit of work with that unit's services. A factory that
// returns nil admits everything.
func Filter[F any](factory func(Services) func(F) bool) FilterRegistration {
	reg := FilterRegistration{marker: Marker[F]()}
	if factory == nil {
		return reg
	}
	reg.build = func(s Services) func(any) bool {
		pred := factory(s)
		if pred == nil {
			return nil
		}
		return func(v any) bool {
			f, ok := v.(F)
			if !ok {
				return true
			}
			return pred(f)
		}
	}
	return reg
}

// Marker returns the marker interface the filter is keyed by.
func (r FilterRegistration) Marker() reflect.Type { return r.marker }

func (r FilterRegistration) validate() error {
	if r.marker == nil || r.marker.Kind() != reflect.Interface {
		return &ShapeError{Kind: "filter", Marker: r.marker, Reason: "marker must be an interface type"}
	}
	if r.build == nil {
		return &ShapeError{Kind: "filter", Marker: r.marker, Reason: "factory is nil"}
	}
	return nil
}

type activeFilter struct {
	marker reflect.Type
	rank   int
	allow  func(any) bool
}

// FilterSet is the materialized, mutable filter collection of one unit of
// work. Every registered filter starts active.
type FilterSet struct {
	active []*activeFilter
}

func newFilterSet(regs []FilterRegistration, services Services) *FilterSet {
	fs := &FilterSet{active: make([]*activeFilter, 0, len(regs))}
	for i, reg := range regs {
		fs.active = append(fs.active, &activeFilter{
			marker: reg.marker,
			rank:   i,
			allow:  reg.build(services),
		})
	}
	return fs
}

// Allow reports whether every active filter applicable to v admits it.
func (fs *FilterSet) Allow(v any) bool {
	for _, f := range fs.active {
		if f.allow == nil || !implements(v, f.marker) {
			continue
		}
		if !f.allow(v) {
			return false
		}
	}
	return true
}

// Applies reports whether any active filter applies to values of type t.
func (fs *FilterSet) Applies(t reflect.Type) bool {
	for _, f := range fs.active {
		if t.Implements(f.marker) {
			return true
		}
	}
	return false
}

// Active reports whether the filter keyed by marker is currently active.
func (fs *FilterSet) Active(marker reflect.Type) bool {
	return fs.index(marker) >= 0
}

// Markers returns the markers of the active filters in evaluation order.
func (fs *FilterSet) Markers() []reflect.Type {
	out := make([]reflect.Type, len(fs.active))
	for i, f := range fs.active {
		out[i] = f.marker
	}
	return out
}

// Remove permanently deactivates the given filters for this set.
func (fs *FilterSet) Remove(markers ...reflect.Type) {
	fs.take(markers)
}

// Disable deactivates the given filters until the returned guard is
// restored. Markers that are not active are ignored.
func (fs *FilterSet) Disable(markers ...reflect.Type) *Guard {
	return &Guard{set: fs, removed: fs.take(markers)}
}

// DisableAll deactivates every active filter until the guard is restored.
func (fs *FilterSet) DisableAll() *Guard {
	return fs.Disable(fs.Markers()...)
}

func (fs *FilterSet) index(marker reflect.Type) int {
	for i, f := range fs.active {
		if f.marker == marker {
			return i
		}
	}
	return -1
}

func (fs *FilterSet) take(markers []reflect.Type) []*activeFilter {
	var removed []*activeFilter
	for _, m := range markers {
		i := fs.index(m)
		if i < 0 {
			continue
		}
		removed = append(removed, fs.active[i])
		fs.active = append(fs.active[:i], fs.active[i+1:]...)
	}
	return removed
}

// put re-inserts f at its registration rank unless a filter with the same
// marker is already active.
func (fs *FilterSet) put(f *activeFilter) {
	if fs.index(f.marker) >= 0 {
		return
	}
	pos := len(fs.active)
	for i, a := range fs.active {
		if a.rank > f.rank {
			pos = i
			break
		}
	}
	fs.active = append(fs.active, nil)
	copy(fs.active[pos+1:], fs.active[pos:])
	fs.active[pos] = f
}

// Guard restores filters removed by Disable or DisableAll.
type Guard struct {
	set      *FilterSet
	removed  []*activeFilter
	restored bool
}

// Restore re-activates exactly the filters this guard removed. Filters that
// were re-activated in the meantime are left alone. Calling Restore more
// than once has no further effect.
func (g *Guard) Restore() {
	if g == nil || g.restored {
		return
	}
	g.restored = true
	for _, f := range g.removed {
		g.set.put(f)
	}
}

// Removed returns the markers this guard deactivated.
func (g *Guard) Removed() []reflect.Type {
	out := make([]reflect.Type, len(g.removed))
	for i, f := range g.removed {
		out[i] = f.marker
	}
	return out
}
