// Package pipeline holds the process-wide data filter and interceptor
// registrations and materializes them per unit of work.
//
// A registration is keyed by a marker interface. An entity is subject to a
// filter or interceptor when its dynamic type implements the marker.
// Registering a marker twice replaces the earlier registration in place, so
// evaluation order stays the order in which markers were first registered.
//
// Registries are shared across goroutines and guarded by a mutex. The sets
// materialized from them (FilterSet, InterceptorSet) belong to one owner and
// are not synchronized.
package pipeline

import (
	"reflect"
	"sync"
)

// Services resolves named dependencies for filter and interceptor factories.
type Services interface {
	Resolve(name string) (any, bool)
}

// ServiceMap is a Services backed by a plain map.
type ServiceMap map[string]any

// Resolve returns the service registered under name.
func (m ServiceMap) Resolve(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// Marker returns the reflect.Type of the marker interface F.
func Marker[F any]() reflect.Type {
	return reflect.TypeFor[F]()
}

// Registry stores filter and interceptor registrations.
type Registry struct {
	mu           sync.RWMutex
	filters      []FilterRegistration
	interceptors []InterceptorRegistration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterDataFilters adds filters. Either every registration is accepted or
// none is; the first invalid one is returned as a *ShapeError.
func (r *Registry) RegisterDataFilters(regs ...FilterRegistration) error {
	for _, reg := range regs {
		if err := reg.validate(); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range regs {
		r.filters = upsert(r.filters, reg, func(f FilterRegistration) reflect.Type { return f.marker })
	}
	return nil
}

// RemoveDataFilters removes filters by marker. Unknown markers are ignored.
func (r *Registry) RemoveDataFilters(markers ...reflect.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters = remove(r.filters, markers, func(f FilterRegistration) reflect.Type { return f.marker })
}

// RegisterDataInterceptors adds interceptors with the same all-or-nothing
// validation as RegisterDataFilters.
func (r *Registry) RegisterDataInterceptors(regs ...InterceptorRegistration) error {
	for _, reg := range regs {
		if err := reg.validate(); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range regs {
		r.interceptors = upsert(r.interceptors, reg, func(i InterceptorRegistration) reflect.Type { return i.marker })
	}
	return nil
}

// RemoveDataInterceptors removes interceptors by marker.
func (r *Registry) RemoveDataInterceptors(markers ...reflect.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interceptors = remove(r.interceptors, markers, func(i InterceptorRegistration) reflect.Type { return i.marker })
}

// Filters returns a snapshot of the filter registrations in order.
func (r *Registry) Filters() []FilterRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]FilterRegistration(nil), r.filters...)
}

// Interceptors returns a snapshot of the interceptor registrations in order.
func (r *Registry) Interceptors() []InterceptorRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]InterceptorRegistration(nil), r.interceptors...)
}

// NewFilterSet materializes the current filters for one unit of work.
func (r *Registry) NewFilterSet(services Services) *FilterSet {
	return newFilterSet(r.Filters(), services)
}

// NewInterceptorSet materializes the current interceptors for one unit of work.
func (r *Registry) NewInterceptorSet(services Services) *InterceptorSet {
	return newInterceptorSet(r.Interceptors(), services)
}

func upsert[R any](list []R, reg R, key func(R) reflect.Type) []R {
	for i := range list {
		if key(list[i]) == key(reg) {
			list[i] = reg
			return list
		}
	}
	return append(list, reg)
}

func remove[R any](list []R, markers []reflect.Type, key func(R) reflect.Type) []R {
	if len(markers) == 0 {
		return list
	}
	drop := make(map[reflect.Type]bool, len(markers))
	for _, m := range markers {
		drop[m] = true
	}
	out := list[:0:0]
	for _, r := range list {
		if !drop[key(r)] {
			out = append(out, r)
		}
	}
	return out
}

func implements(v any, marker reflect.Type) bool {
	if v == nil {
		return false
	}
	return reflect.TypeOf(v).Implements(marker)
}
