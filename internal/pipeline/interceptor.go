package pipeline

import (
	"fmt"
	"reflect"
)

// Timing selects the lifecycle point an interceptor runs at.
type Timing int

const (
	// OnAttach runs before a new instance enters the identity map.
	OnAttach Timing = iota + 1
)

func (t Timing) String() string {
	switch t {
	case OnAttach:
		return "on_attach"
	default:
		return fmt.Sprintf("timing(%d)", int(t))
	}
}

func (t Timing) valid() bool {
	return t == OnAttach
}

// InterceptorRegistration describes a data interceptor keyed by its marker
// interface.
type InterceptorRegistration struct {
	marker reflect.Type
	timing Timing
	build  func(Services) func(any)
}

// Intercept registers a hook for entities implementing F at the given
// timing. A factory that returns nil yields a no-op.
func Intercept[F any](timing Timing, factory func(Services) func(F)) InterceptorRegistration {
	reg := InterceptorRegistration{marker: Marker[F](), timing: timing}
	if factory == nil {
		return reg
	}
	reg.build = func(s Services) func(any) {
		apply := factory(s)
		if apply == nil {
			return nil
		}
		return func(v any) {
			if f, ok := v.(F); ok {
				apply(f)
			}
		}
	}
	return reg
}

// Marker returns the marker interface the interceptor is keyed by.
func (r InterceptorRegistration) Marker() reflect.Type { return r.marker }

// Timing returns when the interceptor runs.
func (r InterceptorRegistration) Timing() Timing { return r.timing }

func (r InterceptorRegistration) validate() error {
	if r.marker == nil || r.marker.Kind() != reflect.Interface {
		return &ShapeError{Kind: "interceptor", Marker: r.marker, Reason: "marker must be an interface type"}
	}
	if r.build == nil {
		return &ShapeError{Kind: "interceptor", Marker: r.marker, Reason: "factory is nil"}
	}
	if !r.timing.valid() {
		return &ShapeError{Kind: "interceptor", Marker: r.marker, Reason: "unknown timing " + r.timing.String()}
	}
	return nil
}

type activeInterceptor struct {
	marker reflect.Type
	apply  func(any)
}

// InterceptorSet is the materialized interceptor collection of one unit of
// work, grouped by timing in registration order.
type InterceptorSet struct {
	byTiming map[Timing][]activeInterceptor
}

func newInterceptorSet(regs []InterceptorRegistration, services Services) *InterceptorSet {
	is := &InterceptorSet{byTiming: make(map[Timing][]activeInterceptor)}
	for _, reg := range regs {
		apply := reg.build(services)
		if apply == nil {
			continue
		}
		is.byTiming[reg.timing] = append(is.byTiming[reg.timing], activeInterceptor{marker: reg.marker, apply: apply})
	}
	return is
}

// Run applies every interceptor for timing whose marker v implements and
// returns how many ran.
func (is *InterceptorSet) Run(timing Timing, v any) int {
	n := 0
	for _, ic := range is.byTiming[timing] {
		if !implements(v, ic.marker) {
			continue
		}
		ic.apply(v)
		n++
	}
	return n
}

// Len returns the number of interceptors for timing.
func (is *InterceptorSet) Len(timing Timing) int {
	return len(is.byTiming[timing])
}
