package pipeline

import (
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type softDeletable interface{ IsDeleted() bool }

type tenantScoped interface{ TenantID() string }

type stamped interface{ Stamp(by string) }

type post struct {
	deleted bool
	tenant  string
	by      string
}

func (p *post) IsDeleted() bool  { return p.deleted }
func (p *post) TenantID() string { return p.tenant }
func (p *post) Stamp(by string)  { p.by = by }

type plain struct{}

func notDeleted(Services) func(softDeletable) bool {
	return func(e softDeletable) bool { return !e.IsDeleted() }
}

func sameTenant(s Services) func(tenantScoped) bool {
	want, _ := s.Resolve("tenant")
	return func(e tenantScoped) bool { return e.TenantID() == want }
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.RegisterDataFilters(
		Filter[softDeletable](notDeleted),
		Filter[tenantScoped](sameTenant),
	))
	return r
}

func TestRegisterDataFilters_ShapeViolations(t *testing.T) {
	tests := []struct {
		name string
		reg  FilterRegistration
	}{
		{"non-interface marker", Filter[*post](func(Services) func(*post) bool { return nil })},
		{"nil factory", Filter[softDeletable](nil)},
		{"zero registration", FilterRegistration{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			err := r.RegisterDataFilters(Filter[tenantScoped](sameTenant), tt.reg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrShapeViolation)
			assert.True(t, IsShapeError(err))
			assert.Empty(t, r.Filters(), "no registration is accepted when one is invalid")
		})
	}
}

func TestRegisterDataInterceptors_ShapeViolations(t *testing.T) {
	r := NewRegistry()

	err := r.RegisterDataInterceptors(Intercept[stamped](Timing(9), func(Services) func(stamped) { return nil }))
	assert.ErrorIs(t, err, ErrShapeViolation)
	assert.Contains(t, err.Error(), "unknown timing")

	err = r.RegisterDataInterceptors(Intercept[post](OnAttach, func(Services) func(post) { return nil }))
	assert.ErrorIs(t, err, ErrShapeViolation)

	err = r.RegisterDataInterceptors(Intercept[stamped](OnAttach, nil))
	assert.ErrorIs(t, err, ErrShapeViolation)
}

func TestRegistry_ReregisterReplacesInPlace(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.RegisterDataFilters(Filter[softDeletable](func(Services) func(softDeletable) bool {
		return func(softDeletable) bool { return false }
	})))

	regs := r.Filters()
	require.Len(t, regs, 2)
	assert.Equal(t, Marker[softDeletable](), regs[0].Marker())

	fs := r.NewFilterSet(ServiceMap{"tenant": "a"})
	assert.False(t, fs.Allow(&post{tenant: "a"}), "replacement predicate is used")
}

func TestRegistry_Remove(t *testing.T) {
	r := newTestRegistry(t)
	r.RemoveDataFilters(Marker[softDeletable](), Marker[stamped]())

	regs := r.Filters()
	require.Len(t, regs, 1)
	assert.Equal(t, Marker[tenantScoped](), regs[0].Marker())
}

func TestFilterSet_Allow(t *testing.T) {
	fs := newTestRegistry(t).NewFilterSet(ServiceMap{"tenant": "a"})

	assert.True(t, fs.Allow(&post{tenant: "a"}))
	assert.False(t, fs.Allow(&post{tenant: "a", deleted: true}))
	assert.False(t, fs.Allow(&post{tenant: "b"}))
	assert.True(t, fs.Allow(&plain{}), "filters apply only to marker implementers")

	assert.True(t, fs.Applies(reflect.TypeFor[*post]()))
	assert.False(t, fs.Applies(reflect.TypeFor[*plain]()))
}

func TestFilterSet_DisableRestore(t *testing.T) {
	fs := newTestRegistry(t).NewFilterSet(ServiceMap{"tenant": "a"})
	deleted := &post{tenant: "a", deleted: true}

	g := fs.Disable(Marker[softDeletable]())
	assert.False(t, fs.Active(Marker[softDeletable]()))
	assert.True(t, fs.Allow(deleted))
	assert.Equal(t, []reflect.Type{Marker[softDeletable]()}, g.Removed())

	g.Restore()
	assert.True(t, fs.Active(Marker[softDeletable]()))
	assert.False(t, fs.Allow(deleted))
	assert.Equal(t, []reflect.Type{Marker[softDeletable](), Marker[tenantScoped]()}, fs.Markers(),
		"restored filter returns to its registration position")

	g.Restore()
	assert.Len(t, fs.Markers(), 2, "restore is idempotent")
}

func TestFilterSet_RestoreOnlyWhatItRemoved(t *testing.T) {
	fs := newTestRegistry(t).NewFilterSet(ServiceMap{"tenant": "a"})

	outer := fs.Disable(Marker[softDeletable]())
	inner := fs.DisableAll()
	assert.Equal(t, []reflect.Type{Marker[tenantScoped]()}, inner.Removed())
	assert.Empty(t, fs.Markers())

	inner.Restore()
	assert.Equal(t, []reflect.Type{Marker[tenantScoped]()}, fs.Markers())
	assert.False(t, fs.Active(Marker[softDeletable]()), "outer guard still holds its filter")

	outer.Restore()
	assert.Len(t, fs.Markers(), 2)
}

func TestFilterSet_RemoveIsPermanent(t *testing.T) {
	fs := newTestRegistry(t).NewFilterSet(ServiceMap{"tenant": "a"})
	fs.Remove(Marker[tenantScoped]())
	assert.True(t, fs.Allow(&post{tenant: "z"}))

	var g *Guard
	g.Restore()
	assert.False(t, fs.Active(Marker[tenantScoped]()))
}

func TestFilterSet_IndependentPerMaterialization(t *testing.T) {
	r := newTestRegistry(t)
	a := r.NewFilterSet(ServiceMap{"tenant": "a"})
	b := r.NewFilterSet(ServiceMap{"tenant": "b"})

	a.DisableAll()
	assert.Empty(t, a.Markers())
	assert.Len(t, b.Markers(), 2)
	assert.True(t, b.Allow(&post{tenant: "b"}))
}

func TestInterceptorSet_Run(t *testing.T) {
	r := NewRegistry()
	var order []string
	require.NoError(t, r.RegisterDataInterceptors(
		Intercept[stamped](OnAttach, func(s Services) func(stamped) {
			who, _ := s.Resolve("user")
			return func(e stamped) {
				order = append(order, "stamp")
				e.Stamp(who.(string))
			}
		}),
		Intercept[tenantScoped](OnAttach, func(Services) func(tenantScoped) {
			return func(tenantScoped) { order = append(order, "tenant") }
		}),
	))

	is := r.NewInterceptorSet(ServiceMap{"user": "ada"})
	assert.Equal(t, 2, is.Len(OnAttach))

	p := &post{}
	assert.Equal(t, 2, is.Run(OnAttach, p))
	assert.Equal(t, "ada", p.by)
	assert.Equal(t, []string{"stamp", "tenant"}, order)

	assert.Zero(t, is.Run(OnAttach, &plain{}))
}

func TestRegistry_ConcurrentRegistration(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = r.RegisterDataFilters(Filter[softDeletable](notDeleted))
		}()
		go func() {
			defer wg.Done()
			_ = r.NewFilterSet(ServiceMap{})
		}()
	}
	wg.Wait()
	assert.Len(t, r.Filters(), 1)
}
