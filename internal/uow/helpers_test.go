package uow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/uow/internal/docstore"
	"github.com/roach88/uow/internal/docstore/memory"
	"github.com/roach88/uow/internal/pipeline"
	"github.com/roach88/uow/internal/testutil"
)

type softDeletable interface{ IsDeleted() bool }

type tenantScoped interface{ TenantID() string }

type auditable interface{ SetAuditedBy(string) }

type user struct {
	Base
	Name      string   `json:"name"`
	Tenant    string   `json:"tenant"`
	Deleted   bool     `json:"deleted"`
	Tags      []string `json:"tags,omitempty"`
	AuditedBy string   `json:"audited_by,omitempty"`
}

func (u *user) IsDeleted() bool          { return u.Deleted }
func (u *user) TenantID() string         { return u.Tenant }
func (u *user) SetAuditedBy(who string) { u.AuditedBy = who }

type order struct {
	Base
	UserID string `json:"user_id"`
	Total  int    `json:"total"`
}

type animal interface {
	Entity
	Sound() string
}

type dog struct {
	Base
	Name string `json:"name"`
}

func (*dog) Sound() string { return "woof" }

type cat struct {
	Base
	Name string `json:"name"`
}

func (*cat) Sound() string { return "meow" }

type person struct {
	Base
}

func (*person) CollectionName() string { return "people" }

func animalTypes(t *testing.T) *TypeRegistry {
	t.Helper()
	tr := NewTypeRegistry()
	require.NoError(t, RegisterRoot[animal](tr, (*dog)(nil), (*cat)(nil)))
	return tr
}

func filterRegistry(t *testing.T) *pipeline.Registry {
	t.Helper()
	r := pipeline.NewRegistry()
	require.NoError(t, r.RegisterDataFilters(
		pipeline.Filter[softDeletable](func(pipeline.Services) func(softDeletable) bool {
			return func(e softDeletable) bool { return !e.IsDeleted() }
		}),
		pipeline.Filter[tenantScoped](func(s pipeline.Services) func(tenantScoped) bool {
			tenant, _ := s.Resolve("tenant")
			return func(e tenantScoped) bool { return e.TenantID() == tenant }
		}),
	))
	return r
}

// newTestContext creates a Context over a fresh memory store with
// deterministic IDs and timestamps.
func newTestContext(t *testing.T, opts ...Option) (*Context, *memory.Store) {
	t.Helper()
	st := memory.New()
	return newTestContextOn(t, st, opts...), st
}

func newTestContextOn(t *testing.T, st docstore.Store, opts ...Option) *Context {
	t.Helper()
	base := []Option{
		WithIDGenerator(testutil.NewSequenceGenerator("e")),
		WithClock(testutil.NewDeterministicClock()),
	}
	c, err := New(context.Background(), st, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

func seed(t *testing.T, st *memory.Store, collection string, entities ...Entity) {
	t.Helper()
	docs := make([]docstore.Document, len(entities))
	for i, e := range entities {
		docs[i] = docstore.Document{ID: IDOf(e), Value: e}
	}
	require.NoError(t, st.Seed(collection, docs...))
}

func collectIDs[T Entity](t *testing.T, seq func(func(T, error) bool)) []string {
	t.Helper()
	var ids []string
	for e, err := range seq {
		require.NoError(t, err)
		ids = append(ids, IDOf(e))
	}
	return ids
}
