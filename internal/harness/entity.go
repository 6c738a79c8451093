package harness

import (
	"github.com/roach88/uow/internal/pipeline"
	"github.com/roach88/uow/internal/uow"
)

// AccountsCollection stores Account documents.
const AccountsCollection = "accounts"

// Account is the entity scenarios operate on.
type Account struct {
	uow.Base
	Owner     string   `json:"owner"`
	Balance   int64    `json:"balance"`
	Tenant    string   `json:"tenant,omitempty"`
	Deleted   bool     `json:"deleted,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	AuditedBy string   `json:"audited_by,omitempty"`
}

// CollectionName implements uow.CollectionNamer.
func (*Account) CollectionName() string { return AccountsCollection }

func (a *Account) IsDeleted() bool         { return a.Deleted }
func (a *Account) TenantID() string        { return a.Tenant }
func (a *Account) SetAuditedBy(who string) { a.AuditedBy = who }

// SoftDeletable hides deleted entities from queries.
type SoftDeletable interface{ IsDeleted() bool }

// TenantScoped limits queries to the scenario tenant.
type TenantScoped interface{ TenantID() string }

// Auditable entities are stamped with the scenario actor on attach.
type Auditable interface{ SetAuditedBy(who string) }

// Service names resolved by the registered filters and interceptors.
const (
	ServiceTenant = "tenant"
	ServiceActor  = "actor"
)

// Filter names accepted by disable_filter.
const (
	FilterSoftDelete = "soft_delete"
	FilterTenant     = "tenant"
	FilterAll        = "all"
)

// newRegistry registers the soft-delete and tenant filters and the audit
// interceptor. The tenant filter is only registered when tenant is set.
func newRegistry(tenant string) (*pipeline.Registry, error) {
	r := pipeline.NewRegistry()
	filters := []pipeline.FilterRegistration{
		pipeline.Filter[SoftDeletable](func(pipeline.Services) func(SoftDeletable) bool {
			return func(e SoftDeletable) bool { return !e.IsDeleted() }
		}),
	}
	if tenant != "" {
		filters = append(filters, pipeline.Filter[TenantScoped](func(s pipeline.Services) func(TenantScoped) bool {
			v, _ := s.Resolve(ServiceTenant)
			want, _ := v.(string)
			return func(e TenantScoped) bool { return e.TenantID() == want }
		}))
	}
	if err := r.RegisterDataFilters(filters...); err != nil {
		return nil, err
	}
	err := r.RegisterDataInterceptors(
		pipeline.Intercept[Auditable](pipeline.OnAttach, func(s pipeline.Services) func(Auditable) {
			actor, _ := s.Resolve(ServiceActor)
			name, _ := actor.(string)
			return func(e Auditable) { e.SetAuditedBy(name) }
		}),
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}
