package migrate

import "sync"

// Registry collects the migrations an application ships. It is built at
// startup and handed to the Runner; the runner uses it when Run is called
// without an explicit list.
//
// Thread-safety: Registry is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	migrations []Migration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds migrations. Names are validated when the runner plans a run.
func (r *Registry) Register(migrations ...Migration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.migrations = append(r.migrations, migrations...)
}

// Migrations returns the registered migrations in registration order.
func (r *Registry) Migrations() []Migration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Migration(nil), r.migrations...)
}

// Len returns the number of registered migrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.migrations)
}
