package uow

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/roach88/uow/internal/deepequal"
	"github.com/roach88/uow/internal/docstore"
	"github.com/roach88/uow/internal/metrics"
	"github.com/roach88/uow/internal/pipeline"
)

// OverflowPolicy decides what Attach does when a root type already tracks
// the configured maximum number of instances.
type OverflowPolicy int

const (
	// OverflowWarn logs once per root type and keeps tracking.
	OverflowWarn OverflowPolicy = iota
	// OverflowFail rejects the attach with ErrTrackingOverflow.
	OverflowFail
)

// String returns the config spelling of the policy.
func (p OverflowPolicy) String() string {
	if p == OverflowFail {
		return "fail"
	}
	return "warn"
}

// ParseOverflowPolicy parses "warn" or "fail".
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "", "warn":
		return OverflowWarn, nil
	case "fail":
		return OverflowFail, nil
	default:
		return OverflowWarn, fmt.Errorf("uow: unknown overflow policy %q", s)
	}
}

// DefaultTrackingLimit bounds tracked instances per root type.
const DefaultTrackingLimit = 10000

// Context is a unit of work: an identity map with dirty checking over one
// store session.
//
// A Context has a single logical owner. It is not safe for concurrent use;
// the identity map, snapshots and materialized filters are unsynchronized.
type Context struct {
	store    docstore.Store
	session  docstore.Session
	sessOpts docstore.SessionOptions

	registry     *pipeline.Registry
	services     pipeline.Services
	filters      *pipeline.FilterSet
	interceptors *pipeline.InterceptorSet

	types    *TypeRegistry
	ids      IDGenerator
	clock    Clock
	logger   *slog.Logger
	metrics  *metrics.Metrics
	comparer *deepequal.Comparer

	identity  *identityMap
	snapshots *snapshotStore

	trackingLimit int
	overflow      OverflowPolicy
	warned        map[reflect.Type]bool

	transactional bool
	parallelSave  bool
	maxDepth      int
	onCommitted   []func(context.Context)
	closed        bool
}

// Option configures a Context.
type Option func(*Context)

// WithRegistry sets the filter and interceptor registry. Without one the
// Context has no filters or interceptors.
func WithRegistry(r *pipeline.Registry) Option {
	return func(c *Context) { c.registry = r }
}

// WithServices sets what filter and interceptor factories can resolve.
func WithServices(s pipeline.Services) Option {
	return func(c *Context) { c.services = s }
}

// WithTypes sets the root type registry.
func WithTypes(tr *TypeRegistry) Option {
	return func(c *Context) { c.types = tr }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Context) { c.logger = l }
}

// WithIDGenerator sets the ID generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Context) { c.ids = g }
}

// WithClock sets the CreatedOn clock. Default: UTC wall clock.
func WithClock(clk Clock) Option {
	return func(c *Context) { c.clock = clk }
}

// WithMetrics records save and tracking metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Context) { c.metrics = m }
}

// WithTrackingLimit caps tracked instances per root type. A limit of zero
// disables the cap.
func WithTrackingLimit(limit int, policy OverflowPolicy) Option {
	return func(c *Context) {
		c.trackingLimit = limit
		c.overflow = policy
	}
}

// WithTransaction makes the Context open a store transaction on creation
// and again after every Commit.
func WithTransaction(opts docstore.SessionOptions) Option {
	return func(c *Context) {
		c.transactional = true
		c.sessOpts = opts
	}
}

// WithSessionOptions sets the options of the store session.
func WithSessionOptions(opts docstore.SessionOptions) Option {
	return func(c *Context) { c.sessOpts = opts }
}

// WithParallelSave writes per-collection groups concurrently when no store
// transaction is open. Inside a transaction writes stay sequential.
func WithParallelSave(enabled bool) Option {
	return func(c *Context) { c.parallelSave = enabled }
}

// WithMaxCompareDepth bounds dirty-check recursion. Deeper entities are
// always written.
func WithMaxCompareDepth(depth int) Option {
	return func(c *Context) { c.maxDepth = depth }
}

// New opens a session on store and returns a Context bound to it.
func New(ctx context.Context, store docstore.Store, opts ...Option) (*Context, error) {
	c := &Context{
		store:         store,
		services:      pipeline.ServiceMap{},
		ids:           UUIDv7Generator{},
		clock:         systemClock{},
		logger:        slog.Default(),
		identity:      newIdentityMap(),
		snapshots:     newSnapshotStore(),
		trackingLimit: DefaultTrackingLimit,
		warned:        make(map[reflect.Type]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.types == nil {
		c.types = NewTypeRegistry()
	}
	if c.registry == nil {
		c.registry = pipeline.NewRegistry()
	}
	c.comparer = deepequal.New(deepequal.WithMaxDepth(c.maxDepth))

	if err := c.openSession(ctx, c.sessOpts); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Context) openSession(ctx context.Context, opts docstore.SessionOptions) error {
	sess, err := c.store.StartSession(ctx, opts)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if c.transactional {
		if err := sess.StartTransaction(ctx); err != nil {
			sess.EndSession(ctx)
			return fmt.Errorf("start transaction: %w", err)
		}
	}
	c.session = sess
	c.sessOpts = opts
	return nil
}

// ReplaceSession ends the current session, aborting any open transaction,
// and opens a new one with opts. Tracking state is kept.
func (c *Context) ReplaceSession(ctx context.Context, opts docstore.SessionOptions) error {
	if c.closed {
		return ErrClosed
	}
	c.session.EndSession(ctx)
	return c.openSession(ctx, opts)
}

// SessionOptions returns the options of the current session.
func (c *Context) SessionOptions() docstore.SessionOptions { return c.sessOpts }

// Session returns the current store session.
func (c *Context) Session() docstore.Session { return c.session }

// Types returns the root type registry.
func (c *Context) Types() *TypeRegistry { return c.types }

// Logger returns the Context's logger.
func (c *Context) Logger() *slog.Logger { return c.logger }

// Begin starts a store transaction unless one is already open.
func (c *Context) Begin(ctx context.Context) error {
	if c.closed {
		return ErrClosed
	}
	if c.session.InTransaction() {
		return nil
	}
	return c.session.StartTransaction(ctx)
}

// InTransaction reports whether a store transaction is open.
func (c *Context) InTransaction() bool {
	return !c.closed && c.session.InTransaction()
}

// OnCommitted registers fn to run after every successful Commit.
func (c *Context) OnCommitted(fn func(context.Context)) {
	c.onCommitted = append(c.onCommitted, fn)
}

// Tracked returns the number of instances in the identity map.
func (c *Context) Tracked() int { return c.identity.len() }

// Snapshots returns the number of origin snapshots held.
func (c *Context) Snapshots() int { return c.snapshots.len() }

// Reset clears the identity map and snapshots without touching the store.
func (c *Context) Reset() {
	c.identity.clear()
	c.snapshots.clear()
	c.warned = make(map[reflect.Type]bool)
}

// Close aborts any open transaction, clears tracking state and ends the
// session. Close is idempotent. The store itself stays open.
func (c *Context) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	var err error
	if c.session.InTransaction() {
		err = c.session.AbortTransaction(ctx)
	}
	c.session.EndSession(ctx)
	c.Reset()
	c.closed = true
	return err
}

func (c *Context) filterSet() *pipeline.FilterSet {
	if c.filters == nil {
		c.filters = c.registry.NewFilterSet(c.services)
	}
	return c.filters
}

func (c *Context) interceptorSet() *pipeline.InterceptorSet {
	if c.interceptors == nil {
		c.interceptors = c.registry.NewInterceptorSet(c.services)
	}
	return c.interceptors
}
