package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/uow/internal/docstore"
	"github.com/roach88/uow/internal/metrics"
	"github.com/roach88/uow/internal/uow"
)

// DefaultCommitTimeout is the maximum commit time of migration
// transactions.
const DefaultCommitTimeout = 10 * time.Minute

// Runner applies pending migrations.
type Runner struct {
	registry      *Registry
	commitTimeout time.Duration
	logger        *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithRegistry sets the migrations used when Run gets no explicit list.
func WithRegistry(r *Registry) Option {
	return func(rn *Runner) { rn.registry = r }
}

// WithCommitTimeout sets the maximum commit time of each migration's
// transaction.
func WithCommitTimeout(d time.Duration) Option {
	return func(rn *Runner) { rn.commitTimeout = d }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(rn *Runner) { rn.logger = l }
}

// WithMetrics records applied and failed migrations.
func WithMetrics(m *metrics.Metrics) Option {
	return func(rn *Runner) { rn.metrics = m }
}

// WithClock sets the clock used to measure elapsed time.
func WithClock(clk uow.Clock) Option {
	return func(rn *Runner) { rn.now = clk.Now }
}

// NewRunner creates a Runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		registry:      NewRegistry(),
		commitTimeout: DefaultCommitTimeout,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AppliedMigration describes one migration applied by Run.
type AppliedMigration struct {
	Number         int64   `json:"number"`
	Name           string  `json:"name"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// Report summarizes a run.
type Report struct {
	// Baseline is the highest migration number recorded before the run.
	Baseline int64 `json:"baseline"`

	// Applied lists the migrations applied by this run, in order.
	Applied []AppliedMigration `json:"applied"`

	// Skipped counts known migrations at or below the baseline.
	Skipped int `json:"skipped"`
}

// Status is the migration state of a store.
type Status struct {
	Baseline int64              `json:"baseline"`
	Pending  []PendingMigration `json:"pending"`
}

// PendingMigration is a migration above the baseline.
type PendingMigration struct {
	Number      int64  `json:"number"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Run applies every migration numbered above the recorded baseline, in
// ascending order. With no migrations given, the runner's registry is used.
//
// Names are parsed before anything runs; a bad name or a duplicate number
// fails the run with nothing applied. So does a c that already tracks
// entities: those would be written in the first migration's transaction,
// so Run returns ErrPendingChanges instead. During the run all data filters of c
// are disabled and c uses a majority session with the runner's commit
// timeout. Each migration runs in its own transaction: Upgrade, save, then
// the History record, then commit. The first failure aborts that
// transaction, clears c's tracking state and returns an *ExecutionError;
// later migrations do not run. The Report lists what was applied before
// the failure.
func (r *Runner) Run(ctx context.Context, c *uow.Context, migrations ...Migration) (*Report, error) {
	if len(migrations) == 0 {
		migrations = r.registry.Migrations()
	}
	steps, err := plan(migrations)
	if err != nil {
		return nil, err
	}
	if n := c.Tracked(); n > 0 {
		return nil, fmt.Errorf("%w: %d pending", ErrPendingChanges, n)
	}

	guard := c.DisableAllDataFilters()
	defer guard.Restore()

	prev := c.SessionOptions()
	if err := c.ReplaceSession(ctx, docstore.SessionOptions{Majority: true, MaxCommitTime: r.commitTimeout}); err != nil {
		return nil, err
	}
	defer func() {
		if err := c.ReplaceSession(context.WithoutCancel(ctx), prev); err != nil {
			r.logger.Error("restore session after migrations failed", "error", err)
		}
	}()

	baseline, err := Baseline(ctx, c)
	if err != nil {
		return nil, err
	}
	todo := pending(steps, baseline)
	report := &Report{Baseline: baseline, Skipped: len(steps) - len(todo)}
	if len(todo) == 0 {
		r.logger.Info("no pending migrations", "baseline", baseline)
		return report, nil
	}

	r.logger.Info("applying migrations", "baseline", baseline, "pending", len(todo))
	for _, s := range todo {
		applied, err := r.apply(ctx, c, s)
		if err != nil {
			r.metrics.MigrationFailed()
			r.logger.Error("migration failed",
				"number", s.number,
				"name", s.name(),
				"error", err,
			)
			return report, &ExecutionError{Number: s.number, Name: s.name(), Err: err}
		}
		report.Applied = append(report.Applied, applied)
	}
	return report, nil
}

// apply runs one migration in its own transaction.
func (r *Runner) apply(ctx context.Context, c *uow.Context, s step) (AppliedMigration, error) {
	start := r.now()
	if err := c.Begin(ctx); err != nil {
		return AppliedMigration{}, err
	}

	fail := func(err error) (AppliedMigration, error) {
		if c.InTransaction() {
			if abortErr := c.Abort(context.WithoutCancel(ctx)); abortErr != nil {
				r.logger.Error("abort migration transaction failed", "number", s.number, "error", abortErr)
			}
		}
		c.Reset()
		return AppliedMigration{}, err
	}

	if err := s.migration.Upgrade(ctx, c); err != nil {
		return fail(err)
	}
	if _, err := c.SaveChanges(ctx); err != nil {
		return fail(err)
	}

	elapsed := r.now().Sub(start)
	record := &History{
		Number:         s.number,
		Name:           norm.NFC.String(s.name()),
		ElapsedSeconds: elapsed.Seconds(),
	}
	if _, err := c.Attach(record); err != nil {
		return fail(err)
	}
	if _, err := c.Commit(ctx); err != nil {
		return fail(err)
	}

	r.metrics.MigrationApplied(s.number, elapsed)
	r.logger.Info("migration applied",
		"number", s.number,
		"name", record.Name,
		"elapsed", elapsed,
	)
	return AppliedMigration{Number: s.number, Name: record.Name, ElapsedSeconds: record.ElapsedSeconds}, nil
}

// Status reports the baseline and the migrations a Run would apply,
// without applying them.
func (r *Runner) Status(ctx context.Context, c *uow.Context, migrations ...Migration) (*Status, error) {
	if len(migrations) == 0 {
		migrations = r.registry.Migrations()
	}
	steps, err := plan(migrations)
	if err != nil {
		return nil, err
	}
	baseline, err := Baseline(ctx, c)
	if err != nil {
		return nil, err
	}
	st := &Status{Baseline: baseline}
	for _, s := range pending(steps, baseline) {
		st.Pending = append(st.Pending, PendingMigration{Number: s.number, Name: s.name(), Description: s.description})
	}
	return st, nil
}
