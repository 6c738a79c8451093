package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/uow/internal/config"
	"github.com/roach88/uow/internal/docstore"
	"github.com/roach88/uow/internal/docstore/memory"
	"github.com/roach88/uow/internal/docstore/mongostore"
	"github.com/roach88/uow/internal/docstore/sqldoc"
	"github.com/roach88/uow/internal/metrics"
	"github.com/roach88/uow/internal/migrate"
	"github.com/roach88/uow/internal/uow"
)

// Error codes for store and migration failures. Config errors carry the
// codes of config.LoadError.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeStore       = "E301" // Store could not be opened
	ErrCodeMigration   = "E302" // A migration failed
	ErrCodeMigrationID = "E303" // Bad migration name or number
)

var lookupEnv = os.LookupEnv

// loadConfig returns the file config, or the defaults with environment
// overrides when no file is given.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	if opts.ConfigPath == "" {
		cfg := config.Default()
		config.ApplyEnv(cfg, lookupEnv)
		return cfg, nil
	}
	return config.Load(opts.ConfigPath)
}

// newLogger builds the slog logger from config; --verbose forces debug.
func newLogger(cfg config.LogConfig, verbose bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// openStore opens the configured document store.
func openStore(ctx context.Context, cfg config.StoreConfig) (docstore.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqldoc.Open(ctx, sqldoc.DriverSQLite, cfg.DSN)
	case "postgres":
		return sqldoc.Open(ctx, sqldoc.DriverPostgres, cfg.DSN)
	case "mongo":
		return mongostore.Open(ctx, cfg.DSN, cfg.Database)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// env is everything a command needs to work with the store.
type env struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    docstore.Store
	ctx      *uow.Context
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

// openEnv loads config, opens the store and creates a unit of work on it.
// The caller must call close.
func openEnv(ctx context.Context, opts *RootOptions, stderr io.Writer) (*env, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Log, opts.Verbose, stderr)

	policy, err := uow.ParseOverflowPolicy(cfg.Tracking.Overflow)
	if err != nil {
		return nil, err
	}

	logger.Debug("opening store", "driver", cfg.Store.Driver)
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to open %s store", cfg.Store.Driver), err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	uopts := []uow.Option{
		uow.WithLogger(logger),
		uow.WithMetrics(m),
		uow.WithTrackingLimit(cfg.Tracking.Limit, policy),
		uow.WithParallelSave(cfg.Tracking.ParallelSave),
		uow.WithMaxCompareDepth(cfg.Tracking.MaxCompareDepth),
	}
	c, err := uow.New(ctx, st, uopts...)
	if err != nil {
		_ = st.Close(ctx)
		return nil, WrapExitError(ExitCommandError, "failed to start session", err)
	}
	return &env{cfg: cfg, logger: logger, store: st, ctx: c, registry: reg, metrics: m}, nil
}

func (e *env) runner(opts *RootOptions) *migrate.Runner {
	ropts := []migrate.Option{
		migrate.WithCommitTimeout(e.cfg.Migrations.Timeout()),
		migrate.WithLogger(e.logger),
		migrate.WithMetrics(e.metrics),
	}
	if opts.Migrations != nil {
		ropts = append(ropts, migrate.WithRegistry(opts.Migrations))
	}
	if opts.Clock != nil {
		ropts = append(ropts, migrate.WithClock(opts.Clock))
	}
	return migrate.NewRunner(ropts...)
}

func (e *env) close(ctx context.Context) {
	if err := e.ctx.Close(ctx); err != nil {
		e.logger.Error("error closing unit of work", "error", err)
	}
	if err := e.store.Close(ctx); err != nil {
		e.logger.Error("error closing store", "error", err)
	}
}
