package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/uow/internal/config"
	"github.com/roach88/uow/internal/migrate"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	MetricsFile string
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		Long: `Apply every registered migration numbered above the highest number
recorded in the migration history.

Each migration runs in its own transaction together with its history record.
The first failure rolls back that migration and stops the run.

Example:
  uow migrate --config uow.yaml
  uow migrate --metrics-file /var/lib/node_exporter/uow.prom`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")

	return cmd
}

// migrateResult is the text rendering of a migration report.
type migrateResult struct {
	*migrate.Report
}

func (r migrateResult) renderText(w io.Writer) error {
	if len(r.Applied) == 0 {
		_, err := fmt.Fprintf(w, "No pending migrations (baseline %d)\n", r.Baseline)
		return err
	}
	for _, m := range r.Applied {
		fmt.Fprintf(w, "✓ %s (%.3fs)\n", m.Name, m.ElapsedSeconds)
	}
	_, err := fmt.Fprintf(w, "Applied %d migration(s), skipped %d\n", len(r.Applied), r.Skipped)
	return err
}

func runMigrate(opts *MigrateOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	e, err := openEnv(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return outputCommandError(formatter, err)
	}
	defer e.close(context.WithoutCancel(ctx))

	formatter.VerboseLog("Running %d registered migration(s)", registeredCount(opts.RootOptions))
	report, runErr := e.runner(opts.RootOptions).Run(ctx, e.ctx)

	if opts.MetricsFile != "" {
		if err := writeMetrics(opts.MetricsFile, e.registry); err != nil {
			e.logger.Error("write metrics file failed", "path", opts.MetricsFile, "error", err)
		}
	}

	if runErr != nil {
		if report != nil && len(report.Applied) > 0 {
			_ = (migrateResult{report}).renderText(formatter.GetErrWriter())
		}
		return outputCommandError(formatter, runErr)
	}
	return formatter.Success(migrateResult{report})
}

func registeredCount(opts *RootOptions) int {
	if opts.Migrations == nil {
		return 0
	}
	return opts.Migrations.Len()
}

func writeMetrics(path string, reg *prometheus.Registry) error {
	return prometheus.WriteToTextfile(path, reg)
}

// newFormatter builds the output formatter for a command.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// outputCommandError reports err through the formatter and returns the
// matching ExitError.
func outputCommandError(formatter *OutputFormatter, err error) error {
	code, exit := classify(err)
	msg := err.Error()
	var le *config.LoadError
	if errors.As(err, &le) {
		msg = le.Message
	}
	_ = formatter.Error(code, msg, nil)
	return WrapExitError(exit, fmt.Sprintf("[%s] command failed", code), err)
}

// classify maps an error to its code and exit status.
func classify(err error) (string, int) {
	var le *config.LoadError
	var ee *ExitError
	switch {
	case errors.As(err, &le):
		return le.Code, ExitFailure
	case migrate.IsNameFormatError(err), errors.Is(err, migrate.ErrDuplicateNumber):
		return ErrCodeMigrationID, ExitFailure
	case migrate.IsExecutionError(err):
		return ErrCodeMigration, ExitFailure
	case errors.As(err, &ee):
		return ErrCodeStore, ee.Code
	default:
		return ErrCodeGeneric, ExitCommandError
	}
}
