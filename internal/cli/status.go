package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/uow/internal/migrate"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the migration baseline and pending migrations",
		Long: `Show the highest applied migration number and the registered migrations
a migrate run would apply. Nothing is written to the store.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
	return cmd
}

type statusResult struct {
	*migrate.Status
}

func (r statusResult) renderText(w io.Writer) error {
	fmt.Fprintf(w, "Baseline: %d\n", r.Baseline)
	if len(r.Pending) == 0 {
		_, err := fmt.Fprintln(w, "Up to date")
		return err
	}
	rows := [][]string{{"NUMBER", "NAME", "DESCRIPTION"}}
	for _, p := range r.Pending {
		rows = append(rows, []string{strconv.FormatInt(p.Number, 10), p.Name, p.Description})
	}
	return writeTable(w, rows)
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	ctx := commandContext(cmd)

	e, err := openEnv(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return outputCommandError(formatter, err)
	}
	defer e.close(context.WithoutCancel(ctx))

	st, err := e.runner(opts).Status(ctx, e.ctx)
	if err != nil {
		return outputCommandError(formatter, err)
	}
	return formatter.Success(statusResult{st})
}
