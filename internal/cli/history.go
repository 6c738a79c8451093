package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/uow/internal/migrate"
)

// HistoryEntry is one applied migration as reported by the history command.
type HistoryEntry struct {
	Number         int64     `json:"number"`
	Name           string    `json:"name"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	AppliedOn      time.Time `json:"applied_on"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "history",
		Short:         "List applied migrations",
		Long:          `List the migration history records in ascending number order.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, cmd)
		},
	}
	return cmd
}

type historyResult []HistoryEntry

func (r historyResult) renderText(w io.Writer) error {
	if len(r) == 0 {
		_, err := fmt.Fprintln(w, "No migrations applied")
		return err
	}
	rows := [][]string{{"NUMBER", "NAME", "ELAPSED"}}
	for _, h := range r {
		rows = append(rows, []string{
			strconv.FormatInt(h.Number, 10),
			h.Name,
			fmt.Sprintf("%.3fs", h.ElapsedSeconds),
		})
	}
	return writeTable(w, rows)
}

func runHistory(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	ctx := commandContext(cmd)

	e, err := openEnv(ctx, opts, cmd.ErrOrStderr())
	if err != nil {
		return outputCommandError(formatter, err)
	}
	defer e.close(context.WithoutCancel(ctx))

	applied, err := migrate.Applied(ctx, e.ctx)
	if err != nil {
		return outputCommandError(formatter, err)
	}
	out := make(historyResult, 0, len(applied))
	for _, h := range applied {
		out = append(out, HistoryEntry{
			Number:         h.Number,
			Name:           h.Name,
			ElapsedSeconds: h.ElapsedSeconds,
			AppliedOn:      h.CreatedOn,
		})
	}
	return formatter.Success(out)
}
