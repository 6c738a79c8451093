package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/uow/internal/migrate"
	"github.com/roach88/uow/internal/uow"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Migrations are the migrations the migrate and status commands use.
	Migrations *migrate.Registry

	// Clock overrides the clock used to time migrations (for testing).
	Clock uow.Clock
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. Applications embed it with
// their own migration registry; a nil registry means no migrations.
func NewRootCommand(migrations *migrate.Registry) *cobra.Command {
	if migrations == nil {
		migrations = migrate.NewRegistry()
	}
	return newRootCommand(&RootOptions{Migrations: migrations})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uow",
		Short: "Unit of work migration and inspection tool",
		Long: `uow applies versioned migrations to a document store and inspects the
migration history.

The store is selected by the configuration file (--config). Without one the
built-in defaults are used: a SQLite database named uow.db.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}
