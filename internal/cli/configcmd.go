package cli

import (
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/uow/internal/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(newConfigValidateCommand(rootOpts))
	return cmd
}

func newConfigValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a config file and print the effective configuration",
		Long: `Validate a YAML config file against the schema and print the effective
configuration with defaults and environment overrides applied.

Without a file argument the --config file is used, or the built-in defaults
when neither is given.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := *rootOpts
			if len(args) == 1 {
				opts.ConfigPath = args[0]
			}
			return runConfigValidate(&opts, cmd)
		},
	}
	return cmd
}

type configResult struct {
	*config.Config
}

func (r configResult) renderText(w io.Writer) error {
	out, err := yaml.Marshal(r.Config)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func runConfigValidate(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	cfg, err := loadConfig(opts)
	if err != nil {
		return outputCommandError(formatter, err)
	}
	formatter.VerboseLog("Config valid: driver=%s", cfg.Store.Driver)
	if opts.Format == "json" {
		return formatter.Success(cfg)
	}
	return formatter.Success(configResult{cfg})
}
