package cli

import (
	"github.com/spf13/cobra"
)

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, the --config file and
LATTICE_* environment overrides have been applied.

Example:
  lattice config --config lattice.yaml
  LATTICE_POOL_WORKERS=8 lattice config --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			if f.JSON() {
				return f.Success(rootOpts.Config)
			}
			out, err := rootOpts.Config.YAML()
			if err != nil {
				return WrapExitError(ExitFailure, "failed to encode config", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
