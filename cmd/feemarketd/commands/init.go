package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	cfg "feemarket/config"
)

// InitCmd writes the default config under --home.
var InitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the home directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.EnsureRoot(home); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config: %s\n", cfg.ConfigFile(home))
		return nil
	},
}
