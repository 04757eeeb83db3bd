package main

import (
	"os"

	"feemarket/cmd/feemarketd/commands"
)

func main() {
	rootCmd := commands.RootCmd
	rootCmd.AddCommand(
		commands.InitCmd,
		commands.StartCmd,
		commands.BookCmd,
		commands.StatusCmd,
		commands.EnrollCmd,
		commands.RepositionCmd,
		commands.RemoveCmd,
		commands.CollateralCmd,
		commands.VersionCmd,
	)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
