package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Wikid82/rampart/internal/version"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rampart",
		Short: "Rampart - request defense service",
		Long: `Rampart inspects every incoming HTTP request before it reaches the
application: block list, rate limits, attack signatures and behavior
analysis, with a reporting API for operators.

Running without a subcommand starts the server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	root.AddCommand(newServeCmd(), newRulesCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
