package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Wikid82/rampart/internal/defense"
)

func newRulesCmd() *cobra.Command {
	rules := &cobra.Command{
		Use:   "rules",
		Short: "Inspect rule files",
	}
	rules.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Check a YAML rule file without starting the server",
		Long: `Parse and validate a rule file. Sections missing from the file fall
back to the built-in rules, exactly as the server would load them.

Examples:
  rampart rules validate /etc/rampart/rules.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: runRulesValidate,
	})
	rules.AddCommand(&cobra.Command{
		Use:   "defaults",
		Short: "List the built-in rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			printRuleSet(cmd, defense.DefaultRuleSet())
			return nil
		},
	})
	return rules
}

func runRulesValidate(cmd *cobra.Command, args []string) error {
	set, err := defense.LoadRulesFile(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
	printRuleSet(cmd, set)
	return nil
}

func printRuleSet(cmd *cobra.Command, set defense.RuleSet) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "security rules (%d):\n", len(set.Security))
	for _, r := range set.Security {
		state := ""
		if !r.Enabled {
			state = " (disabled)"
		}
		fmt.Fprintf(out, "  %-24s %-8s %-8s%s\n", r.ID, r.Action, r.Severity, state)
	}
	fmt.Fprintf(out, "rate limits (%d):\n", len(set.RateLimits))
	for _, r := range set.RateLimits {
		fmt.Fprintf(out, "  %-24s %-20s %d per %s\n", r.ID, r.Path, r.MaxRequests, r.Window)
	}
}
