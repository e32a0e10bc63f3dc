package cmd

import (
	"github.com/spf13/cobra"

	"github.com/liuxd6825/vischeck/cmd/state"
	"github.com/liuxd6825/vischeck/scenario"
)

func getCmdList(gs *state.GlobalState) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the built-in scenarios",
		Long:  `List the built-in scenarios "vischeck run" accepts by name.`,
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return gs.Console.PrintYAML(scenario.Builtins())
		},
	}
}
