package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var transitionsCmd = &cobra.Command{
	Use:   "transitions <table> <state>",
	Short: "List the workflow transitions leaving a state",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer rt.close()

		workflows, err := rt.workflows()
		if err != nil {
			return err
		}
		table, state := args[0], args[1]
		eng, ok := workflows.Engine(table)
		if !ok {
			return fmt.Errorf("no workflow is configured for %s", table)
		}

		def := eng.Definition()
		names := eng.AvailableTransitions(state)
		if len(names) == 0 {
			color.Yellow("No transitions leave %q", state)
			return nil
		}
		for _, name := range names {
			tr := def.Transitions[name]
			fmt.Printf("%s  %s -> %s", color.GreenString(name), tr.From, tr.To)
			if len(tr.Permissions) > 0 {
				fmt.Printf("  roles: %v", tr.Permissions)
			}
			if tr.Guard != "" {
				fmt.Printf("  guard: %s", color.CyanString(tr.Guard))
			}
			fmt.Println()
		}
		return nil
	},
}
