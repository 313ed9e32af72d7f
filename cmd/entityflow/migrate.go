package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the system tables (_audit_log, _workflow_history, _meta_comments)",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer rt.close()

		if err := rt.store.Bootstrap(cmd.Context()); err != nil {
			return fmt.Errorf("bootstrap system tables: %w", err)
		}
		color.Green("System tables ready (%s)", rt.store.Dialect.Name())
		return nil
	},
}
