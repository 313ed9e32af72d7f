package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "entityflow",
	Short:         "Metadata-driven entity lifecycle engine",
	Long:          `entityflow reads table configuration from database comments and serves validated, audited CRUD and workflow transitions over HTTP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to entityflow.yaml (defaults to ./entityflow.yaml if present)")
	rootCmd.AddCommand(serveCmd, schemaCmd, transitionsCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
