// Package commands implements the blade CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "blade",
	Short: "Blade is an interactive coding agent engine",
	Long: `Blade drives a large language model against your workspace: it streams
model output, executes the model's tool calls under a permission policy,
snapshots files before edits, and compacts long conversations.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}
