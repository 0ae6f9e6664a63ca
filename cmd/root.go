// Package cmd contains the CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "reviewpulse",
	Short: "Conversational analytics over app reviews and marketing reports",
	Long: `reviewpulse serves an HTTP API for short-lived chat sessions grounded in a
subject's analytical context (app reviews, marketing reports). Answers stream
over SSE; review data is fetched through an MCP tool server during the
conversation.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
