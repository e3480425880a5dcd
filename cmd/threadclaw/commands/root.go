// Package commands implements the threadclaw CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "threadclaw",
		Short: "ThreadClaw - chat thread orchestrator for external agents",
		Long: `ThreadClaw bridges chat platforms (Slack, Discord) to an external
agent subprocess. Incoming messages, mentions, and thread replies are
aggregated into conversation contexts and handed to the agent, whose
replies are posted back into the originating thread.

Examples:
  threadclaw serve
  threadclaw serve --channel slack
  threadclaw chat
  threadclaw config init`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newChatCmd(),
		newConfigCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
