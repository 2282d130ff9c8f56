package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "chatter",
	Short: "Conversational session manager",
	Long: `chatter keeps persistent conversations between a user and a completion
backend. Conversations are served over HTTP/WebSocket and, optionally,
a Telegram bot.

Available subcommands:
  serve    - Run the HTTP API, live sessions and background jobs
  messages - Print the history of one conversation
  mcp      - Serve conversation tools over MCP stdio`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, messagesCmd, mcpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
