package main

import (
	"github.com/spf13/cobra"

	"convo-chat/internal/mcptools"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve conversation tools over MCP stdio",
	Long: `Serve create_conversation and list_messages as MCP tools on stdin/stdout.

Logs go to stderr so they never mix with the protocol stream.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		return mcptools.New(a.registry, a.store, a.log.Named("mcp")).Serve(cmd.Context())
	},
}
