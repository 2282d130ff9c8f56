package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"convo-chat/internal/mcptools"
)

var messagesJSON bool

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Print the history of one conversation",
	Args:  cobra.ExactArgs(1),
	RunE:  runMessages,
}

func init() {
	messagesCmd.Flags().BoolVar(&messagesJSON, "json", false, "print the same JSON the HTTP API returns")
}

type messageJSON struct {
	ID      int64  `json:"id"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

func runMessages(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("conversation id must be an integer: %q", args[0])
	}

	a, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	msgs, err := a.store.ListMessages(cmd.Context(), id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !messagesJSON {
		_, err = fmt.Fprint(out, mcptools.FormatTranscript(id, msgs))
		return err
	}

	view := make([]messageJSON, 0, len(msgs))
	for _, m := range msgs {
		view = append(view, messageJSON{ID: m.ID, Sender: string(m.Sender), Content: m.Content})
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}
