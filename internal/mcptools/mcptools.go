// Package mcptools exposes conversation history as MCP tools.
package mcptools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"convo-chat/internal/storage"
)

const (
	ServerName    = "convo-chat"
	ServerVersion = "1.0.0"
)

type CreateConversationParams struct{}

type ListMessagesParams struct {
	ConversationID int64 `json:"conversation_id" mcp:"id of the conversation to read"`
	Limit          int   `json:"limit,omitempty" mcp:"return only the most recent N messages (default: all)"`
}

type Conversations interface {
	CreateConversation(ctx context.Context) (int64, error)
}

type History interface {
	ListMessages(ctx context.Context, conversationID int64) ([]storage.Message, error)
}

type Tools struct {
	conversations Conversations
	history       History
	log           *zap.Logger
}

func New(conversations Conversations, history History, log *zap.Logger) *Tools {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tools{conversations: conversations, history: history, log: log}
}

// NewServer returns an MCP server with every tool registered.
func (t *Tools) NewServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: ServerVersion,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_conversation",
		Description: "Start a new, empty conversation and return its id",
	}, t.CreateConversation)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_messages",
		Description: "List the messages of a conversation in order; unknown ids yield an empty list",
	}, t.ListMessages)

	return server
}

// Serve runs the tools over stdio until the client disconnects or ctx ends.
func (t *Tools) Serve(ctx context.Context) error {
	t.log.Info("mcp server starting on stdio")
	return t.NewServer().Run(ctx, mcp.NewStdioTransport())
}

func (t *Tools) CreateConversation(ctx context.Context, _ *mcp.ServerSession, _ *mcp.CallToolParamsFor[CreateConversationParams]) (*mcp.CallToolResultFor[any], error) {
	id, err := t.conversations.CreateConversation(ctx)
	if err != nil {
		t.log.Error("mcp create_conversation failed", zap.Error(err))
		return errorResult(fmt.Sprintf("failed to create conversation: %v", err)), nil
	}
	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("created conversation %d", id)},
		},
	}, nil
}

func (t *Tools) ListMessages(ctx context.Context, _ *mcp.ServerSession, params *mcp.CallToolParamsFor[ListMessagesParams]) (*mcp.CallToolResultFor[any], error) {
	args := params.Arguments
	if args.Limit < 0 {
		return errorResult("limit must not be negative"), nil
	}

	msgs, err := t.history.ListMessages(ctx, args.ConversationID)
	if err != nil {
		t.log.Error("mcp list_messages failed", zap.Int64("conversation_id", args.ConversationID), zap.Error(err))
		return errorResult(fmt.Sprintf("failed to read conversation %d: %v", args.ConversationID, err)), nil
	}
	if args.Limit > 0 && len(msgs) > args.Limit {
		msgs = msgs[len(msgs)-args.Limit:]
	}

	return &mcp.CallToolResultFor[any]{
		Content: []mcp.Content{
			&mcp.TextContent{Text: FormatTranscript(args.ConversationID, msgs)},
		},
	}, nil
}

// FormatTranscript renders messages one per line as "[id] sender: content".
func FormatTranscript(conversationID int64, msgs []storage.Message) string {
	if len(msgs) == 0 {
		return fmt.Sprintf("conversation %d has no messages", conversationID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "conversation %d (%d messages)\n", conversationID, len(msgs))
	for _, m := range msgs {
		fmt.Fprintf(&b, "[%d] %s: %s\n", m.ID, m.Sender, m.Content)
	}
	return b.String()
}

func errorResult(text string) *mcp.CallToolResultFor[any] {
	return &mcp.CallToolResultFor[any]{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
