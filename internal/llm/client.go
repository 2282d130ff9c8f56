package llm

import (
	"context"
	"errors"
)

// ErrBackend wraps every failure of a completion call: transport, auth or a
// malformed response.
var ErrBackend = errors.New("completion backend error")

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Options bound a single generation. Zero MaxTokens leaves the provider default.
type Options struct {
	MaxTokens   int
	Temperature float32
}

type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client makes exactly one attempt per call; retries belong to callers.
type Client interface {
	Generate(ctx context.Context, messages []Message, opts Options) (Response, error)
}
