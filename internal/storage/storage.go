package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrConversationNotFound is returned when a conversation id has no row.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrUnavailable wraps failures of the backing medium.
	ErrUnavailable = errors.New("history store unavailable")
	// ErrInvalidSender is returned for senders outside the user/bot pair.
	ErrInvalidSender = errors.New("invalid message sender")
)

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderBot
}

// Conversation is an ordered thread of messages. OwnerID is nil for
// conversations created without an identity.
type Conversation struct {
	ID        int64     `json:"id"`
	OwnerID   *int64    `json:"owner_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is immutable once stored. ID defines the order within a
// conversation; CreatedAt is informational only.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	Sender         Sender    `json:"sender"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store is an append-only, ordered log of messages keyed by conversation.
// Implementations must be safe for concurrent use across conversations.
type Store interface {
	CreateConversation(ctx context.Context, ownerID *int64) (Conversation, error)
	GetConversation(ctx context.Context, id int64) (Conversation, error)
	// ResolveConversation returns the conversation with the candidate id, or
	// allocates a new one when candidate is nil or unknown. The lookup and the
	// allocation happen in one store transaction. created reports allocation.
	ResolveConversation(ctx context.Context, candidate *int64, ownerID *int64) (conv Conversation, created bool, err error)
	// DeleteConversation removes a conversation and all of its messages.
	DeleteConversation(ctx context.Context, id int64) error
	Append(ctx context.Context, conversationID int64, sender Sender, content string) (Message, error)
	// AppendExchange stores a user message followed by a bot message. Both
	// become visible together or not at all.
	AppendExchange(ctx context.Context, conversationID int64, userContent, botContent string) (user Message, bot Message, err error)
	// ListMessages returns messages ordered by id ascending. Unknown
	// conversations yield an empty slice.
	ListMessages(ctx context.Context, conversationID int64) ([]Message, error)
	Close() error
}

// ReplySource tells how the bot side of an exchange was produced.
type ReplySource string

const (
	ReplyGenerated   ReplySource = "generated"
	ReplyPlaceholder ReplySource = "placeholder"
	ReplyFallback    ReplySource = "fallback"
)

// Event represents one committed exchange of a conversation.
// A record combines the user's message and the bot's reply.
// Events are expected to be appended in chronological order.
type Event struct {
	Timestamp         time.Time   `json:"timestamp"`
	ConversationID    int64       `json:"conversation_id"`
	UserMessage       string      `json:"user_message"`
	AssistantResponse string      `json:"assistant_response"`
	Source            ReplySource `json:"source"`
}

// Recorder abstracts the exchange log kept next to the history store.
// LoadInteractions should return events in chronological order.
// AppendInteraction should atomically append a new event.
// Implementations must be safe for concurrent use.
type Recorder interface {
	AppendInteraction(event Event) error
	LoadInteractions() ([]Event, error)
}
