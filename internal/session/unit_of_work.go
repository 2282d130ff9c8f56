package session

import (
	"context"
	"errors"
	"fmt"

	"convo-chat/internal/storage"
)

var errTurnClosed = errors.New("turn already committed or released")

// unitOfWork owns one turn. The user message is staged in memory until the
// reply is known, then both messages are written with a single
// AppendExchange. A turn released without commit leaves no trace in the store.
type unitOfWork struct {
	store          storage.Store
	conversationID int64
	userText       string
	committed      []storage.Message
	done           bool
}

func begin(ctx context.Context, store storage.Store, conversationID int64, userText string) (*unitOfWork, error) {
	committed, err := store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return &unitOfWork{
		store:          store,
		conversationID: conversationID,
		userText:       userText,
		committed:      committed,
	}, nil
}

// history is the committed history followed by the staged user message.
func (u *unitOfWork) history() []storage.Message {
	out := make([]storage.Message, 0, len(u.committed)+1)
	out = append(out, u.committed...)
	return append(out, storage.Message{
		ConversationID: u.conversationID,
		Sender:         storage.SenderUser,
		Content:        u.userText,
	})
}

func (u *unitOfWork) commit(ctx context.Context, botText string) (storage.Message, storage.Message, error) {
	if u.done {
		return storage.Message{}, storage.Message{}, errTurnClosed
	}
	u.done = true
	user, bot, err := u.store.AppendExchange(ctx, u.conversationID, u.userText, botText)
	if err != nil {
		return storage.Message{}, storage.Message{}, fmt.Errorf("persist turn: %w", err)
	}
	return user, bot, nil
}

// release reports whether the turn was abandoned without commit.
func (u *unitOfWork) release() bool {
	abandoned := !u.done
	u.done = true
	return abandoned
}
