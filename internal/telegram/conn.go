package telegram

import (
	"context"
	"errors"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"convo-chat/internal/session"
)

const inboxSize = 16

var errInboxFull = errors.New("chat inbox is full")

// sender is the slice of the Bot API the transport needs.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type botAPISender struct{ api *tgbotapi.BotAPI }

func (s botAPISender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return s.api.Send(c)
}

// chatConn is a session.Conn fed by the update dispatcher. Closing it ends
// the chat's session the way a socket close ends a WebSocket session.
type chatConn struct {
	chatID int64
	s      sender

	inbox     chan string
	closeOnce sync.Once
	done      chan struct{}
}

func newChatConn(chatID int64, s sender) *chatConn {
	return &chatConn{
		chatID: chatID,
		s:      s,
		inbox:  make(chan string, inboxSize),
		done:   make(chan struct{}),
	}
}

func (c *chatConn) push(text string) error {
	select {
	case <-c.done:
		return session.ErrDisconnected
	default:
	}
	select {
	case c.inbox <- text:
		return nil
	default:
		return errInboxFull
	}
}

// ReadText hands out queued frames before reporting the close, so messages
// accepted before /new still get a reply.
func (c *chatConn) ReadText(ctx context.Context) (string, error) {
	select {
	case text := <-c.inbox:
		return text, nil
	default:
	}
	select {
	case text := <-c.inbox:
		return text, nil
	case <-c.done:
		return "", session.ErrDisconnected
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *chatConn) WriteText(_ context.Context, text string) error {
	_, err := c.s.Send(tgbotapi.NewMessage(c.chatID, text))
	return err
}

func (c *chatConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}
