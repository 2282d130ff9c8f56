// Package telegram runs live sessions over a Telegram bot. Each chat gets its
// own session loop; the chat remembers its conversation until /new.
package telegram

import (
	"context"
	"errors"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"convo-chat/internal/session"
)

const (
	cmdStart = "start"
	cmdNew   = "new"

	greeting   = "Hi! Send me a message to start chatting. Use /new to start a new conversation."
	newStarted = "Started a new conversation."
	busyReply  = "Still working on your previous messages, please wait."
	faultReply = "Something went wrong. Send a message to try again."
	denyReply  = "This bot is private."
)

// Gate admits chats. A nil Gate admits every chat.
type Gate interface {
	IsAllowed(chatID int64) bool
}

// Sessions binds and serves one conversation per chat.
type Sessions interface {
	Bind(ctx context.Context, candidate *int64) (int64, error)
	Serve(ctx context.Context, conn session.Conn, conversationID int64) error
}

type Bot struct {
	api      *tgbotapi.BotAPI
	s        sender
	sessions Sessions
	gate     Gate
	log      *zap.Logger

	mu       sync.Mutex
	chats    map[int64]*chatConn
	bindings map[int64]int64
	wg       sync.WaitGroup
}

func New(botToken string, sessions Sessions, gate Gate, log *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	b := newBot(botAPISender{api: api}, sessions, gate, log)
	b.api = api
	return b, nil
}

func newBot(s sender, sessions Sessions, gate Gate, log *zap.Logger) *Bot {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bot{
		s:        s,
		sessions: sessions,
		gate:     gate,
		log:      log,
		chats:    make(map[int64]*chatConn),
		bindings: make(map[int64]int64),
	}
}

// Run long-polls the Bot API until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if b.api == nil {
		return errors.New("telegram: bot api not initialised")
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	b.log.Info("telegram bot started", zap.String("username", b.api.Self.UserName))
	return b.Start(ctx, updates)
}

// Start dispatches updates until ctx is cancelled or updates is closed, then
// ends every chat session and waits for them.
func (b *Bot) Start(ctx context.Context, updates <-chan tgbotapi.Update) error {
	defer b.shutdown()
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message != nil {
				b.handleIncomingMessage(ctx, update.Message)
			}
		}
	}
}

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Chat == nil {
		return
	}
	chatID := msg.Chat.ID

	if b.gate != nil && !b.gate.IsAllowed(chatID) {
		b.log.Warn("message from chat outside the allowlist", zap.Int64("chat_id", chatID))
		b.sendMessage(chatID, denyReply)
		return
	}

	if msg.IsCommand() {
		switch msg.Command() {
		case cmdStart:
			b.sendMessage(chatID, greeting)
		case cmdNew:
			b.endChat(chatID)
			b.sendMessage(chatID, newStarted)
		default:
			b.log.Debug("ignoring unknown command", zap.Int64("chat_id", chatID), zap.String("command", msg.Command()))
		}
		return
	}

	if msg.Text == "" {
		b.log.Debug("ignoring non-text message", zap.Int64("chat_id", chatID))
		return
	}

	err := b.chatFor(ctx, chatID).push(msg.Text)
	if errors.Is(err, session.ErrDisconnected) {
		// the session ended between lookup and push
		err = b.chatFor(ctx, chatID).push(msg.Text)
	}
	switch {
	case errors.Is(err, errInboxFull):
		b.sendMessage(chatID, busyReply)
	case err != nil:
		b.log.Warn("dropped message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// chatFor returns the chat's live connection, starting a session if needed.
func (b *Bot) chatFor(ctx context.Context, chatID int64) *chatConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.chats[chatID]; ok {
		return c
	}

	c := newChatConn(chatID, b.s)
	b.chats[chatID] = c
	var candidate *int64
	if id, ok := b.bindings[chatID]; ok {
		candidate = &id
	}

	b.wg.Add(1)
	go b.serveChat(ctx, c, candidate)
	return c
}

func (b *Bot) serveChat(ctx context.Context, c *chatConn, candidate *int64) {
	defer b.wg.Done()
	defer b.release(c)
	log := b.log.With(zap.Int64("chat_id", c.chatID))

	conversationID, err := b.sessions.Bind(ctx, candidate)
	if err != nil {
		log.Error("failed to bind chat to a conversation", zap.Error(err))
		_ = c.Close()
		b.sendMessage(c.chatID, faultReply)
		return
	}
	b.remember(c, conversationID)
	log.Debug("chat bound", zap.Int64("conversation_id", conversationID))

	if err := b.sessions.Serve(ctx, c, conversationID); err != nil {
		log.Error("chat session ended with error", zap.Error(err))
		b.sendMessage(c.chatID, faultReply)
	}
}

func (b *Bot) remember(c *chatConn, conversationID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.chats[c.chatID] == c {
		b.bindings[c.chatID] = conversationID
	}
}

func (b *Bot) release(c *chatConn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.chats[c.chatID] == c {
		delete(b.chats, c.chatID)
	}
}

// endChat closes the chat's session and forgets its conversation.
func (b *Bot) endChat(chatID int64) {
	b.mu.Lock()
	c, ok := b.chats[chatID]
	delete(b.chats, chatID)
	delete(b.bindings, chatID)
	b.mu.Unlock()
	if ok {
		_ = c.Close()
	}
}

func (b *Bot) shutdown() {
	b.mu.Lock()
	open := make([]*chatConn, 0, len(b.chats))
	for _, c := range b.chats {
		open = append(open, c)
	}
	b.mu.Unlock()
	for _, c := range open {
		_ = c.Close()
	}
	b.wg.Wait()
}

func (b *Bot) sendMessage(chatID int64, text string) {
	if _, err := b.s.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.log.Warn("failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
