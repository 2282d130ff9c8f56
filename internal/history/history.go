// Package history is the in-memory history store. Contents live for the
// process lifetime only.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"convo-chat/internal/storage"
)

type conversation struct {
	meta     storage.Conversation
	messages []storage.Message
}

type Manager struct {
	mu            sync.RWMutex
	conversations map[int64]*conversation
	lastConvID    int64
	lastMsgID     int64
}

var _ storage.Store = (*Manager)(nil)

func NewManager() *Manager {
	return &Manager{conversations: make(map[int64]*conversation)}
}

func (m *Manager) CreateConversation(_ context.Context, ownerID *int64) (storage.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(ownerID), nil
}

func (m *Manager) GetConversation(_ context.Context, id int64) (storage.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok {
		return storage.Conversation{}, storage.ErrConversationNotFound
	}
	return c.meta, nil
}

func (m *Manager) ResolveConversation(_ context.Context, candidate *int64, ownerID *int64) (storage.Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if candidate != nil {
		if c, ok := m.conversations[*candidate]; ok {
			return c.meta, false, nil
		}
	}
	return m.createLocked(ownerID), true, nil
}

func (m *Manager) DeleteConversation(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[id]; !ok {
		return storage.ErrConversationNotFound
	}
	delete(m.conversations, id)
	return nil
}

func (m *Manager) Append(_ context.Context, conversationID int64, sender storage.Sender, content string) (storage.Message, error) {
	if !sender.Valid() {
		return storage.Message{}, fmt.Errorf("%w: %q", storage.ErrInvalidSender, sender)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return storage.Message{}, storage.ErrConversationNotFound
	}
	return m.appendLocked(c, sender, content), nil
}

func (m *Manager) AppendExchange(_ context.Context, conversationID int64, userContent, botContent string) (storage.Message, storage.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return storage.Message{}, storage.Message{}, storage.ErrConversationNotFound
	}
	user := m.appendLocked(c, storage.SenderUser, userContent)
	bot := m.appendLocked(c, storage.SenderBot, botContent)
	return user, bot, nil
}

// ListMessages returns a copy; callers may modify it freely.
func (m *Manager) ListMessages(_ context.Context, conversationID int64) ([]storage.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[conversationID]
	if !ok {
		return []storage.Message{}, nil
	}
	out := make([]storage.Message, len(c.messages))
	copy(out, c.messages)
	return out, nil
}

func (m *Manager) Close() error { return nil }

func (m *Manager) createLocked(ownerID *int64) storage.Conversation {
	m.lastConvID++
	meta := storage.Conversation{ID: m.lastConvID, CreatedAt: time.Now().UTC()}
	if ownerID != nil {
		o := *ownerID
		meta.OwnerID = &o
	}
	m.conversations[meta.ID] = &conversation{meta: meta}
	return meta
}

func (m *Manager) appendLocked(c *conversation, sender storage.Sender, content string) storage.Message {
	m.lastMsgID++
	msg := storage.Message{
		ID:             m.lastMsgID,
		ConversationID: c.meta.ID,
		Sender:         sender,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	c.messages = append(c.messages, msg)
	return msg
}
