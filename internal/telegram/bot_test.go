package telegram

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"convo-chat/internal/auth"
	"convo-chat/internal/history"
	"convo-chat/internal/llm"
	"convo-chat/internal/registry"
	"convo-chat/internal/reply"
	"convo-chat/internal/session"
	"convo-chat/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sentMessage struct {
	chatID int64
	text   string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	mc := c.(tgbotapi.MessageConfig)
	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{chatID: mc.ChatID, text: mc.Text})
	f.mu.Unlock()
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSender) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func textUpdate(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}, Text: text}}
}

func commandUpdate(chatID int64, cmd string) tgbotapi.Update {
	text := "/" + cmd
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
	}}
}

type harness struct {
	store   *history.Manager
	fs      *fakeSender
	updates chan tgbotapi.Update
	cancel  context.CancelFunc
	done    chan error
}

func startBot(t *testing.T) *harness {
	t.Helper()
	return startGatedBot(t, nil)
}

func startGatedBot(t *testing.T, gate Gate) *harness {
	t.Helper()
	return startBotWith(t, reply.NewUnconfigured([]string{"pong"}, nil), gate)
}

func startBotWith(t *testing.T, source reply.Source, gate Gate) *harness {
	t.Helper()
	store := history.NewManager()
	loop := session.NewLoop(registry.New(store, nil, nil), store, source)
	fs := &fakeSender{}
	b := newBot(fs, loop, gate, nil)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{store: store, fs: fs, updates: make(chan tgbotapi.Update), cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- b.Start(ctx, h.updates) }()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.done
}

func (h *harness) waitSent(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.fs.count() >= n }, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) history(t *testing.T, id int64) []storage.Message {
	t.Helper()
	msgs, err := h.store.ListMessages(context.Background(), id)
	require.NoError(t, err)
	return msgs
}

func TestBot_RepliesAndPersists(t *testing.T) {
	h := startBot(t)
	h.updates <- textUpdate(10, "ping")
	h.waitSent(t, 1)

	assert.Equal(t, []sentMessage{{chatID: 10, text: "pong"}}, h.fs.messages())
	msgs := h.history(t, 1)
	require.Len(t, msgs, 2)
	assert.Equal(t, "ping", msgs[0].Content)
	assert.Equal(t, "pong", msgs[1].Content)
}

func TestBot_ChatKeepsConversation(t *testing.T) {
	h := startBot(t)
	h.updates <- textUpdate(10, "one")
	h.waitSent(t, 1)
	h.updates <- textUpdate(10, "two")
	h.waitSent(t, 2)

	assert.Len(t, h.history(t, 1), 4)
	assert.Empty(t, h.history(t, 2))
}

func TestBot_NewCommandStartsFreshConversation(t *testing.T) {
	h := startBot(t)
	h.updates <- textUpdate(10, "one")
	h.waitSent(t, 1)

	h.updates <- commandUpdate(10, "new")
	h.waitSent(t, 2)
	assert.Equal(t, newStarted, h.fs.messages()[1].text)

	h.updates <- textUpdate(10, "two")
	h.waitSent(t, 3)

	assert.Len(t, h.history(t, 1), 2)
	second := h.history(t, 2)
	require.Len(t, second, 2)
	assert.Equal(t, "two", second[0].Content)
}

func TestBot_ChatsAreIsolated(t *testing.T) {
	h := startBot(t)
	h.updates <- textUpdate(10, "from ten")
	h.waitSent(t, 1)
	h.updates <- textUpdate(20, "from twenty")
	h.waitSent(t, 2)

	assert.Equal(t, "from ten", h.history(t, 1)[0].Content)
	assert.Equal(t, "from twenty", h.history(t, 2)[0].Content)
}

func TestBot_StartCommandGreets(t *testing.T) {
	h := startBot(t)
	h.updates <- commandUpdate(5, "start")
	h.waitSent(t, 1)
	assert.Equal(t, []sentMessage{{chatID: 5, text: greeting}}, h.fs.messages())
}

func TestBot_IgnoresNonText(t *testing.T) {
	h := startBot(t)
	h.updates <- tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 5}}}
	h.updates <- commandUpdate(5, "start")
	h.waitSent(t, 1)
	assert.Len(t, h.fs.messages(), 1)
}

// heldSource holds its first reply until release is closed.
type heldSource struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (s *heldSource) Reply(_ context.Context, turns []llm.Message) reply.Reply {
	s.once.Do(func() {
		close(s.started)
		<-s.release
	})
	return reply.Reply{Text: "re: " + turns[len(turns)-1].Content, Source: storage.ReplyGenerated}
}

func TestBot_NewCommandKeepsQueuedMessages(t *testing.T) {
	src := &heldSource{started: make(chan struct{}), release: make(chan struct{})}
	h := startBotWith(t, src, nil)

	h.updates <- textUpdate(10, "first")
	<-src.started
	h.updates <- textUpdate(10, "second")
	h.updates <- commandUpdate(10, "new")
	h.waitSent(t, 1)
	close(src.release)
	h.waitSent(t, 3)

	assert.ElementsMatch(t, []sentMessage{
		{chatID: 10, text: newStarted},
		{chatID: 10, text: "re: first"},
		{chatID: 10, text: "re: second"},
	}, h.fs.messages())

	msgs := h.history(t, 1)
	require.Len(t, msgs, 4)
	assert.Equal(t, "second", msgs[2].Content)
	assert.Equal(t, "re: second", msgs[3].Content)
}

func TestChatConn_DrainsInboxBeforeClose(t *testing.T) {
	c := newChatConn(1, &fakeSender{})
	require.NoError(t, c.push("queued"))
	require.NoError(t, c.Close())

	got, err := c.ReadText(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "queued", got)

	_, err = c.ReadText(context.Background())
	assert.ErrorIs(t, err, session.ErrDisconnected)
}

func TestChatConn_ClosedInbox(t *testing.T) {
	c := newChatConn(1, &fakeSender{})
	require.NoError(t, c.push("queued"))
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.push("late"), session.ErrDisconnected)
}

func TestChatConn_InboxFull(t *testing.T) {
	c := newChatConn(1, &fakeSender{})
	for i := 0; i < inboxSize; i++ {
		require.NoError(t, c.push("x"))
	}
	assert.ErrorIs(t, c.push("overflow"), errInboxFull)
}

func TestBot_AllowlistRejectsOtherChats(t *testing.T) {
	h := startGatedBot(t, auth.NewAllowlist([]int64{10}))
	h.updates <- textUpdate(99, "let me in")
	h.waitSent(t, 1)
	assert.Equal(t, []sentMessage{{chatID: 99, text: denyReply}}, h.fs.messages())
	assert.Empty(t, h.history(t, 1))

	h.updates <- textUpdate(10, "ping")
	h.waitSent(t, 2)
	assert.Len(t, h.history(t, 1), 2)
}
