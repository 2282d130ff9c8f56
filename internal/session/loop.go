package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"convo-chat/internal/llm"
	"convo-chat/internal/reply"
	"convo-chat/internal/storage"
)

const (
	DefaultSystemPrompt = "You are a helpful assistant."

	// commitTimeout bounds the final write of a turn, which runs even when
	// the connection context is already gone.
	commitTimeout = 10 * time.Second
)

// Resolver binds a connection to a conversation id.
type Resolver interface {
	Resolve(ctx context.Context, candidate *int64) (int64, error)
}

// Loop drives live sessions. One Loop serves any number of connections; it
// holds only read-only collaborators, all per-connection state lives in Serve.
type Loop struct {
	resolver     Resolver
	store        storage.Store
	source       reply.Source
	recorder     storage.Recorder
	systemPrompt string
	window       int
	log          *zap.Logger
}

type Option func(*Loop)

// WithRecorder logs every committed exchange to r.
func WithRecorder(r storage.Recorder) Option {
	return func(l *Loop) { l.recorder = r }
}

func WithSystemPrompt(prompt string) Option {
	return func(l *Loop) {
		if prompt != "" {
			l.systemPrompt = prompt
		}
	}
}

// WithContextWindow limits the history sent to the backend to the most
// recent n messages. Zero sends everything.
func WithContextWindow(n int) Option {
	return func(l *Loop) { l.window = n }
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Loop) {
		if log != nil {
			l.log = log
		}
	}
}

func NewLoop(resolver Resolver, store storage.Store, source reply.Source, opts ...Option) *Loop {
	l := &Loop{
		resolver:     resolver,
		store:        store,
		source:       source,
		systemPrompt: DefaultSystemPrompt,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run binds conn to a conversation and serves it until the peer disconnects.
// It returns nil on disconnect and the fault otherwise; conn is closed on
// every fault.
func (l *Loop) Run(ctx context.Context, conn Conn, candidate *int64) error {
	conversationID, err := l.Bind(ctx, candidate)
	if err != nil {
		l.log.Error("failed to bind session", zap.Error(err))
		closeOnFault(conn, err)
		return err
	}
	return l.Serve(ctx, conn, conversationID)
}

// Bind resolves the conversation for a new connection. Called once per
// connection.
func (l *Loop) Bind(ctx context.Context, candidate *int64) (int64, error) {
	return l.resolver.Resolve(ctx, candidate)
}

// Serve processes frames for an already bound conversation.
func (l *Loop) Serve(ctx context.Context, conn Conn, conversationID int64) error {
	s := &live{
		loop:           l,
		conn:           conn,
		conversationID: conversationID,
		state:          Connecting,
	}
	s.log = l.log.With(
		zap.String("session_id", uuid.NewString()),
		zap.Int64("conversation_id", conversationID),
	)
	s.setState(Bound)
	return s.serve(ctx)
}

// live is the state of one connection.
type live struct {
	loop           *Loop
	conn           Conn
	conversationID int64
	state          State
	log            *zap.Logger
}

func (s *live) setState(next State) {
	s.log.Debug("session state", zap.Stringer("from", s.state), zap.Stringer("to", next))
	s.state = next
}

func (s *live) serve(ctx context.Context) error {
	for {
		s.setState(AwaitingInput)
		raw, err := s.conn.ReadText(ctx)
		if err != nil {
			if errors.Is(err, ErrDisconnected) {
				s.log.Info("client disconnected")
				s.setState(Closed)
				return nil
			}
			if ctx.Err() != nil {
				s.log.Info("session cancelled", zap.Error(ctx.Err()))
				s.setState(Closed)
				_ = s.conn.Close()
				return nil
			}
			return s.fail(fmt.Errorf("receive frame: %w", err))
		}

		text := strings.TrimSpace(raw)
		if text == "" {
			s.log.Debug("empty text, ignoring")
			continue
		}

		s.setState(Processing)
		r, err := s.processTurn(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				s.log.Info("session cancelled mid-turn", zap.Error(err))
				s.setState(Closed)
				_ = s.conn.Close()
				return nil
			}
			return s.fail(err)
		}

		if err := s.conn.WriteText(ctx, r.Text); err != nil {
			if errors.Is(err, ErrDisconnected) || ctx.Err() != nil {
				s.log.Info("client gone before reply was delivered")
				s.setState(Closed)
				_ = s.conn.Close()
				return nil
			}
			return s.fail(fmt.Errorf("send reply: %w", err))
		}
	}
}

func (s *live) processTurn(ctx context.Context, text string) (reply.Reply, error) {
	s.log.Debug("received user message", zap.Int("length", len(text)))

	uow, err := begin(ctx, s.loop.store, s.conversationID, text)
	if err != nil {
		return reply.Reply{}, err
	}
	defer func() {
		if uow.release() {
			s.log.Warn("turn abandoned before commit, nothing persisted")
		}
	}()

	turns := s.loop.buildTurns(uow.history())
	r := s.loop.source.Reply(ctx, turns)
	if err := ctx.Err(); err != nil {
		// a reply produced while shutting down is not a backend answer
		return reply.Reply{}, fmt.Errorf("turn interrupted: %w", err)
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	user, bot, err := uow.commit(commitCtx, r.Text)
	if err != nil {
		return reply.Reply{}, err
	}

	s.log.Debug("turn committed",
		zap.Int64("user_message_id", user.ID),
		zap.Int64("bot_message_id", bot.ID),
		zap.String("reply_source", string(r.Source)))
	s.record(text, r)
	return r, nil
}

func (s *live) record(userText string, r reply.Reply) {
	if s.loop.recorder == nil {
		return
	}
	ev := storage.Event{
		Timestamp:         time.Now().UTC(),
		ConversationID:    s.conversationID,
		UserMessage:       userText,
		AssistantResponse: r.Text,
		Source:            r.Source,
	}
	if err := s.loop.recorder.AppendInteraction(ev); err != nil {
		s.log.Warn("failed to record exchange", zap.Error(err))
	}
}

func (s *live) fail(err error) error {
	s.log.Error("unhandled fault in session loop, closing connection", zap.Error(err))
	s.setState(Closed)
	closeOnFault(s.conn, err)
	return err
}

// buildTurns maps history onto backend turns behind the fixed instruction.
// Only the most recent window messages are kept.
func (l *Loop) buildTurns(history []storage.Message) []llm.Message {
	if l.window > 0 && len(history) > l.window {
		history = history[len(history)-l.window:]
	}
	turns := make([]llm.Message, 0, len(history)+1)
	turns = append(turns, llm.Message{Role: llm.RoleSystem, Content: l.systemPrompt})
	for _, m := range history {
		role := llm.RoleAssistant
		if m.Sender == storage.SenderUser {
			role = llm.RoleUser
		}
		turns = append(turns, llm.Message{Role: role, Content: m.Content})
	}
	return turns
}
