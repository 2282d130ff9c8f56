// Package server exposes the HTTP API and the WebSocket live session.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"convo-chat/internal/identity"
	"convo-chat/internal/session"
	"convo-chat/internal/storage"
)

const (
	DefaultAllowedOrigin = "http://localhost:3000"

	shutdownTimeout = 5 * time.Second
)

type Conversations interface {
	CreateConversation(ctx context.Context) (int64, error)
}

type History interface {
	ListMessages(ctx context.Context, conversationID int64) ([]storage.Message, error)
}

type Sessions interface {
	Run(ctx context.Context, conn session.Conn, candidate *int64) error
}

type Deps struct {
	Conversations Conversations
	History       History
	Sessions      Sessions
	// Identities may be nil; /users/me then always answers 404.
	Identities    identity.Provider
	AllowedOrigin string
	Log           *zap.Logger
}

type Server struct {
	conversations Conversations
	history       History
	sessions      Sessions
	identities    identity.Provider
	allowedOrigin string
	log           *zap.Logger

	engine   *gin.Engine
	upgrader websocket.Upgrader

	mu      sync.Mutex
	sockets map[*wsConn]struct{}
}

func New(d Deps) *Server {
	s := &Server{
		conversations: d.Conversations,
		history:       d.History,
		sessions:      d.Sessions,
		identities:    d.Identities,
		allowedOrigin: d.AllowedOrigin,
		log:           d.Log,
		sockets:       make(map[*wsConn]struct{}),
	}
	if s.allowedOrigin == "" {
		s.allowedOrigin = DefaultAllowedOrigin
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(s.log), cors(s.allowedOrigin))
	engine.GET("/healthz", s.handleHealth)
	engine.POST("/conversations/new", s.handleNewConversation)
	engine.GET("/conversations/:id/messages", s.handleListMessages)
	engine.GET("/users/me", s.handleCurrentUser)
	engine.GET("/ws/chat", s.handleChat)
	s.engine = engine
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Run listens on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully and closes every open live session.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.CloseSockets()
	err := srv.Shutdown(shutdownCtx)
	if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) && err == nil {
		err = serveErr
	}
	return err
}

// CloseSockets closes every live session connection. Hijacked connections
// are not covered by http.Server.Shutdown.
func (s *Server) CloseSockets() {
	s.mu.Lock()
	open := make([]*wsConn, 0, len(s.sockets))
	for c := range s.sockets {
		open = append(open, c)
	}
	s.mu.Unlock()

	for _, c := range open {
		_ = c.Close()
	}
}

func (s *Server) track(c *wsConn) {
	s.mu.Lock()
	s.sockets[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	delete(s.sockets, c)
	s.mu.Unlock()
}

func (s *Server) openSockets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sockets)
}
