package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"convo-chat/internal/identity"
)

type messageView struct {
	ID      int64  `json:"id"`
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

type userView struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleNewConversation(c *gin.Context) {
	id, err := s.conversations.CreateConversation(c.Request.Context())
	if err != nil {
		s.log.Error("failed to create conversation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": id})
}

func (s *Server) handleListMessages(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id must be an integer"})
		return
	}
	msgs, err := s.history.ListMessages(c.Request.Context(), id)
	if err != nil {
		s.log.Error("failed to read history", zap.Int64("conversation_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageView{ID: m.ID, Sender: string(m.Sender), Content: m.Content})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleCurrentUser(c *gin.Context) {
	if s.identities == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "User not found"})
		return
	}
	u, err := s.identities.Current(c.Request.Context())
	if errors.Is(err, identity.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "User not found"})
		return
	}
	if err != nil {
		s.log.Error("failed to load current user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "identity unavailable"})
		return
	}
	c.JSON(http.StatusOK, userView{ID: u.ID, Name: u.Name})
}

func (s *Server) handleChat(c *gin.Context) {
	candidate := parseConversationID(c.Query("conversation_id"))

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the error response
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newWSConn(ws)
	s.track(conn)
	defer func() {
		s.untrack(conn)
		_ = conn.Close()
	}()

	if err := s.sessions.Run(c.Request.Context(), conn, candidate); err != nil {
		s.log.Error("live session ended with error", zap.Error(err))
	}
}

// parseConversationID treats a missing or malformed id as absent.
func parseConversationID(raw string) *int64 {
	if raw == "" {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}
