package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"convo-chat/internal/session"
)

const (
	writeWait = 10 * time.Second
	// Largest inbound frame accepted from a client.
	maxFrameSize = 64 << 10
)

// wsConn adapts a gorilla connection to session.Conn.
type wsConn struct {
	ws *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(ws *websocket.Conn) *wsConn {
	ws.SetReadLimit(maxFrameSize)
	return &wsConn{ws: ws}
}

// ReadText returns the next text frame. Binary frames are skipped.
func (c *wsConn) ReadText(ctx context.Context) (string, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", mapConnErr(err)
		}
		if kind == websocket.TextMessage {
			return string(data), nil
		}
	}
}

func (c *wsConn) WriteText(_ context.Context, text string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return mapConnErr(err)
	}
	return nil
}

// Close sends a normal close frame when possible and releases the socket.
func (c *wsConn) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "")
}

// CloseWithError ends the session abnormally: 1009 for an oversized frame,
// 1011 for any other server fault. The fault itself is not sent to the peer.
func (c *wsConn) CloseWithError(err error) error {
	if errors.Is(err, websocket.ErrReadLimit) {
		return c.closeWith(websocket.CloseMessageTooBig, "message too big")
	}
	return c.closeWith(websocket.CloseInternalServerErr, "internal error")
}

func (c *wsConn) closeWith(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func mapConnErr(err error) error {
	var closeErr *websocket.CloseError
	switch {
	case errors.As(err, &closeErr),
		errors.Is(err, websocket.ErrCloseSent),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return session.ErrDisconnected
	}
	return err
}
