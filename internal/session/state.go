package session

import (
	"context"
	"errors"
)

// ErrDisconnected is returned by a Conn when the peer closed the connection
// cleanly. The loop treats it as normal termination.
var ErrDisconnected = errors.New("connection closed by peer")

// Conn is one live text channel. Transports below this interface handle
// framing; one ReadText is one inbound frame, one WriteText one outbound frame.
type Conn interface {
	ReadText(ctx context.Context) (string, error)
	WriteText(ctx context.Context, text string) error
	Close() error
}

// FaultCloser is implemented by transports that can tell the peer the
// session ended on a server fault rather than normally.
type FaultCloser interface {
	CloseWithError(err error) error
}

// closeOnFault ends conn with err when the transport supports it.
func closeOnFault(conn Conn, err error) {
	if fc, ok := conn.(FaultCloser); ok {
		_ = fc.CloseWithError(err)
		return
	}
	_ = conn.Close()
}

// State of one live session.
type State int

const (
	Connecting State = iota
	Bound
	AwaitingInput
	Processing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Bound:
		return "bound"
	case AwaitingInput:
		return "awaiting_input"
	case Processing:
		return "processing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}
