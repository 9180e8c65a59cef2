package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/cadenzalab/ensemble-backend/internal/protocol"
)

// Close codes in the private 4000 range let peers tell disconnect causes
// apart: an ordinary drop notifies "went offline", a replacement or removal
// or session deletion must not.
const (
	CloseReplaced       = 4000 // superseded by a newer connection for the same participant
	CloseRemoved        = 4001 // membership revoked; peers see "participant removed"
	CloseSessionDeleted = 4002 // the whole session is gone; suppress all peer notices
)

var (
	ErrConnClosed   = errors.New("ws: connection closed")
	ErrSlowConsumer = errors.New("ws: send buffer full")
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
)

// Connection is the transport the core consumes: Send fails instead of
// blocking, Close carries a code and reason peers can distinguish.
type Connection interface {
	// ID is unique per connection, so a stale close for a participant can be
	// told apart from the participant's live replacement connection.
	ID() string
	UserID() string
	Send(env *protocol.Envelope) error
	Close(code int, reason string)
}

// Conn wraps one gorilla websocket with a buffered outbound channel drained
// by a single write pump goroutine.
type Conn struct {
	id        string
	sessionID string
	userID    string
	sock      *websocket.Conn
	send      chan []byte
	logger    zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewConn wraps an upgraded websocket. Call Run to start the write pump.
func NewConn(sessionID, userID string, sock *websocket.Conn, logger zerolog.Logger) *Conn {
	id := ulid.Make().String()
	return &Conn{
		id:        id,
		sessionID: sessionID,
		userID:    userID,
		sock:      sock,
		send:      make(chan []byte, sendBufferSize),
		logger:    logger.With().Str("conn", id).Str("session", sessionID).Str("user", userID).Logger(),
	}
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.userID }

// Send queues an envelope for the write pump. A full buffer or a closed
// connection returns an error; callers close the connection on failure
// rather than retrying.
func (c *Conn) Send(env *protocol.Envelope) error {
	raw, err := env.Encode()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- raw:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close sends a close frame with the given code and reason, then tears the
// socket down. Safe to call more than once.
func (c *Conn) Close(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.sock.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		c.logger.Debug().Err(err).Msg("write close frame")
	}
	if err := c.sock.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("close socket")
	}
	c.logger.Info().Int("code", code).Str("reason", reason).Msg("connection closed")
}

// Run drains the send channel to the socket until the connection closes.
// A write error tears down only this connection.
func (c *Conn) Run() {
	for raw := range c.send {
		c.sock.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.sock.WriteMessage(websocket.TextMessage, raw); err != nil {
			c.logger.Warn().Err(err).Msg("websocket write failed")
			c.Close(websocket.CloseInternalServerErr, "write failed")
			return
		}
	}
}

// Next blocks for the next inbound frame; the caller owns the read loop.
func (c *Conn) Next() ([]byte, error) {
	_, raw, err := c.sock.ReadMessage()
	return raw, err
}
