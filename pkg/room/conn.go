// Package room tracks live participant connections on this process and
// coordinates room membership. The Coordinator interface is implemented
// twice: LocalCoordinator here for single-node deployments, and the
// clustered coordinator in pkg/cluster.
package room

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-signaling/pkg/auth"
	"github.com/dd0wney/cluso-signaling/pkg/messages"
)

// DefaultSendBuffer is the per-connection outbound queue depth.
const DefaultSendBuffer = 64

// Conn is a live client connection owned by this process. The outbound
// channel is drained by the connection's writer goroutine; Send never blocks.
type Conn struct {
	UserID      uint32
	Username    string
	ID          uuid.UUID
	ConnectedAt time.Time

	mu     sync.Mutex
	room   string
	send   chan *messages.ServerMessage
	closed bool
}

// NewConn creates a connection record for an authenticated user.
func NewConn(user auth.User, buffer int) *Conn {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Conn{
		UserID:      user.ID,
		Username:    user.Username,
		ID:          uuid.New(),
		ConnectedAt: time.Now().UTC(),
		send:        make(chan *messages.ServerMessage, buffer),
	}
}

// Send queues a message for delivery. It never blocks: a full queue returns
// ErrDeliveryFailed and the caller decides whether to surface that to the
// sender (renegotiation retries at the application layer).
func (c *Conn) Send(msg *messages.ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrDeliveryFailed
	}
}

// Outbound returns the channel drained by the connection's writer goroutine.
func (c *Conn) Outbound() <-chan *messages.ServerMessage {
	return c.send
}

// Close shuts the outbound queue. Safe to call more than once and
// concurrently with Send.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Room returns the room this connection currently occupies ("" when none).
func (c *Conn) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *Conn) setRoom(name string) {
	c.mu.Lock()
	c.room = name
	c.mu.Unlock()
}

// Participant returns the client-visible view of this connection.
func (c *Conn) Participant() messages.Participant {
	return messages.Participant{UserID: c.UserID, Username: c.Username}
}
