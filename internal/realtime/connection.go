package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// CloseSessionReplaced is sent to a socket superseded by a newer one of the same actor.
const CloseSessionReplaced = 4001

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("connection buffer exceeded")
)

type ConnectionOptions struct {
	SendBuffer int
	WriteWait  time.Duration
	PingPeriod time.Duration
}

// Connection wraps a websocket and serializes outbound writes through a
// buffered channel drained by a single write loop. Send and Close are safe for
// concurrent use.
type Connection struct {
	ID      string
	ActorID string

	ws         *websocket.Conn
	send       chan []byte
	writeWait  time.Duration
	pingPeriod time.Duration

	once        sync.Once
	closing     chan struct{}
	closeCode   int
	closeReason string
	done        chan struct{}
}

func NewConnection(actorID string, ws *websocket.Conn, opts ConnectionOptions) *Connection {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 128
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 30 * time.Second
	}
	return &Connection{
		ID:         uuid.NewString(),
		ActorID:    actorID,
		ws:         ws,
		send:       make(chan []byte, opts.SendBuffer),
		writeWait:  opts.WriteWait,
		pingPeriod: opts.PingPeriod,
		closing:    make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the write loop. It must be called exactly once per connection.
func (c *Connection) Start() {
	go c.writeLoop()
}

// Send enqueues payload without blocking. A client that cannot keep up is
// disconnected so the relay never waits on it.
func (c *Connection) Send(payload []byte) error {
	select {
	case <-c.closing:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return ErrSendBufferFull
	}
}

// Close asks the write loop to send a close frame and drop the socket. Only
// the first call has an effect. It never blocks on the network.
func (c *Connection) Close(code int, reason string) {
	c.once.Do(func() {
		c.closeCode, c.closeReason = code, truncateReason(reason)
		close(c.closing)
	})
}

// Done is closed once the socket has been released.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.done)
	}()

	for {
		select {
		case <-c.closing:
			deadline := time.Now().Add(c.writeWait)
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeReason), deadline)
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

func (c *Connection) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}

// truncateReason keeps a close reason inside the 125 byte control frame limit.
func truncateReason(reason string) string {
	const limit = 123
	if len(reason) <= limit {
		return reason
	}
	return reason[:limit]
}
