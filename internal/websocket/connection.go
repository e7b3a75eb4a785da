package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"classlens/pkg/types"
)

// Options tunes the per-connection write path and heartbeat
type Options struct {
	SendBuffer   int           // outbound queue depth per connection
	WriteTimeout time.Duration // deadline for a single frame write and for enqueueing
	PingInterval time.Duration // heartbeat ping period
	ReadTimeout  time.Duration // connection is dropped when no frame or pong arrives in this window
	MaxFrameSize int64
}

// DefaultOptions mirrors the classroom-tested heartbeat settings
func DefaultOptions() Options {
	return Options{
		SendBuffer:   100,
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		MaxFrameSize: 64 * 1024,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	return o
}

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no presence logic in the connection wrapper
type Connection struct {
	conn      *websocket.Conn
	id        string
	identity  types.Identity
	writeCh   chan []byte // FUNCTIONAL DISCOVERY: buffered so a broadcast never waits on a slow socket
	opts      Options
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps an upgraded socket and starts its writer goroutine
func NewConnection(conn *websocket.Conn, id string, identity types.Identity, opts Options) *Connection {
	opts = opts.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:     conn,
		id:       id,
		identity: identity,
		writeCh:  make(chan []byte, opts.SendBuffer),
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
	}

	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
// on the underlying socket; pings go through WriteControl which gorilla
// allows concurrently with one writer
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON marshals v and queues it for the writer goroutine
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	timer := time.NewTimer(c.opts.WriteTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- data:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close stops the writer and closes the socket; safe to call repeatedly
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// ID returns the server-assigned connection id
func (c *Connection) ID() string {
	return c.id
}

// Identity returns the caller resolved at upgrade time
func (c *Connection) Identity() types.Identity {
	return c.identity
}

// Done is closed once the connection has been closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}
