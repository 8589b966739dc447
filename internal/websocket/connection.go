package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeBufferSize = 100
	writeWait       = 5 * time.Second
)

// Connection wraps a gorilla connection with a single writer goroutine.
// WriteJSON may be called from any goroutine.
type Connection struct {
	conn    *websocket.Conn
	id      string
	userID  string
	writeCh chan []byte

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps conn for an already authenticated user.
func NewConnection(conn *websocket.Conn, userID string) *Connection {
	return newConnectionWithID(conn, uuid.New().String(), userID)
}

func newConnectionWithID(conn *websocket.Conn, id, userID string) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    conn,
		id:      id,
		userID:  userID,
		writeCh: make(chan []byte, writeBufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
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

// WriteJSON queues v for delivery. It blocks for at most writeWait when the
// buffer is full.
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

	timer := time.NewTimer(writeWait)
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

// TrySendJSON queues v without waiting. It fails with ErrWriteBufferFull
// when the peer is not keeping up.
func (c *Connection) TrySendJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	default:
		return ErrWriteBufferFull
	}
}

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

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) ID() string     { return c.id }
func (c *Connection) UserID() string { return c.userID }
