package gateway

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/tradewire/tradewire/cmd/gateway/internal/hub"
)

const (
	maxMessageSize = 512 * 1024
)

var (
	ErrClosed     = errors.New("connection closed")
	ErrBufferFull = errors.New("send buffer full")
)

// ClientAdapter bridges one websocket peer to the hub. Writes go
// through a buffered channel drained by writePump, so hub sends never
// block; a full buffer is reported as a send failure and the hub drops
// the connection.
type ClientAdapter struct {
	conn   net.Conn
	hub    *hub.Hub
	logger *zap.Logger
	id     string

	send  chan []byte
	pings chan struct{}

	closeOnce sync.Once
	closed    chan struct{}

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

func NewClient(conn net.Conn, h *hub.Hub, logger *zap.Logger) *ClientAdapter {
	return &ClientAdapter{
		conn:       conn,
		hub:        h,
		logger:     logger,
		send:       make(chan []byte, 256),
		pings:      make(chan struct{}, 1),
		closed:     make(chan struct{}),
		writeWait:  5 * time.Second,
		pongWait:   60 * time.Second,
		pingPeriod: 50 * time.Second,
	}
}

// Start registers the adapter with the hub and launches both pumps.
func (c *ClientAdapter) Start() {
	c.id = c.hub.Accept(c)
	go c.writePump()
	go c.readPump()
}

func (c *ClientAdapter) ID() string { return c.id }

func (c *ClientAdapter) Send(b []byte) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	select {
	case c.send <- b:
		return nil
	default:
		return ErrBufferFull
	}
}

// Ping asks writePump for a transport-level probe. Pending probes
// coalesce.
func (c *ClientAdapter) Ping() error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	select {
	case c.pings <- struct{}{}:
	default:
	}
	return nil
}

func (c *ClientAdapter) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *ClientAdapter) readPump() {
	defer func() {
		c.hub.Remove(c.id)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

	for {
		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			return
		}

		if header.Length > int64(maxMessageSize) {
			c.logger.Warn("Msg too big", zap.Int64("size", header.Length))
			return
		}

		if !header.Fin {
			c.logger.Warn("Client sent fragmented message (not supported)")
			return
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			return
		}

		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		switch header.OpCode {
		case ws.OpClose:
			return

		case ws.OpPong:
			c.hub.MarkAlive(c.id)
			c.conn.SetReadDeadline(time.Now().Add(c.pongWait))

		case ws.OpText:
			c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
			c.hub.HandleMessage(c.id, payload)
		}
	}
}

func (c *ClientAdapter) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			c.conn.Write(ws.CompiledClose)
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := wsutil.WriteServerText(c.conn, msg); err != nil {
				return
			}

		case <-c.pings:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := wsutil.WriteServerMessage(c.conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
