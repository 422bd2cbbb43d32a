package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tradewire/tradewire/pkg/protocol"
	"github.com/tradewire/tradewire/pkg/models"
)

// ClientInterface is the hub's view of one connected peer. Send and
// Ping must never block; they return an error when the peer's outbound
// buffer is full or the connection is gone.
type ClientInterface interface {
	Send(b []byte) error
	Ping() error
	Close()
}

// Connection states.
const (
	StateOpen    = "OPEN"
	StateClosing = "CLOSING"
	StateClosed  = "CLOSED"
)

type connection struct {
	id     string
	client ClientInterface
	state  string
	// alive is cleared by each sweep and set back by any inbound
	// ping/pong; a connection found cleared at sweep time has missed a
	// full sweep period and is terminated.
	alive         bool
	lastHeartbeat time.Time
	sent          int64
	received      int64
}

type Config struct {
	FlushInterval time.Duration
	SweepInterval time.Duration
	BufferLimit   int // outbound buffer cap; oldest trades dropped on overflow
}

// Hub owns the connection registry and the shared outbound buffer. All
// registry access is serialized through one mutex; per-connection sends
// are non-blocking, so holding it across the fan-out loop is cheap and
// guarantees a removed connection never receives another frame.
type Hub struct {
	logger *zap.Logger
	cfg    Config

	mu      sync.Mutex
	conns   map[string]*connection
	buffer  []models.Trade
	dropped int64

	runOnce  sync.Once
	stopOnce sync.Once
	stopCh   chan struct{}
	runDone  chan struct{}
}

func New(logger *zap.Logger, cfg Config) *Hub {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 100 * time.Millisecond
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.BufferLimit <= 0 {
		cfg.BufferLimit = 10000
	}
	return &Hub{
		logger:  logger,
		cfg:     cfg,
		conns:   make(map[string]*connection),
		stopCh:  make(chan struct{}),
		runDone: make(chan struct{}),
	}
}

// Accept registers a peer and returns its connection id. New
// connections see only batches produced after admission; there is no
// history replay.
func (h *Hub) Accept(client ClientInterface) string {
	id := uuid.NewString()

	h.mu.Lock()
	h.conns[id] = &connection{
		id:            id,
		client:        client,
		state:         StateOpen,
		alive:         true,
		lastHeartbeat: time.Now(),
	}
	total := len(h.conns)
	h.mu.Unlock()

	h.logger.Info("Connection accepted", zap.String("conn_id", id), zap.Int("connections", total))
	return id
}

// Remove unregisters and closes a peer. Safe for unknown ids.
func (h *Hub) Remove(id string) {
	h.mu.Lock()
	c, ok := h.conns[id]
	if ok {
		c.state = StateClosed
		delete(h.conns, id)
	}
	h.mu.Unlock()

	if ok {
		c.client.Close()
		h.logger.Info("Connection removed", zap.String("conn_id", id))
	}
}

// Enqueue appends a trade to the shared outbound buffer. When the
// buffer is at its cap the oldest trade is dropped.
func (h *Hub) Enqueue(trade models.Trade) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.buffer) >= h.cfg.BufferLimit {
		h.buffer = h.buffer[1:]
		h.dropped++
		if h.dropped%1000 == 1 {
			h.logger.Warn("Outbound buffer full, dropping oldest", zap.Int64("dropped_total", h.dropped))
		}
	}
	h.buffer = append(h.buffer, trade)
}

// Flush drains the outbound buffer into one batch envelope and sends it
// to every OPEN connection. A failed send terminates that connection
// only; the rest still receive the batch.
func (h *Hub) Flush() {
	h.mu.Lock()

	if len(h.buffer) == 0 {
		h.mu.Unlock()
		return
	}

	trades := h.buffer
	h.buffer = nil

	envelope := protocol.NewBatch(trades, time.Now().UnixMilli())
	payload, err := json.Marshal(envelope)
	if err != nil {
		h.mu.Unlock()
		h.logger.Error("Batch marshal failed", zap.Error(err))
		return
	}

	var failed []*connection
	for _, c := range h.conns {
		if c.state != StateOpen {
			continue
		}
		if err := c.client.Send(payload); err != nil {
			c.state = StateClosing
			failed = append(failed, c)
			h.logger.Warn("Send failed", zap.String("conn_id", c.id), zap.Error(err))
			continue
		}
		c.sent++
	}
	for _, c := range failed {
		c.state = StateClosed
		delete(h.conns, c.id)
	}
	h.mu.Unlock()

	for _, c := range failed {
		c.client.Close()
	}
}

// HeartbeatSweep terminates every connection that has not proven
// liveness since the previous sweep, then clears the flag and probes
// the survivors. A peer silent across two consecutive sweeps is gone.
func (h *Hub) HeartbeatSweep() {
	h.mu.Lock()
	var dead []*connection
	for _, c := range h.conns {
		if !c.alive {
			c.state = StateClosed
			delete(h.conns, c.id)
			dead = append(dead, c)
			continue
		}
		c.alive = false
		if err := c.client.Ping(); err != nil {
			h.logger.Warn("Liveness probe failed", zap.String("conn_id", c.id), zap.Error(err))
		}
	}
	h.mu.Unlock()

	for _, c := range dead {
		h.logger.Info("Heartbeat timeout, terminating", zap.String("conn_id", c.id))
		c.client.Close()
	}
}

// MarkAlive refreshes the liveness flag for a connection, typically on
// an inbound ping or pong.
func (h *Hub) MarkAlive(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.conns[id]; ok {
		c.alive = true
		c.lastHeartbeat = time.Now()
	}
}

// HandleMessage processes one inbound application message. Malformed
// payloads are dropped; the connection stays open.
func (h *Hub) HandleMessage(id string, payload []byte) {
	h.mu.Lock()
	c, ok := h.conns[id]
	if ok {
		c.received++
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	var req protocol.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		h.logger.Warn("Undecodable message dropped", zap.String("conn_id", id), zap.Error(err))
		return
	}

	switch req.Type {
	case protocol.TypePing:
		h.MarkAlive(id)
		h.reply(c, protocol.Pong{Type: protocol.TypePong, Timestamp: time.Now().UnixMilli()})

	case protocol.TypePong:
		h.MarkAlive(id)

	case protocol.TypeSubscribe:
		// Channel filtering is not supported; every consumer receives
		// the full stream. The subscribe is still acknowledged.
		h.reply(c, protocol.Response{
			Type:    protocol.TypeAck,
			ID:      req.ID,
			Status:  "success",
			Message: "subscribed to " + req.Channel,
		})

	default:
		h.logger.Warn("Unknown message type ignored",
			zap.String("conn_id", id), zap.String("type", req.Type))
	}
}

// Run drives the flush and sweep loops on independent timers until the
// context ends or Shutdown is called.
func (h *Hub) Run(ctx context.Context) {
	h.runOnce.Do(func() {
		go func() {
			defer close(h.runDone)

			flush := time.NewTicker(h.cfg.FlushInterval)
			defer flush.Stop()
			sweep := time.NewTicker(h.cfg.SweepInterval)
			defer sweep.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-h.stopCh:
					return
				case <-flush.C:
					h.Flush()
				case <-sweep.C:
					h.HeartbeatSweep()
				}
			}
		}()
	})
}

// Shutdown stops the timers, closes every connection with a normal
// closure, and releases the registry. Idempotent.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		close(h.stopCh)

		// Wait for the run loop only if it was ever started.
		h.runOnce.Do(func() { close(h.runDone) })
		<-h.runDone

		h.mu.Lock()
		conns := make([]*connection, 0, len(h.conns))
		for _, c := range h.conns {
			c.state = StateClosed
			conns = append(conns, c)
		}
		h.conns = make(map[string]*connection)
		h.buffer = nil
		h.mu.Unlock()

		for _, c := range conns {
			c.client.Close()
		}
		h.logger.Info("Hub shut down", zap.Int("closed_connections", len(conns)))
	})
}

// Status reports the connection count and buffered trade count for the
// admin surface.
func (h *Hub) Status() (connections, buffered int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns), len(h.buffer)
}

func (h *Hub) reply(c *connection, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.Send(b); err != nil {
		h.logger.Warn("Reply failed", zap.String("conn_id", c.id), zap.Error(err))
	}
}
