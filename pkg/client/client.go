package client

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tradewire/tradewire/pkg/models"
	"github.com/tradewire/tradewire/pkg/protocol"
)

// Connection lifecycle states.
type State string

const (
	StateConnecting State = "CONNECTING"
	StateOpen       State = "OPEN"
	StateClosed     State = "CLOSED"
)

// BatchHandler receives all trades buffered since the previous flush in
// one call.
type BatchHandler func(trades []models.Trade)

type Config struct {
	URL               string
	ReconnectDelay    time.Duration // floor of the backoff schedule
	MaxReconnectDelay time.Duration // ceiling of the backoff schedule
	MaxReconnects     int           // consecutive failures before giving up
	FlushInterval     time.Duration // cadence of handler delivery
	KeepaliveInterval time.Duration // cadence of application-level pings
	BufferLimit       int           // inbound trade buffer cap
}

func (c *Config) withDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = 5
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
	if c.BufferLimit <= 0 {
		c.BufferLimit = 10000
	}
}

// Client is the consumer side of a gateway connection: it dials, buffers
// decoded batches for periodic delivery, keeps the link warm with
// application pings, and reconnects with capped geometric backoff after
// any failure. The consumer only ever observes "connected" and
// "disconnected"; the cause of a drop is not surfaced.
type Client struct {
	logger  *zap.Logger
	cfg     Config
	dialer  *websocket.Dialer
	handler BatchHandler

	onConnect    func()
	onDisconnect func(terminal bool)

	mu      sync.Mutex
	state   State
	backoff *Backoff
	inbound []models.Trade
	dropped int64

	stopOnce sync.Once
	stopCh   chan struct{}
	started  bool
	done     chan struct{}
}

func New(logger *zap.Logger, cfg Config, handler BatchHandler) *Client {
	cfg.withDefaults()
	return &Client{
		logger:  logger,
		cfg:     cfg,
		dialer:  websocket.DefaultDialer,
		handler: handler,
		state:   StateClosed,
		backoff: NewBackoff(cfg.ReconnectDelay, cfg.MaxReconnectDelay),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// OnConnect registers a callback fired each time the connection opens.
// Must be called before Start.
func (c *Client) OnConnect(fn func()) { c.onConnect = fn }

// OnDisconnect registers a callback fired when the connection drops;
// terminal is true once the retry budget is exhausted. Must be called
// before Start.
func (c *Client) OnDisconnect(fn func(terminal bool)) { c.onDisconnect = fn }

// Start launches the connect/reconnect loop.
func (c *Client) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.loop()
}

// Close tears the connection down for good. No reconnect is attempted.
func (c *Client) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		<-c.done
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ReconnectAttempts is the number of consecutive failed attempts.
func (c *Client) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backoff.Attempts()
}

func (c *Client) loop() {
	defer close(c.done)

	for {
		c.setState(StateConnecting)

		conn, _, err := c.dialer.Dial(c.cfg.URL, nil)
		if err != nil {
			c.logger.Warn("Dial failed", zap.String("url", c.cfg.URL), zap.Error(err))
			c.setState(StateClosed)
			if !c.waitRetry() {
				return
			}
			continue
		}

		c.setState(StateOpen)
		c.mu.Lock()
		c.backoff.Reset()
		c.mu.Unlock()
		if c.onConnect != nil {
			c.onConnect()
		}
		c.logger.Info("Connected", zap.String("url", c.cfg.URL))

		stopped := c.runConnection(conn)

		c.setState(StateClosed)
		if c.onDisconnect != nil {
			c.onDisconnect(false)
		}
		if stopped {
			return
		}
		if !c.waitRetry() {
			return
		}
	}
}

// waitRetry sleeps out the current backoff delay. It returns false when
// the retry budget is exhausted or the client is closing, surfacing the
// terminal disconnect.
func (c *Client) waitRetry() bool {
	c.mu.Lock()
	if c.backoff.Attempts() >= c.cfg.MaxReconnects {
		c.mu.Unlock()
		c.logger.Warn("Reconnect attempts exhausted", zap.Int("attempts", c.cfg.MaxReconnects))
		if c.onDisconnect != nil {
			c.onDisconnect(true)
		}
		return false
	}
	delay := c.backoff.Next()
	attempt := c.backoff.Attempts()
	c.mu.Unlock()

	c.logger.Info("Reconnecting", zap.Duration("delay", delay), zap.Int("attempt", attempt))
	select {
	case <-time.After(delay):
		return true
	case <-c.stopCh:
		return false
	}
}

// runConnection services one live connection until it drops or the
// client closes. Returns true when the client is shutting down.
func (c *Client) runConnection(conn *websocket.Conn) bool {
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			_, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			c.handleMessage(payload)
		}
	}()

	flush := time.NewTicker(c.cfg.FlushInterval)
	defer flush.Stop()
	keepalive := time.NewTicker(c.cfg.KeepaliveInterval)
	defer keepalive.Stop()
	defer c.flushInbound()

	for {
		select {
		case <-c.stopCh:
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
			<-readDone
			return true

		case <-readDone:
			conn.Close()
			return false

		case <-flush.C:
			c.flushInbound()

		case <-keepalive.C:
			ping, _ := json.Marshal(protocol.Request{Type: protocol.TypePing})
			if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
				conn.Close()
				<-readDone
				return false
			}
		}
	}
}

// handleMessage decodes one inbound frame. Undecodable payloads are
// dropped and logged; they never reach the handler or kill the
// connection.
func (c *Client) handleMessage(payload []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		c.logger.Warn("Undecodable message dropped", zap.Error(err))
		return
	}

	switch head.Type {
	case protocol.TypeBatch:
		var batch protocol.Batch
		if err := json.Unmarshal(payload, &batch); err != nil {
			c.logger.Warn("Malformed batch dropped", zap.Error(err))
			return
		}
		c.bufferTrades(batch.Trades)

	case protocol.TypePong:
		// Keepalive answer; nothing to do.

	case protocol.TypeAck:
		c.logger.Debug("Ack received")

	default:
		c.logger.Warn("Unknown message type ignored", zap.String("type", head.Type))
	}
}

func (c *Client) bufferTrades(trades []models.Trade) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, tr := range trades {
		if len(c.inbound) >= c.cfg.BufferLimit {
			c.inbound = c.inbound[1:]
			c.dropped++
		}
		c.inbound = append(c.inbound, tr)
	}
}

// flushInbound hands everything buffered since the last flush to the
// handler in a single call.
func (c *Client) flushInbound() {
	c.mu.Lock()
	trades := c.inbound
	c.inbound = nil
	c.mu.Unlock()

	if len(trades) > 0 && c.handler != nil {
		c.handler(trades)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
