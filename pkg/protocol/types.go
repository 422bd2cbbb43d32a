package protocol

import "github.com/tradewire/tradewire/pkg/models"

// Application-level message types carried over the websocket.
const (
	TypeBatch     = "batch"
	TypePing      = "ping"
	TypePong      = "pong"
	TypeSubscribe = "subscribe"
	TypeAck       = "ack"
	TypeError     = "error"
)

// Batch is the outbound envelope carrying one flush worth of trades.
type Batch struct {
	Type      string         `json:"type"`
	Trades    []models.Trade `json:"trades"`
	Count     int            `json:"count"`
	Timestamp int64          `json:"timestamp"`
}

func NewBatch(trades []models.Trade, ts int64) Batch {
	return Batch{Type: TypeBatch, Trades: trades, Count: len(trades), Timestamp: ts}
}

// Request is any inbound application message from a consumer.
type Request struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	ID      string `json:"id,omitempty"`
}

// Pong answers an application-level ping.
type Pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// Response acknowledges a request or reports an error on it.
type Response struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}
