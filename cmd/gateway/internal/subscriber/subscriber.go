package subscriber

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/tradewire/tradewire/cmd/gateway/internal/repository"
	"github.com/tradewire/tradewire/pkg/models"
)

// KafkaReader abstracts the input stream
type KafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// TradeHandler receives every accepted trade. A panic in the handler is
// caught per message and never halts the subscription loop.
type TradeHandler func(trade models.Trade)

// Subscriber consumes the trade topic, keeps the latest-price snapshot
// fresh, and forwards each trade to the handler (the hub's Enqueue).
type Subscriber struct {
	logger  *zap.Logger
	reader  KafkaReader
	store   repository.SnapshotStore
	handler TradeHandler

	// lastID dedups per symbol; engine ids are monotonic, so replays
	// and duplicates arrive with an id we have already seen.
	lastID map[string]int64
}

func New(logger *zap.Logger, reader KafkaReader, store repository.SnapshotStore, handler TradeHandler) *Subscriber {
	return &Subscriber{
		logger:  logger,
		reader:  reader,
		store:   store,
		handler: handler,
		lastID:  make(map[string]int64),
	}
}

// Run blocks until the context finishes. Malformed messages, snapshot
// write failures, and handler panics are logged and skipped.
func (s *Subscriber) Run(ctx context.Context) error {
	s.logger.Info("Subscriber started")

	for {
		m, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			s.logger.Error("Kafka Read Error", zap.Error(err))
			continue
		}

		var trade models.Trade
		if err := json.Unmarshal(m.Value, &trade); err != nil {
			s.logger.Error("JSON Unmarshal Error", zap.Error(err), zap.String("key", string(m.Key)))
			continue
		}

		if trade.ID <= s.lastID[trade.Symbol] {
			s.logger.Debug("Skipping duplicate trade",
				zap.String("symbol", trade.Symbol), zap.Int64("id", trade.ID))
			continue
		}
		s.lastID[trade.Symbol] = trade.ID

		if err := s.store.SaveSnapshot(ctx, trade.Symbol, m.Value); err != nil {
			s.logger.Error("Snapshot write failed", zap.Error(err), zap.String("symbol", trade.Symbol))
		}

		s.dispatch(trade)
	}
}

func (s *Subscriber) Close() error { return s.reader.Close() }

func (s *Subscriber) dispatch(trade models.Trade) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Trade handler panicked", zap.Any("panic", r), zap.Int64("trade_id", trade.ID))
		}
	}()
	s.handler(trade)
}
