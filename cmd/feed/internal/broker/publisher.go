package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/tradewire/tradewire/pkg/models"
)

// PublishError is the typed failure surfaced when a batch could not be
// handed to the broker after all retries.
type PublishError struct {
	Reason string
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish failed: %s: %v", e.Reason, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Publisher writes trade batches to Kafka. Each message is keyed by
// symbol plus the truncated-second timestamp so trades for one symbol
// within the same second land on one partition, giving coarse ordering.
// Transient write failures are retried with a growing pause; retrying
// lives here, at the publish boundary, never in the simulation.
type Publisher struct {
	logger  *zap.Logger
	writer  KafkaWriter
	clock   Clock
	retries int
	backoff time.Duration
}

func NewPublisher(logger *zap.Logger, writer KafkaWriter, clock Clock) *Publisher {
	return &Publisher{
		logger:  logger,
		writer:  writer,
		clock:   clock,
		retries: 3,
		backoff: 250 * time.Millisecond,
	}
}

func (p *Publisher) Publish(ctx context.Context, trades []models.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(trades))
	for _, tr := range trades {
		payload, err := json.Marshal(tr)
		if err != nil {
			p.logger.Error("JSON Marshal Error", zap.Error(err), zap.Int64("trade_id", tr.ID))
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(fmt.Sprintf("%s:%d", tr.Symbol, tr.Timestamp/1000)),
			Value: payload,
		})
	}

	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			p.clock.Sleep(time.Duration(attempt) * p.backoff)
		}

		if err := ctx.Err(); err != nil {
			return &PublishError{Reason: "context finished", Err: err}
		}

		lastErr = p.writer.WriteMessages(ctx, msgs...)
		if lastErr == nil {
			return nil
		}
		p.logger.Warn("Kafka Write Error",
			zap.Error(lastErr),
			zap.Int("attempt", attempt+1),
			zap.Int("batch_size", len(msgs)))
	}

	return &PublishError{Reason: "broker unavailable", Err: lastErr}
}

func (p *Publisher) Close() error { return p.writer.Close() }
