package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/tradewire/tradewire/cmd/feed/internal/broker"
	"github.com/tradewire/tradewire/cmd/feed/internal/engine"
	"github.com/tradewire/tradewire/cmd/feed/internal/scheduler"
	"github.com/tradewire/tradewire/pkg/config"
	"github.com/tradewire/tradewire/pkg/models"
)

var defaultBasePrices = map[string]float64{
	"AAPL": 150.0, "GOOG": 2800.0, "TSLA": 700.0, "AMZN": 3400.0,
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Topic must exist before the first batch; not reaching the broker
	// here aborts startup.
	creator := broker.NewTopicCreator(logger, &broker.RealKafkaDialer{Dialer: kafka.DefaultDialer}, broker.RealClock{})
	if err := creator.Ensure(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, 4); err != nil {
		logger.Fatal("Topic bootstrap failed", zap.Error(err))
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
	}
	publisher := broker.NewPublisher(logger, writer, broker.RealClock{})

	basePrices := make(map[string]float64, len(cfg.Simulation.Tickers))
	for _, sym := range cfg.Simulation.Tickers {
		base, ok := defaultBasePrices[sym]
		if !ok {
			base = 100.0
		}
		basePrices[sym] = base
	}

	params := engine.DefaultParams()
	params.BaseVolatility = cfg.Simulation.BaseVolatility
	params.MomentumFactor = cfg.Simulation.MomentumFactor
	params.ReversionStrength = cfg.Simulation.Reversion

	rnd := engine.RealRand{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
	eng := engine.New(logger, params, basePrices, rnd, engine.RealClock{})

	sched := scheduler.New(logger, scheduler.Config{
		Rate:          cfg.Scheduler.Rate,
		BatchSize:     cfg.Scheduler.BatchSize,
		TotalTrades:   cfg.Scheduler.TotalTrades,
		StatsInterval: cfg.Scheduler.StatsInterval,
		StatsFunc: func(total int64, perSecond float64) {
			logger.Info("Throughput", zap.Int64("total", total), zap.Float64("per_second", perSecond))
		},
	}, eng)

	sched.OnBatch(func(trades []models.Trade) {
		if err := publisher.Publish(ctx, trades); err != nil {
			logger.Error("Batch publish failed", zap.Error(err), zap.Int("count", len(trades)))
		}
	})

	done, err := sched.Start()
	if err != nil {
		logger.Fatal("Scheduler start failed", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received")
		sched.Stop()
	case <-done:
		logger.Info("Trade cap reached")
	}

	cancel()
	if err := publisher.Close(); err != nil {
		logger.Error("Error closing Kafka writer", zap.Error(err))
	} else {
		logger.Info("Kafka writer closed cleanly")
	}
}
