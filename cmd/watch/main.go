package main

import (
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/tradewire/tradewire/pkg/client"
	"github.com/tradewire/tradewire/pkg/config"
	"github.com/tradewire/tradewire/pkg/models"
)

// watch is a terminal consumer: it tails the gateway's trade stream and
// logs one line per delivered batch.
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

	terminal := make(chan struct{}, 1)

	c := client.New(logger, client.Config{
		URL:               cfg.Client.URL,
		ReconnectDelay:    cfg.Client.ReconnectDelay,
		MaxReconnectDelay: cfg.Client.MaxReconnectDelay,
		MaxReconnects:     cfg.Client.MaxReconnects,
	}, func(trades []models.Trade) {
		last := trades[len(trades)-1]
		logger.Info("Batch",
			zap.Int("count", len(trades)),
			zap.String("last_symbol", last.Symbol),
			zap.Float64("last_price", last.Price),
			zap.String("last_side", last.Side))
	})

	c.OnConnect(func() { logger.Info("Connected to gateway") })
	c.OnDisconnect(func(isTerminal bool) {
		if isTerminal {
			logger.Error("Gave up reconnecting")
			select {
			case terminal <- struct{}{}:
			default:
			}
			return
		}
		logger.Warn("Disconnected")
	})

	c.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("Shutdown signal received")
		c.Close()
	case <-terminal:
	}
}
