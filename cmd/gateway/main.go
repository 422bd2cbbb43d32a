package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gobwas/ws"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/tradewire/tradewire/cmd/gateway/internal/gateway"
	"github.com/tradewire/tradewire/cmd/gateway/internal/hub"
	"github.com/tradewire/tradewire/cmd/gateway/internal/repository"
	"github.com/tradewire/tradewire/cmd/gateway/internal/subscriber"
	"github.com/tradewire/tradewire/pkg/config"
	"github.com/tradewire/tradewire/pkg/models"
)

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

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("Redis unreachable", zap.Error(err))
	}
	store := repository.NewRedisStore(rdb)

	wsHub := hub.New(logger, hub.Config{
		FlushInterval: cfg.Gateway.FlushInterval,
		SweepInterval: cfg.Gateway.SweepInterval,
		BufferLimit:   cfg.Gateway.BufferLimit,
	})
	wsHub.Run(ctx)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.GroupID,
		Topic:   cfg.Kafka.Topic,
	})
	sub := subscriber.New(logger, reader, store, func(trade models.Trade) {
		wsHub.Enqueue(trade)
	})
	go func() {
		if err := sub.Run(ctx); err != nil {
			logger.Error("Subscriber exited", zap.Error(err))
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		gateway.NewClient(conn, wsHub, logger).Start()
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		connections, buffered := wsHub.Status()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{
			"connections": connections,
			"buffered":    buffered,
		})
	})

	mux.HandleFunc("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		symbols := cfg.Simulation.Tickers
		if q := r.URL.Query().Get("symbols"); q != "" {
			symbols = strings.Split(q, ",")
		}
		snapshots, err := store.GetSnapshots(r.Context(), symbols)
		if err != nil {
			http.Error(w, "snapshot lookup failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("[" + strings.Join(snapshots, ",") + "]"))
	})

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}

	go func() {
		logger.Info("Gateway started", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("Shutdown signal received")

	srv.Shutdown(context.Background())
	cancel()
	if err := sub.Close(); err != nil {
		logger.Error("Error closing Kafka reader", zap.Error(err))
	}
	wsHub.Shutdown()
	if err := store.Close(); err != nil {
		logger.Error("Error closing snapshot store", zap.Error(err))
	}
	logger.Info("Shutdown Complete")
}
