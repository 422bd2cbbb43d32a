package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Client     ClientConfig     `mapstructure:"client"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type GatewayConfig struct {
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	BufferLimit   int           `mapstructure:"buffer_limit"`
}

type SimulationConfig struct {
	Tickers        []string `mapstructure:"tickers"`
	BaseVolatility float64  `mapstructure:"base_volatility"`
	MomentumFactor float64  `mapstructure:"momentum_factor"`
	Reversion      float64  `mapstructure:"reversion"`
}

type SchedulerConfig struct {
	Rate          int           `mapstructure:"rate"` // trades per second
	BatchSize     int           `mapstructure:"batch_size"`
	TotalTrades   int64         `mapstructure:"total_trades"` // 0 = unbounded
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

type ClientConfig struct {
	URL               string        `mapstructure:"url"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay"`
	MaxReconnects     int           `mapstructure:"max_reconnects"`
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Load .env file into System Environment (if it exists)
	// This ensures variables like APP_PORT are available as real env vars
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	// 2. Set Defaults (12-Factor App: Dev/Prod Parity)
	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "trade_events")
	v.SetDefault("kafka.group_id", "tradewire-gateway-group")

	v.SetDefault("gateway.flush_interval", 100*time.Millisecond)
	v.SetDefault("gateway.sweep_interval", 30*time.Second)
	v.SetDefault("gateway.buffer_limit", 10000)

	v.SetDefault("simulation.tickers", []string{"AAPL", "GOOG", "TSLA", "AMZN"})
	v.SetDefault("simulation.base_volatility", 0.002)
	v.SetDefault("simulation.momentum_factor", 0.3)
	v.SetDefault("simulation.reversion", 0.05)

	v.SetDefault("scheduler.rate", 100)
	v.SetDefault("scheduler.batch_size", 10)
	v.SetDefault("scheduler.total_trades", 0)
	v.SetDefault("scheduler.stats_interval", 10*time.Second)

	v.SetDefault("client.url", "ws://localhost:8080/ws")
	v.SetDefault("client.reconnect_delay", 3*time.Second)
	v.SetDefault("client.max_reconnect_delay", 30*time.Second)
	v.SetDefault("client.max_reconnects", 5)

	// 3. Configure Viper to read Environment Variables
	// This maps dot-notation to underscores (e.g., "app.port" -> "APP_PORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Explicitly Bind Env Vars to Keys
	// This is crucial for Viper to map flat Env Vars (APP_PORT) to nested structs (App.Port)
	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "kafka.brokers", "kafka.topic", "kafka.group_id")
	bindEnv(v, "gateway.flush_interval", "gateway.sweep_interval", "gateway.buffer_limit")
	bindEnv(v, "simulation.tickers", "simulation.base_volatility", "simulation.momentum_factor", "simulation.reversion")
	bindEnv(v, "scheduler.rate", "scheduler.batch_size", "scheduler.total_trades", "scheduler.stats_interval")
	bindEnv(v, "client.url", "client.reconnect_delay", "client.max_reconnect_delay", "client.max_reconnects")

	// 5. Unmarshal into Struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %v", err)
	}

	// 6. Basic Validation
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers cannot be empty")
	}
	if cfg.Scheduler.Rate <= 0 || cfg.Scheduler.BatchSize <= 0 {
		return nil, fmt.Errorf("scheduler rate and batch size must be positive")
	}

	return &cfg, nil
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
