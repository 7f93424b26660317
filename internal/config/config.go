package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr         string
	PostgresDSN      string
	RedisAddr        string
	KafkaBrokers     []string
	JWTSecret        string
	ArbitratorIDs    []int64
	YooMoneyReceiver string
	YooMoneyToken    string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load .env file, using default values", "error", err)
	}

	cfg := &Config{
		HTTPAddr:         os.Getenv("HTTP_ADDR"),
		PostgresDSN:      os.Getenv("POSTGRES_DSN"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		KafkaBrokers:     []string{os.Getenv("KAFKA_BROKER")},
		JWTSecret:        os.Getenv("JWT_SECRET"),
		ArbitratorIDs:    parseIDs(os.Getenv("ARBITRATOR_IDS")),
		YooMoneyReceiver: os.Getenv("YOOMONEY_RECEIVER"),
		YooMoneyToken:    os.Getenv("YOOMONEY_TOKEN"),
	}

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.PostgresDSN == "" {
		cfg.PostgresDSN = "host=localhost user=postgres password=postgres dbname=safedeal sslmode=disable"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	if len(cfg.KafkaBrokers) == 1 && cfg.KafkaBrokers[0] == "" {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "supersecret"
	}

	slog.Info("config loaded",
		"http_addr", cfg.HTTPAddr,
		"postgres_dsn", cfg.PostgresDSN,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"arbitrators", len(cfg.ArbitratorIDs))
	return cfg
}

// Arbitrators returns the arbitrator id set for authorization checks.
func (c *Config) Arbitrators() map[int64]struct{} {
	set := make(map[int64]struct{}, len(c.ArbitratorIDs))
	for _, id := range c.ArbitratorIDs {
		set[id] = struct{}{}
	}
	return set
}

func parseIDs(raw string) []int64 {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			slog.Warn("skipping malformed arbitrator id", "value", part)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
