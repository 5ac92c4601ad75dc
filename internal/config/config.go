package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	DSN         string
	RedisAddr   string // empty = single-node mode, no Redis
	JWTSecret   string
	TokenTTL    time.Duration
	MaxConns    int
	SendBufSize int // per-subscription event buffer
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:        getEnv("ADDR", ":8080"),
		DSN:         os.Getenv("DB_DSN"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		TokenTTL:    getEnvAsDuration("TOKEN_TTL", 24*time.Hour),
		MaxConns:    getEnvAsInt("DB_MAX_CONNS", 25),
		SendBufSize: getEnvAsInt("SEND_BUFFER", 256),
	}

	if cfg.DSN == "" {
		return nil, errors.New("DB_DSN is not set")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is not set")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
