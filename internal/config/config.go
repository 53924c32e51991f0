// Package config loads server settings from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all server settings.
type Config struct {
	ListenAddr  string
	RedisAddr   string
	DatabaseURL string

	// BotDelay is the artificial "thinking" pause before a scheduled bot
	// move fires.
	BotDelay time.Duration

	LogLevel logrus.Level
}

// Load reads .env (if present) and the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("config: no .env file loaded")
	}

	cfg := Config{
		ListenAddr:  envOr("LISTEN_ADDR", ":8080"),
		RedisAddr:   envOr("REDIS_ADDR", "localhost:6379"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		BotDelay:    envDurationOr("BOT_DELAY_SECONDS", 3) * time.Second,
		LogLevel:    logrus.InfoLevel,
	}

	if lvl, err := logrus.ParseLevel(envOr("LOG_LEVEL", "info")); err == nil {
		cfg.LogLevel = lvl
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDurationOr(key string, fallback int64) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			return time.Duration(n)
		}
	}
	return time.Duration(fallback)
}
