// cmd/server/main.go
package main

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Leftyshields/better-white-elephant-sub000/internal/cache"
	"github.com/Leftyshields/better-white-elephant-sub000/internal/config"
	"github.com/Leftyshields/better-white-elephant-sub000/internal/database"
	"github.com/Leftyshields/better-white-elephant-sub000/internal/game"
	"github.com/Leftyshields/better-white-elephant-sub000/internal/ws"
)

func main() {
	cfg := config.Load()
	logrus.SetLevel(cfg.LogLevel)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx := context.Background()

	// The cache and the archive database are both optional: without them
	// games run purely in memory, with snapshots and archival skipped.
	if err := cache.InitRedis(ctx, cfg.RedisAddr); err != nil {
		logrus.WithError(err).Warn("redis unavailable, running without snapshots")
	}
	if cfg.DatabaseURL == "" {
		logrus.Info("DATABASE_URL not set, running without game archive")
	} else if err := database.InitDB(ctx, cfg.DatabaseURL); err != nil {
		logrus.WithError(err).Warn("database unavailable, running without game archive")
	}

	manager := game.NewManager()
	server := ws.NewServer(manager, cfg.BotDelay)

	mux := http.NewServeMux()
	server.Routes(mux)

	logrus.WithField("addr", cfg.ListenAddr).Info("listening")
	if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
		logrus.WithError(err).Fatal("server stopped")
	}
}
