package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/visabuddy/companion/pkg/api"
	"github.com/visabuddy/companion/pkg/config"
	"github.com/visabuddy/companion/pkg/db"
	"github.com/visabuddy/companion/pkg/event"
	"github.com/visabuddy/companion/pkg/service"
	"github.com/visabuddy/companion/pkg/utils"
)

// main wires the companion daemon together: config, local cache, backend
// client, chat store and the local HTTP/WebSocket server the UI talks to.
func main() {
	utils.InitLogger()
	logger := utils.GetLogger()

	if _, err := config.EnsureDefaultConfig(); err != nil {
		logger.Warn("failed to write default config", "error", err)
	}
	cfg, cfgPath, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Info("config loaded", "path", cfgPath, "backend", cfg.BackendURL())

	cachePath, err := cfg.CachePath()
	if err != nil {
		logger.Error("failed to resolve cache path", "error", err)
		os.Exit(1)
	}
	cache, err := db.OpenCache(cachePath)
	if err != nil {
		// The cache is an optimization; run without it rather than fail.
		logger.Warn("failed to open conversation cache, continuing without", "path", cachePath, "error", err)
		cache = nil
	}

	client := api.NewClient(cfg.BackendURL(), cfg.BackendTimeout(), logger)
	emitter := event.NewEmitter()

	// A typed nil must not reach the interface field, so only assign when the
	// cache actually opened.
	var convCache service.ConversationCache
	if cache != nil {
		convCache = cache
	}
	store := service.NewChatStore(client, convCache, emitter, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := NewServer(cfg, client, store, emitter)
	if err := server.Start(ctx); err != nil {
		logger.Error("failed to start local API server", "error", err)
		os.Exit(1)
	}

	server.auth.LoadPersistedToken()

	// Restore cached conversations and refresh from the backend in the
	// background; the local API is already serving.
	go store.Restore(ctx, cfg.RestoreTimeout())

	<-ctx.Done()
	logger.Info("shutting down")

	if cache != nil {
		if err := cache.Close(); err != nil {
			logger.Warn("failed to close cache", "error", err)
		}
	}
	if err := client.Close(); err != nil {
		logger.Warn("failed to close backend client", "error", err)
	}
}
