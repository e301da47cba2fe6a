package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/visabuddy/companion/pkg/api"
	"github.com/visabuddy/companion/pkg/config"
	"github.com/visabuddy/companion/pkg/event"
	"github.com/visabuddy/companion/pkg/handler"
	"github.com/visabuddy/companion/pkg/models"
	"github.com/visabuddy/companion/pkg/service"
	"github.com/visabuddy/companion/pkg/utils"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Server is the local HTTP server the UI talks to. It never faces the
// network; it binds to the configured host (loopback by default).
type Server struct {
	ginEngine *gin.Engine
	logger    *slog.Logger
	cfg       *config.AppConfig
	client    *api.Client
	store     *service.ChatStore
	emitter   *event.Emitter
	auth      *handler.AuthHandler
	port      int
}

func NewServer(cfg *config.AppConfig, client *api.Client, store *service.ChatStore, emitter *event.Emitter) *Server {
	gin.SetMode(gin.ReleaseMode)
	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())

	// CORS middleware: the UI dev server runs on a localhost origin; anything
	// else is rejected.
	ginEngine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// No Origin header means it's not a browser CORS request.
		if origin != "" {
			allowed := strings.HasPrefix(origin, "http://localhost") ||
				strings.HasPrefix(origin, "http://127.0.0.1") ||
				strings.HasPrefix(origin, "https://localhost") ||
				strings.HasPrefix(origin, "https://127.0.0.1")

			if !allowed {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}

			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	server := &Server{
		ginEngine: ginEngine,
		logger:    utils.GetLogger(),
		cfg:       cfg,
		client:    client,
		store:     store,
		emitter:   emitter,
	}

	server.SetupRoutes()

	return server
}

// Start binds the listener and serves in the background. It returns an error
// immediately when the port is occupied; otherwise it shuts down gracefully
// when ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host(), s.cfg.Port())
	srv := &http.Server{Addr: addr, Handler: s.ginEngine}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		s.port = tcpAddr.Port
	} else {
		s.port = s.cfg.Port()
	}
	s.logger.Info("local API listening", "addr", ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Serve(ln)
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	// Non-blocking: surface an immediate startup failure, otherwise let main
	// continue.
	select {
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	default:
	}
	return nil
}

func (s *Server) SetupRoutes() {
	chatHandler := handler.NewChatHandler(s.store, s.logger)
	sessionHandler := handler.NewSessionHandler(s.store, s.logger)
	s.auth = handler.NewAuthHandler(s.client, s.store, s.logger, s.cfg.TokenFile())
	wsHandler := event.NewWSHandler(s.emitter, s.logger)

	s.ginEngine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API group
	// /api
	apiGroup := s.ginEngine.Group("/api")

	// Runtime info so UI clients can discover the correct base URLs.
	apiGroup.GET("/runtime", func(c *gin.Context) {
		host := s.cfg.Host()
		port := s.port
		if port == 0 {
			port = s.cfg.Port()
		}

		c.JSON(http.StatusOK, models.RuntimeInfo{
			Version:       Version,
			HTTPBaseURL:   fmt.Sprintf("http://%s:%d", host, port),
			WSBaseURL:     fmt.Sprintf("ws://%s:%d", host, port),
			Port:          port,
			Authenticated: s.client.Authenticated(),
		})
	})

	// Event push for the UI.
	// /api/events/ws?events=conversation.updated,session.deleted
	apiGroup.GET("/events/ws", wsHandler.Handle)

	chatHandler.RegisterRoutes(apiGroup)
	sessionHandler.RegisterRoutes(apiGroup)
	s.auth.RegisterRoutes(apiGroup)
}
