package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"tunechat/internal/auth"
	"tunechat/internal/config"
	"tunechat/internal/database"
	"tunechat/internal/handlers"
	"tunechat/internal/services"
	"tunechat/internal/websocket"
	"tunechat/pkg/logger"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration: %v", err)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logger.Fatal("Failed to build logger: %v", err)
	}
	logger.SetGlobal(log)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.NewPostgresDB(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database: %v", err)
	}

	// Room registry and fan-out
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := websocket.NewMetrics(registry)

	rooms := websocket.NewRegistry(logger.With(zap.String("component", "registry")), metrics)
	fanout, closeBackend, err := newFanout(ctx, cfg, rooms)
	if err != nil {
		logger.Fatal("Failed to start %s fan-out: %v", cfg.Fanout.Backend, err)
	}
	defer closeBackend()
	defer fanout.Close()

	// Initialize services
	authService := auth.NewService(db, cfg)
	chatService := services.NewChatService(db)

	// Initialize handlers
	router := handlers.NewRouter(handlers.Routes{
		Auth: handlers.NewAuthHandlers(authService),
		Chat: handlers.NewChatHandlers(chatService, authService),
		WebSocket: handlers.NewWebSocketHandlers(authService, chatService, websocket.Deps{
			Registry: rooms,
			Fanout:   fanout,
			Store:    chatService,
			Config:   cfg.WebSocket,
			Logger:   logger.With(zap.String("component", "websocket")),
			Metrics:  metrics,
		}),
		DB:      db,
		Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Hijacked websocket connections are not tracked by Shutdown.
	server.RegisterOnShutdown(func() {
		n := rooms.CloseAll("Server shutting down")
		logger.Info("Closed %d websocket sessions", n)
	})

	logger.Info("Server started on http://localhost%s (fan-out: %s)", cfg.Server.Port, cfg.Fanout.Backend)
	printAPIEndpoints()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	<-ctx.Done()
	logger.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed: %v", err)
	}
}

// newFanout builds the configured backend. The returned func releases the
// backend's client connection.
func newFanout(ctx context.Context, cfg *config.Config, rooms *websocket.Registry) (websocket.Fanout, func(), error) {
	log := logger.With(zap.String("component", "fanout"))

	switch cfg.Fanout.Backend {
	case config.FanoutRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Fanout.RedisAddr,
			Password: cfg.Fanout.RedisPassword,
			DB:       cfg.Fanout.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		f, err := websocket.NewRedisFanout(ctx, client, rooms, log)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return f, func() { _ = client.Close() }, nil

	case config.FanoutNATS:
		nc, err := nats.Connect(cfg.Fanout.NATSURL, nats.Name("tunechat"))
		if err != nil {
			return nil, nil, fmt.Errorf("nats connect: %w", err)
		}
		f, err := websocket.NewNATSFanout(nc, rooms, log)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return f, nc.Close, nil

	default:
		return websocket.NewLocalFanout(rooms), func() {}, nil
	}
}

func printAPIEndpoints() {
	logger.Info("API endpoints:")
	logger.Info("   POST /auth/login/")
	logger.Info("   GET  /chats/")
	logger.Info("   GET  /chats/{other_user_id}/messages/")
	logger.Info("   POST /chats/{other_user_id}/messages/")
	logger.Info("   GET  /ws/chat/{other_user_id}/  (websocket)")
	logger.Info("   GET  /healthz")
	logger.Info("   GET  /metrics")
}
