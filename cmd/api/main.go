// Package main is the entry point for the console API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/agent-console/internal/config"
	"github.com/capitalize-ai/agent-console/internal/console"
	"github.com/capitalize-ai/agent-console/internal/handler"
	"github.com/capitalize-ai/agent-console/internal/live"
	"github.com/capitalize-ai/agent-console/internal/messaging"
	"github.com/capitalize-ai/agent-console/internal/middleware"
	natsclient "github.com/capitalize-ai/agent-console/internal/nats"
	"github.com/capitalize-ai/agent-console/pkg/logger"
	"github.com/capitalize-ai/agent-console/pkg/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewForEnv(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting console server", zap.String("env", cfg.Env))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "agent-console", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Messaging backend
	backend, err := messaging.NewClient(messaging.Config{
		BaseURL: cfg.BackendURL,
		Token:   cfg.UpstreamToken,
		Timeout: cfg.BackendTimeout,
	}, log)
	if err != nil {
		log.Fatal("failed to create messaging client", zap.Error(err))
	}

	// Live event source
	var (
		source     live.Source
		natsClient *natsclient.Client
	)
	switch cfg.LiveTransport {
	case "nats":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		natsClient, err = natsclient.Connect(connectCtx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
			Name:     "agent-console",
		}, log)
		cancel()
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()
		source = live.NewNATSSource(natsClient.Conn())
	default:
		source = live.NewSSESource(backend)
	}
	log.Info("live events configured", zap.String("transport", source.Name()))

	// Sessions
	manager := console.NewManager(backend, backend, source, console.Config{
		TopicPageSize: cfg.TopicPageSize,
		Live: live.Config{
			MaxReconnectAttempts: cfg.LiveMaxReconnects,
			InitialInterval:      cfg.LiveReconnectInitial,
			MaxInterval:          cfg.LiveReconnectMax,
		},
		IdleTimeout: cfg.SessionIdleTimeout,
	}, log)
	defer manager.Close()
	go manager.Run(ctx)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient, manager)
	consoleHandler := handler.NewConsoleHandler(manager, log)
	streamHandler := handler.NewStreamHandler(consoleHandler, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		handler.Mount(r, consoleHandler, streamHandler,
			middleware.UserRateLimit(cfg.SendRateLimit, cfg.RateLimitWindow))
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	stop()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
