// Package main is the entry point for the behavioral platform server.
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
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sentientiq/behavioral-platform/internal/bridge"
	"github.com/sentientiq/behavioral-platform/internal/config"
	"github.com/sentientiq/behavioral-platform/internal/emotion"
	"github.com/sentientiq/behavioral-platform/internal/handler"
	"github.com/sentientiq/behavioral-platform/internal/intervention"
	"github.com/sentientiq/behavioral-platform/internal/middleware"
	natsclient "github.com/sentientiq/behavioral-platform/internal/nats"
	"github.com/sentientiq/behavioral-platform/internal/service"
	"github.com/sentientiq/behavioral-platform/pkg/logger"
	"github.com/sentientiq/behavioral-platform/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting behavioral platform server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "behavioral-platform", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to the event log
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	streamManager := natsclient.NewStreamManager(natsClient)
	if err := streamManager.EnsureStreams(ctx); err != nil {
		log.Error("failed to ensure streams", zap.Error(err))
		os.Exit(1)
	}

	// Cooldown store: Redis when shared state across replicas is needed,
	// in-process otherwise.
	var cooldowns intervention.CooldownStore
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("failed to connect to Redis", zap.Error(err))
			os.Exit(1)
		}
		defer redisClient.Close()
		cooldowns = intervention.NewRedisCooldownStore(redisClient, cfg.CooldownTTL)
		log.Info("using Redis cooldown store", zap.String("addr", cfg.RedisAddr))
	} else {
		memStore := intervention.NewMemoryCooldownStore(cfg.CooldownTTL)
		memStore.StartJanitor(cfg.CooldownTTL / 2)
		defer memStore.Stop()
		cooldowns = memStore
	}

	// Fan-out bridge
	hub := bridge.NewHub(streamManager, log)
	hub.StartHeartbeat(cfg.HeartbeatInterval)
	defer hub.Stop()

	// Session aggregator
	aggregator := emotion.NewAggregator(emotion.Config{
		Window:          cfg.EmotionWindow,
		IdleTTL:         cfg.SessionIdleTTL,
		PublishThrottle: cfg.PublishThrottle,
		ConfidenceFloor: cfg.ConfidenceFloor,
	}, streamManager, log)
	aggregator.StartSweeper(cfg.SweepInterval)
	defer aggregator.Stop()

	// Intervention engine
	engine := intervention.NewEngine(
		intervention.DefaultRules(cfg.DefaultCooldown),
		cooldowns,
		hub,
		streamManager,
		log,
	)

	// Pipeline consumers
	stopAggregator, err := streamManager.StartConsumer(ctx, natsclient.ConsumerConfig{
		Stream:        natsclient.TelemetryStream,
		Name:          "session-aggregator",
		FilterSubject: natsclient.AllTelemetrySubjects(),
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: cfg.MaxAckPending,
	}, aggregator.HandleMessage)
	if err != nil {
		log.Error("failed to start aggregator consumer", zap.Error(err))
		os.Exit(1)
	}
	defer stopAggregator()

	stopEngine, err := streamManager.StartConsumer(ctx, natsclient.ConsumerConfig{
		Stream:        natsclient.EmotionStream,
		Name:          "intervention-engine",
		FilterSubject: natsclient.AllEmotionSubjects(),
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: cfg.MaxAckPending,
	}, engine.HandleMessage)
	if err != nil {
		log.Error("failed to start intervention consumer", zap.Error(err))
		os.Exit(1)
	}
	defer stopEngine()

	// Services and handlers
	telemetrySvc := service.NewTelemetryService(streamManager, log)

	healthHandler := handler.NewHealthHandler(natsClient)
	telemetryHandler := handler.NewTelemetryHandler(telemetrySvc, cfg.MaxPayloadBytes, log)
	telemetryWSHandler := handler.NewTelemetryWSHandler(telemetrySvc, log)
	interventionHandler := handler.NewInterventionHandler(streamManager, log)
	streamHandler := handler.NewStreamHandler(streamManager, streamManager, cfg.HeartbeatInterval, log)
	bridgeWSHandler := bridge.NewWSHandler(hub, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", "X-Session-ID"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Agent ingestion. Agents fire and forget from arbitrary pages, so these
	// endpoints are rate limited per session rather than JWT-authenticated.
	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Post("/api/v1/telemetry", telemetryHandler.Ingest)
		r.Handle("/ws/telemetry", telemetryWSHandler)
		// Session-bound connection for receiving intervention pushes.
		r.Handle("/ws/session", bridgeWSHandler)
	})

	// Dashboard and ops surface
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RequireScope("interventions:read"))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/api/v1/interventions", interventionHandler.List)
		r.Get("/api/v1/interventions/stream", streamHandler.Stream)
		r.Handle("/ws/stream", bridgeWSHandler)
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
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
