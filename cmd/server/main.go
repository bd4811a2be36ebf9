package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"watchsync/internal/core/ports"
	"watchsync/internal/core/services"
	httphandlers "watchsync/internal/handlers/http"
	"watchsync/internal/infrastructure/middleware"
	"watchsync/internal/infrastructure/monitoring"
	"watchsync/internal/infrastructure/relay"
	"watchsync/internal/infrastructure/repositories/memory"
	"watchsync/pkg/config"
	"watchsync/pkg/logger"
	"watchsync/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/watchsync/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	roomRepo := memory.NewMemoryRoomRepository()

	var sessionMetrics ports.SessionMetrics
	var connMetrics relay.ConnMetrics
	if cfg.Monitoring.PrometheusEnabled {
		collector := monitoring.NewPrometheusCollector()
		sessionMetrics = collector
		connMetrics = collector
	}

	registry := relay.NewRegistry()

	sessionService := services.NewSessionService(
		roomRepo,
		registry,
		sessionMetrics,
		services.SessionConfig{
			CorrectionThreshold: cfg.Sync.CorrectionThreshold,
			QualityGoodBelow:    cfg.Sync.QualityGoodBelow,
			QualityFairBelow:    cfg.Sync.QualityFairBelow,
		},
		log,
	)

	relayServer := relay.NewServer(
		sessionService,
		registry,
		connMetrics,
		relay.ServerConfig{
			PingInterval:        cfg.Relay.PingInterval,
			PongTimeout:         cfg.Relay.PongTimeout,
			WriteTimeout:        cfg.Relay.WriteTimeout,
			MessagesPerSecond:   cfg.Relay.MessagesPerSecond,
			Burst:               cfg.Relay.Burst,
			MaxMessageSizeBytes: cfg.Relay.MaxMessageSizeBytes,
		},
		log,
	)

	roomHandler := httphandlers.NewRoomHandler(sessionService, roomRepo)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	router.Use(middleware.HTTPRateLimit(cfg.Relay.MessagesPerSecond, cfg.Relay.Burst))
	if cfg.Tracing.Enabled {
		router.Use(middleware.Tracing(cfg.Tracing.ServiceName))
	}

	roomHandler.SetupRoutes(router)

	router.GET("/ws", gin.WrapF(relayServer.HandleWebSocket))
	router.GET("/healthz", gin.WrapF(relayServer.HealthCheck))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
		})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting watchsync server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down watchsync server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer provider", "error", err)
	}

	log.Info("watchsync server stopped")
}
