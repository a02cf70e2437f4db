package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"footballtips/predictions/internal/api"
	"footballtips/predictions/internal/cache"
	"footballtips/predictions/internal/client"
	"footballtips/predictions/internal/config"
	"footballtips/predictions/internal/jobs"
	"footballtips/predictions/internal/metrics"
	"footballtips/predictions/internal/repository"
	"footballtips/predictions/internal/scheduler"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Setup logger
	setupLogger()

	log.Info().Msg("Starting football prediction worker")

	// Load configuration
	cfg := config.MustLoad()
	log.Info().
		Str("env", cfg.AppEnv).
		Str("log_level", cfg.LogLevel).
		Strs("competitions", cfg.Competitions).
		Msg("Configuration loaded")

	// Create context that listens for cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Received shutdown signal, gracefully shutting down...")
		cancel()
	}()

	// Apply schema migrations before opening the pool
	if cfg.AutoMigrate {
		if err := repository.Migrate(cfg.DatabaseDSN()); err != nil {
			log.Fatal().Err(err).Msg("Failed to run database migrations")
		}
	}

	// Initialize database connection
	db, err := repository.NewDatabase(ctx, cfg.DatabaseConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	// Initialize Redis cache; the service runs without it
	var predictionCache cache.PredictionCache = cache.Nop{}
	redisCache, err := cache.NewRedisCache(cache.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      time.Duration(cfg.CacheTTLPredictions) * time.Second,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to Redis - continuing without cache")
	} else {
		defer redisCache.Close()
		predictionCache = redisCache
		log.Info().Msg("Redis cache connected")
	}

	// Initialize the data feed client when a key is configured
	var feed jobs.Feed
	if cfg.FeedAPIKey != "" {
		feed = client.NewClient(cfg.FeedBaseURL, cfg.FeedAPIKey, client.Options{
			Timeout:        cfg.FeedTimeout,
			RequestsPerSec: cfg.FeedRateLimit,
		})
		log.Info().Str("base_url", cfg.FeedBaseURL).Msg("Feed client initialized")
	} else {
		log.Warn().Msg("FEED_API_KEY not set - feed sync disabled")
	}

	svc := jobs.NewService(jobs.StoresFrom(db), feed, predictionCache, cfg.JobsConfig())

	// Start metrics HTTP server
	if cfg.EnableMetrics {
		go startMetricsServer(cfg.MetricsPort)
	}

	// Update system uptime and pool metrics
	startTime := time.Now()
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.SystemUptime.Set(time.Since(startTime).Seconds())
				stat := db.Pool.Stat()
				metrics.UpdateDBConnectionStats(stat.AcquiredConns(), stat.IdleConns())
			case <-ctx.Done():
				return
			}
		}
	}()

	// Start the HTTP API
	handler := api.NewHandler(svc, db, cfg.JobTimeout, cfg.MaxBatchSize)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.IngestionPort),
		Handler:           handler.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.JobTimeout + 5*time.Second,
	}
	go func() {
		log.Info().Int("port", cfg.IngestionPort).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("API server failed")
			cancel()
		}
	}()

	// Create and start scheduler
	sched := scheduler.NewScheduler(cfg, svc, feed != nil)

	if cfg.EnableScheduler {
		log.Info().Msg("Starting scheduler...")
		if err := sched.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start scheduler")
		}
	}

	// Keep running until context is cancelled
	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info().Msg("Shutting down API server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server shutdown failed")
	}

	if cfg.EnableScheduler {
		log.Info().Msg("Shutting down scheduler...")
		sched.Stop()
	}

	log.Info().Msg("Worker shutdown complete")
}

// setupLogger configures the zerolog logger
func setupLogger() {
	// Pretty console logging in development
	if os.Getenv("APP_ENV") == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}

	// Set log level
	level := zerolog.InfoLevel
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		parsedLevel, err := zerolog.ParseLevel(lvl)
		if err == nil {
			level = parsedLevel
		}
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("level", level.String()).
		Msg("Logger initialized")
}

// startMetricsServer starts the Prometheus metrics HTTP server
func startMetricsServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	log.Info().Int("port", port).Msg("Starting metrics server")

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("Metrics server failed")
	}
}
