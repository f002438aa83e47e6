package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/drbilel35-sudo/cctv-backend/internal/cache"
	"github.com/drbilel35-sudo/cctv-backend/internal/config"
	"github.com/drbilel35-sudo/cctv-backend/internal/database"
	"github.com/drbilel35-sudo/cctv-backend/internal/logging"
	"github.com/drbilel35-sudo/cctv-backend/internal/metrics"
	"github.com/drbilel35-sudo/cctv-backend/internal/middleware"
	"github.com/drbilel35-sudo/cctv-backend/internal/queue"
	"github.com/drbilel35-sudo/cctv-backend/internal/recording"
	"github.com/drbilel35-sudo/cctv-backend/internal/storage"
	"github.com/drbilel35-sudo/cctv-backend/internal/stream"
	"github.com/drbilel35-sudo/cctv-backend/internal/tracing"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	middleware.SetJWTSecret(cfg.Auth.JWTSecret)

	if cfg.Tracing.Enabled {
		_, closer, err := tracing.InitTracer("stream-session-manager", cfg.Tracing.Endpoint)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize tracer")
		}
		defer closer.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := database.New(cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}

	repo := database.NewRepository(db)

	// Stats cache
	statsCache, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer statsCache.Close()

	// Process adapter and session manager
	adapter := stream.NewFFmpegAdapter(stream.FFmpegAdapterConfig{
		FFmpegPath:      cfg.Stream.FFmpegPath,
		HLSRoot:         cfg.Stream.HLSDir,
		StartTimeout:    cfg.Stream.StartTimeout,
		GracefulTimeout: cfg.Stream.GracefulTimeout,
	}, logger)

	manager := stream.NewManager(stream.ManagerConfig{
		DefaultQuality:    cfg.Stream.DefaultQuality,
		DefaultOutputMode: cfg.Stream.DefaultOutputMode,
		DefaultMaxViewers: cfg.Stream.DefaultMaxViewers,
		SegmentDuration:   cfg.Stream.SegmentDuration,
		PlaylistLength:    cfg.Stream.PlaylistLength,
		FallbackToHLS:     cfg.Stream.FallbackToHLS,
	}, adapter, repo, repo, logger)
	manager.SetStatsCache(statsCache)

	// Event bridge
	if cfg.Queue.Enabled {
		q, err := queue.New(cfg.Queue)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to queue")
		}
		defer q.Close()
		manager.SetEventBridge(q)
	}

	// Recording
	var recorder *recording.Recorder
	if cfg.Storage.Enabled {
		store, err := storage.New(cfg.Storage)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize storage")
		}
		recorder = recording.NewRecorder(cfg.Stream.FFmpegPath, cfg.Stream.RecordingDir, store, logger)
	} else {
		recorder = recording.NewRecorder(cfg.Stream.FFmpegPath, cfg.Stream.RecordingDir, nil, logger)
	}
	manager.SetRecorder(recorder)

	// Crash detection loop
	go manager.Run(ctx)

	// Metrics server
	if cfg.Metrics.Enabled {
		metricsSrv := metrics.NewServer(cfg.Metrics.Port)
		go func() {
			if err := metricsSrv.Start(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Error("Metrics server failed")
			}
		}()
		defer metricsSrv.Shutdown(context.Background())
	}

	// HTTP server
	server := NewServer(manager, repo, statsCache, cfg, logger)
	router := server.Router()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	// Stop all active sessions so no orphaned ffmpeg processes outlive us.
	manager.Shutdown(shutdownCtx)
	recorder.Shutdown()
	cancel()

	logger.Info("Server stopped")
}
