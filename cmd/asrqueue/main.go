package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asrqueue/asrqueue/internal/api"
	"github.com/asrqueue/asrqueue/internal/asr/whisperd"
	"github.com/asrqueue/asrqueue/internal/config"
	"github.com/asrqueue/asrqueue/internal/job"
	"github.com/asrqueue/asrqueue/internal/service"
	"github.com/asrqueue/asrqueue/internal/staging"
	"github.com/asrqueue/asrqueue/internal/sweeper"
	"github.com/asrqueue/asrqueue/internal/worker"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		slog.Error("workdir", "error", err)
		os.Exit(1)
	}

	store, err := job.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		slog.Error("store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	area, err := staging.NewArea(cfg.WorkDir)
	if err != nil {
		slog.Error("staging", "error", err)
		os.Exit(1)
	}

	svc := service.New(store, area)
	transcriber := whisperd.New(cfg.WhisperdURL, cfg.WhisperdTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background tasks are owned here: constructed and started explicitly,
	// stopped by cancelling ctx on shutdown.
	worker.New(store, area, transcriber, cfg.PollInterval, 0).Start(ctx)
	sweeper.New(store, area, cfg.ReadRetention, cfg.AbandonedRetention).Start(ctx)

	mux := http.NewServeMux()
	api.NewHandler(svc, cfg).RegisterRoutes(mux)

	handler := api.Chain(mux,
		api.CORS(cfg.CORSOrigins),
		api.RequestID,
		api.Logging,
		api.RateLimit(cfg.RateLimitRPS),
		api.Auth(cfg.APIKeys),
	)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  10 * time.Minute, // uploads can be large
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		slog.Info("shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("asrqueue listening", "addr", cfg.ListenAddr, "whisperd", cfg.WhisperdURL)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
