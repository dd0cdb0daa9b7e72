package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/weather-collector/internal/adapter/http"
	"github.com/couchcryptid/weather-collector/internal/app"
	"github.com/couchcryptid/weather-collector/internal/config"
	"github.com/couchcryptid/weather-collector/internal/domain"
	"github.com/couchcryptid/weather-collector/internal/observability"
	"github.com/couchcryptid/weather-collector/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Dependencies{
		Ready:        a.Coordinator,
		Runner:       a.Coordinator,
		Observations: a.Store,
		RunTimeout:   cfg.RunTimeout,
	}, logger)

	var sched *scheduler.Scheduler
	if cfg.ScheduleEnabled {
		sched, err = scheduler.New(a.Coordinator, scheduler.Options{
			Schedule:   cfg.ScheduleCron,
			Timeout:    cfg.RunTimeout,
			Retries:    cfg.RunRetries,
			RetryDelay: cfg.RunRetryDelay,
			Clock:      domain.Clock(),
		}, logger)
		if err != nil {
			logger.Error("invalid schedule", "error", err)
			_ = a.Close()
			os.Exit(1)
		}
		sched.Start()
	} else {
		logger.Info("scheduled runs disabled")
	}

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if sched != nil {
		sched.Stop(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	_ = a.Close()

	logger.Info("shutdown complete")
}
