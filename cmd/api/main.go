// Package main is the entry point for the capacity controller service.
//
// It loads configuration, connects to the database, builds the schedule
// trigger registry and the auto-manager orchestrator, runs an initial
// schedule reconciliation, and serves the HTTP API until a shutdown signal
// arrives. Graceful shutdown stops the HTTP server first, then the trigger
// registry and the inactivity tracker, and finally closes the pool.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"capacityd/internal/activity"
	"capacityd/internal/api/handlers"
	"capacityd/internal/capacity"
	"capacityd/internal/config"
	"capacityd/internal/core"
	"capacityd/internal/db"
	"capacityd/internal/external"
	"capacityd/internal/manager"
	"capacityd/internal/schedule"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("capacityd starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	settingsRepo := db.NewSettingsRepo(pool)
	scheduleRepo := db.NewScheduleRepo(pool)
	heartbeatRepo := db.NewHeartbeatRepo(pool)

	providerClient := external.NewCapacityClient(
		&http.Client{Timeout: cfg.Provider.Timeout},
		cfg.Provider,
		logger,
	)
	executor := capacity.NewExecutor(providerClient, logger)
	aggregator := activity.NewAggregator(heartbeatRepo, cfg.Controller.ActivityWindow)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	mgr := manager.New(
		settingsRepo,
		scheduleRepo,
		aggregator,
		executor,
		srv.Metrics,
		manager.Config{
			ResumePollAttempts: cfg.Controller.ResumePollAttempts,
			ResumePollInterval: cfg.Controller.ResumePollInterval,
		},
		logger,
	)

	scheduler := schedule.NewService(logger)
	defer scheduler.Stop()
	mgr.SetReconciler(schedule.NewReconciler(
		scheduler,
		mgr.Callbacks(),
		cfg.Controller.ActivityCheckInterval,
		logger,
	))

	tracker := activity.NewTracker(
		cfg.Controller.WarningThreshold,
		cfg.Controller.CapacityIdleThreshold,
		mgr,
		logger,
	)
	tracker.Start(cfg.Controller.ActivityCheckInterval)
	defer tracker.Stop()

	// Replay the persisted schedule into fresh triggers. Trigger state is
	// in-memory only and did not survive the last restart. Failure is not
	// fatal: the reconcile endpoint can retry once the database is back.
	if summary, err := mgr.ReconcileSchedule(ctx); err != nil {
		logger.Error("startup reconciliation failed", "error", err)
	} else {
		logger.Info("startup reconciliation complete",
			"window_count", summary.ScheduleWindowCount,
			"rebuilt", summary.Rebuilt,
		)
	}

	srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{
		ProbeName: "database",
		Fn:        pool.Ping,
	})

	capacityHandler := handlers.NewCapacityHandler(
		mgr,
		aggregator,
		tracker,
		srv.Validator,
		logger,
	)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		capacityHandler.RegisterRoutes(r)
	})

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// runHTTPServer starts the HTTP listener and blocks until a shutdown signal
// or a server error.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger at the given level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
