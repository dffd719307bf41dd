// Package main is the entrypoint for the quantcore daemon.
//
// The daemon wires the four subsystems together: the chronos scheduler owns
// the phase state machine and starts the decision path on active-phase
// entry; the watchdog probes the local signal engine; the failover service
// answers decision requests, consuming watchdog samples to drive routing;
// and the HTTP surface exposes status, health, operator controls, and the
// decision endpoint.
//
// Usage:
//
//	go run ./cmd/quantcored
//
// Configuration comes from the environment (see internal/config); a local
// .env file is honored for development.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"quantcore/internal/calendar"
	"quantcore/internal/chronos"
	"quantcore/internal/config"
	"quantcore/internal/core"
	"quantcore/internal/failover"
	"quantcore/internal/metrics"
	"quantcore/internal/remote"
	"quantcore/internal/types"
	"quantcore/internal/watchdog"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("daemon exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("daemon stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()

	cal, err := calendar.Load(cfg.Calendar.HolidayFile)
	if err != nil {
		return err
	}

	boundaries, err := cfg.Schedule.Boundaries()
	if err != nil {
		return err
	}
	location, err := cfg.Schedule.Location()
	if err != nil {
		return err
	}

	scheduler, err := chronos.NewScheduler(chronos.Config{
		Boundaries:   boundaries,
		Location:     location,
		Calendar:     cal,
		TickInterval: cfg.Schedule.TickInterval,
		Workers:      cfg.Schedule.Workers,
		Logger:       logger,
		Metrics:      collector,
	})
	if err != nil {
		return err
	}

	engine := newSignalEngine(cfg.Channel.Dir, cfg.Channel.Name, logger, collector)

	guard, err := watchdog.New(watchdog.Config{
		Component:           "signal-engine",
		Backend:             engine,
		ProbeInterval:       cfg.Watchdog.ProbeInterval,
		RecoveryBudget:      cfg.Watchdog.RecoveryBudget,
		MaxRecoveryAttempts: cfg.Watchdog.MaxRecoveryAttempts,
		Logger:              logger,
		Metrics:             collector,
	})
	if err != nil {
		return err
	}

	cloud, err := remote.NewClient(remote.Config{
		BaseURL: cfg.Failover.RemoteURL,
		Timeout: cfg.Failover.RemoteTimeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	decider, err := failover.NewService(failover.Config{
		Local:            engine,
		Remote:           cloud,
		FailureThreshold: cfg.Failover.FailureThreshold,
		RecoverySamples:  cfg.Failover.RecoverySamples,
		LocalBudget:      cfg.Failover.LocalBudget,
		EagerRemote:      cfg.Failover.EagerRemote,
		Logger:           logger,
		Metrics:          collector,
	})
	if err != nil {
		return err
	}

	// The signal engine follows the active phase: attach its channel
	// consumer on entry, detach on exit.
	scheduler.OnPhaseChange(func(ctx context.Context, from, to types.Phase) {
		switch {
		case to == types.PhaseActive:
			if err := engine.Attach(); err != nil {
				logger.ErrorContext(ctx, "engine attach on active entry failed", "error", err)
			}
		case from == types.PhaseActive:
			if err := engine.Detach(); err != nil {
				logger.WarnContext(ctx, "engine detach on active exit failed", "error", err)
			}
		}
	})

	server, err := core.NewServer(cfg, logger, scheduler, decider, guard)
	if err != nil {
		return err
	}
	server.Metrics = collector
	server.Probes = []core.HealthProbe{
		probe{name: "signal-engine", check: engine.Probe},
	}
	server.MountRoutes()

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return scheduler.Run(ctx) })
	g.Go(func() error { return guard.Run(ctx) })
	g.Go(func() error { return decider.Run(ctx, guard.Subscribe(16)) })

	g.Go(func() error {
		logger.Info("http server listening", "port", cfg.Server.Port, "environment", cfg.Environment)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown incomplete", "error", err)
		}
		if err := engine.Detach(); err != nil {
			logger.Warn("engine detach on shutdown failed", "error", err)
		}
		return ctx.Err()
	})

	logger.Info("daemon started",
		"phase", scheduler.Current(),
		"channel", cfg.Channel.Name,
		"remote", cfg.Failover.RemoteURL,
	)
	return g.Wait()
}

// probe adapts a check function to the health probe interface.
type probe struct {
	name  string
	check func(ctx context.Context) error
}

func (p probe) Name() string                    { return p.name }
func (p probe) Check(ctx context.Context) error { return p.check(ctx) }

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
