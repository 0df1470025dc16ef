package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/varo-app/varo/internal/bus"
	"github.com/varo-app/varo/internal/common"
	"github.com/varo-app/varo/internal/engine"
	"github.com/varo-app/varo/internal/model"
	"github.com/varo-app/varo/internal/pool"
	"github.com/varo-app/varo/internal/scheduler"
	"github.com/varo-app/varo/internal/server"
	"github.com/varo-app/varo/internal/watchdog"
)

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the signal core daemon",
		Long: `Start the long-running core: the event bus, the categorization engine,
the scheduler with its built-in jobs, the spending watchdog and the admin
HTTP server. Runs until interrupted.`,
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Failed to close database", "error", closeErr)
		}
	}()

	workers := pool.New(cfg.Scheduler.Workers)
	eventBus := bus.New(ctx, workers)

	eng, err := engine.New(ctx, store, eventBus, engineConfig(cfg))
	if err != nil {
		return err
	}

	dog := watchdog.New(store, eventBus, watchdog.Config{
		ZScoreThreshold:  cfg.Watchdog.ZScoreThreshold,
		PercentThreshold: cfg.Watchdog.PercentThreshold,
		Alpha:            cfg.Watchdog.Alpha,
		ScanEveryN:       cfg.Watchdog.ScanEveryN,
		MinObservations:  cfg.Watchdog.MinObservations,
	})

	schedConfig := scheduler.DefaultConfig()
	schedConfig.TickInterval = cfg.Scheduler.TickInterval
	schedConfig.MaxRetries = cfg.Scheduler.MaxRetries
	schedConfig.MaxConsecutiveFailures = cfg.Scheduler.MaxConsecutiveFailures
	sched := scheduler.New(store, eventBus, workers, schedConfig)

	// New transactions flow through the engine; categorized ones feed the
	// watchdog's baselines.
	eventBus.Subscribe(model.EventTransactionCreated, func(ctx context.Context, event model.Event) {
		txn, ok := event.Payload.(model.Transaction)
		if !ok {
			slog.Warn("Unexpected payload on transaction event", "type", event.Type)
			return
		}
		eng.ClassifyTransaction(ctx, txn)
	})
	eventBus.Subscribe(model.EventTransactionCategorized, dog.HandleTransactionCategorized)

	if err := registerJobs(ctx, sched, eng, dog); err != nil {
		return err
	}
	sched.Start(ctx)

	srv := server.New(cfg.Server.Addr, dog, sched)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	slog.Info("varo core running",
		"db", cfg.Storage.Path,
		"admin", cfg.Server.Addr,
		"workers", cfg.Scheduler.Workers)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Admin server shutdown failed", "error", err)
	}

	eventBus.Close()
	workers.Wait()
	return nil
}

// registerJobs installs the built-in background jobs.
func registerJobs(ctx context.Context, sched *scheduler.Scheduler, eng *engine.Engine, dog *watchdog.Watchdog) error {
	jobs := []scheduler.JobSpec{
		{
			ID:       "watchdog-scan",
			Schedule: model.Schedule{Interval: time.Hour},
			Timeout:  5 * time.Minute,
			Handler: func(ctx context.Context) error {
				return dog.ScanAll(ctx, time.Now())
			},
		},
		{
			ID:       "engine-retrain",
			Schedule: model.Schedule{Cron: "0 3 * * *"},
			Timeout:  10 * time.Minute,
			Handler: func(ctx context.Context) error {
				err := eng.Retrain(ctx)
				// Keeping the previous model is a valid outcome, not a
				// job failure.
				if errors.Is(err, common.ErrNoTrainingData) || errors.Is(err, common.ErrAccuracyFloor) {
					slog.Info("Retrain kept previous model", "reason", err)
					return nil
				}
				return err
			},
		},
		{
			ID:       "forecast-refresh",
			Schedule: model.Schedule{Cron: "30 3 * * *"},
			Timeout:  5 * time.Minute,
			Handler: func(ctx context.Context) error {
				return dog.RefreshForecasts(ctx, time.Now())
			},
		},
	}

	for _, spec := range jobs {
		if err := sched.Register(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}
