package main

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/varo-app/varo/internal/bus"
	"github.com/varo-app/varo/internal/config"
	"github.com/varo-app/varo/internal/engine"
	"github.com/varo-app/varo/internal/pool"
	"github.com/varo-app/varo/internal/service"
	"github.com/varo-app/varo/internal/storage"
)

// loadConfig materializes the typed configuration from viper's merged state.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initStorage opens the database and brings the schema up to date.
func initStorage(ctx context.Context, cfg *config.Config) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// engineConfig maps the typed configuration onto the engine's knobs.
func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		RuleThreshold:  cfg.Engine.RuleThreshold,
		MinAccuracy:    cfg.Engine.MinAccuracy,
		HoldoutEvery:   cfg.Engine.HoldoutEvery,
		MinEvalSamples: cfg.Engine.MinEvalSamples,
	}
}

// initEngine wires a worker pool, an event bus, and the engine for one-shot
// commands. The returned cleanup drains in-flight event deliveries.
func initEngine(ctx context.Context, cfg *config.Config, store service.Storage) (*engine.Engine, func(), error) {
	workers := pool.New(cfg.Scheduler.Workers)
	eventBus := bus.New(ctx, workers)
	cleanup := func() {
		eventBus.Close()
		workers.Wait()
	}

	eng, err := engine.New(ctx, store, eventBus, engineConfig(cfg))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return eng, cleanup, nil
}
