package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/varo-app/varo/internal/common"
)

func retrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retrain",
		Short: "Rebuild the statistical model from the correction history",
		Long: `Rebuild the statistical categorization layer from all corrections and
categorized transactions. The new model replaces the current one only if it
clears the accuracy floor on a held-out split.`,
		RunE: runRetrain,
	}
}

func runRetrain(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	eng, cleanup, err := initEngine(ctx, cfg, store)
	if err != nil {
		return err
	}
	defer cleanup()

	err = eng.Retrain(ctx)
	switch {
	case errors.Is(err, common.ErrNoTrainingData):
		slog.Warn("No training data yet; model unchanged")
		return nil
	case errors.Is(err, common.ErrAccuracyFloor):
		slog.Warn("Candidate model below accuracy floor; previous model retained", "error", err)
		return nil
	case err != nil:
		return err
	}

	slog.Info("Retrain complete", "version", eng.ModelVersion())
	return nil
}
