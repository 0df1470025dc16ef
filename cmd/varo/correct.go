package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/varo-app/varo/internal/model"
)

func correctCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "correct <transaction-id> <category>",
		Short: "Override a predicted category",
		Long: `Record the true category for a transaction. The correction becomes
ground truth for the next retraining cycle.

Valid categories: ` + categoriesHelp(),
		Args: cobra.ExactArgs(2),
		RunE: runCorrect,
	}
}

func categoriesHelp() string {
	out := ""
	for i, c := range model.AllCategories() {
		if i > 0 {
			out += ", "
		}
		out += string(c)
	}
	return out
}

func runCorrect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	transactionID := args[0]
	category := model.Category(args[1])

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

	priorConfidence := 0.0
	if prior, predErr := store.GetLatestPrediction(ctx, transactionID); predErr == nil {
		priorConfidence = prior.Confidence
	}

	if err := eng.Correct(ctx, transactionID, category, priorConfidence); err != nil {
		return err
	}

	slog.Info("Category corrected", "transaction_id", transactionID, "category", category)
	return nil
}
