package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify [transaction-id]",
		Short: "Categorize a transaction",
		Long: `Categorize a stored transaction by id, or try an ad-hoc description
against the current rules and model without touching the database.

Examples:
  varo classify txn-123
  varo classify --description "K-Market Kallio" --amount -23.50`,
		Args: cobra.MaximumNArgs(1),
		RunE: runClassify,
	}

	cmd.Flags().StringP("description", "d", "", "ad-hoc description to classify")
	cmd.Flags().Float64P("amount", "a", 0, "ad-hoc amount to classify")

	return cmd
}

func runClassify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	description, _ := cmd.Flags().GetString("description")
	amount, _ := cmd.Flags().GetFloat64("amount")

	if len(args) == 0 && description == "" {
		return fmt.Errorf("provide a transaction id or --description")
	}

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

	if len(args) == 0 {
		prediction := eng.Classify(ctx, description, amount)
		slog.Info("Classified",
			"description", description,
			"category", prediction.Category,
			"confidence", fmt.Sprintf("%.3f", prediction.Confidence),
			"source", prediction.Source)
		return nil
	}

	txn, err := store.GetTransactionByID(ctx, args[0])
	if err != nil {
		return err
	}

	prediction := eng.ClassifyTransaction(ctx, *txn)
	slog.Info("Classified",
		"transaction_id", txn.ID,
		"description", txn.Description,
		"category", prediction.Category,
		"confidence", fmt.Sprintf("%.3f", prediction.Confidence),
		"source", prediction.Source)
	return nil
}
