package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/varo-app/varo/internal/model"
)

func rescanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rescan",
		Short: "Reclassify a user's transactions over a period",
		Long: `Run every transaction in the period back through the current rules and
model. By default only uncategorized transactions are touched; --all
reclassifies everything.

Examples:
  varo rescan --user alice --from 2026-01 --to 2026-06
  varo rescan --user alice --from 2026-01 --to 2026-06 --all`,
		RunE: runRescan,
	}

	cmd.Flags().StringP("user", "u", "", "user id to rescan (required)")
	cmd.Flags().String("from", "", "start month, inclusive (format: 2026-01)")
	cmd.Flags().String("to", "", "end month, inclusive (format: 2026-06)")
	cmd.Flags().Bool("all", false, "reclassify already categorized transactions too")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runRescan(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	userID, _ := cmd.Flags().GetString("user")
	fromStr, _ := cmd.Flags().GetString("from")
	toStr, _ := cmd.Flags().GetString("to")
	all, _ := cmd.Flags().GetBool("all")

	start, end, err := parsePeriod(fromStr, toStr)
	if err != nil {
		return err
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

	transactions, err := store.GetTransactionsByUserAndPeriod(ctx, userID, start, end)
	if err != nil {
		return err
	}

	pending := transactions[:0:0]
	for _, txn := range transactions {
		if all || txn.Category == "" || txn.Category == model.CategoryUncategorized {
			pending = append(pending, txn)
		}
	}

	if len(pending) == 0 {
		slog.Info("Nothing to rescan", "user", userID)
		return nil
	}

	bar := progressbar.NewOptions(len(pending),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Reclassifying transactions..."),
	)

	counts := make(map[model.Category]int)
	for _, txn := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		prediction := eng.ClassifyTransaction(ctx, txn)
		counts[prediction.Category]++
		if err := bar.Add(1); err != nil {
			slog.Warn("Failed to update progress bar", "error", err)
		}
	}

	slog.Info("Rescan complete", "user", userID, "transactions", len(pending))
	for category, n := range counts {
		slog.Info("Rescan result", "category", category, "count", n)
	}
	return nil
}

// parsePeriod turns inclusive month flags into a [start, end) range. Missing
// flags default to the last twelve months.
func parsePeriod(fromStr, toStr string) (start, end time.Time, err error) {
	now := time.Now().UTC()
	start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(-1, 0, 0)
	end = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)

	if fromStr != "" {
		start, err = time.Parse("2006-01", fromStr)
		if err != nil {
			return start, end, fmt.Errorf("invalid --from month (use YYYY-MM): %w", err)
		}
	}
	if toStr != "" {
		to, parseErr := time.Parse("2006-01", toStr)
		if parseErr != nil {
			return start, end, fmt.Errorf("invalid --to month (use YYYY-MM): %w", parseErr)
		}
		end = to.AddDate(0, 1, 0)
	}
	if !end.After(start) {
		return start, end, fmt.Errorf("--to must not be before --from")
	}
	return start, end, nil
}
