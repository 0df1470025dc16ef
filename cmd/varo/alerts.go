package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/varo-app/varo/internal/bus"
	"github.com/varo-app/varo/internal/model"
	"github.com/varo-app/varo/internal/pool"
	"github.com/varo-app/varo/internal/service"
	"github.com/varo-app/varo/internal/watchdog"
)

func alertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Inspect and manage spending alerts",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List alerts",
		RunE:  runAlertsList,
	}
	list.Flags().StringP("user", "u", "", "filter by user id")
	list.Flags().String("status", "", "filter by status (active, acknowledged, resolved)")
	list.Flags().String("severity", "", "minimum severity (low, medium, high, critical)")
	list.Flags().Int("limit", 0, "maximum number of alerts (0 = all)")

	ack := &cobra.Command{
		Use:   "ack <alert-id>",
		Short: "Acknowledge an alert",
		Args:  cobra.ExactArgs(1),
		RunE:  runAlertsAck,
	}
	ack.Flags().String("notes", "", "optional acknowledgement notes")

	resolve := &cobra.Command{
		Use:   "resolve <alert-id>",
		Short: "Resolve an alert",
		Args:  cobra.ExactArgs(1),
		RunE:  runAlertsResolve,
	}

	cmd.AddCommand(list, ack, resolve)
	return cmd
}

// initWatchdog wires a watchdog over a standalone bus for one-shot commands,
// so lifecycle events still get published.
func initWatchdog(cmd *cobra.Command) (*watchdog.Watchdog, func(), error) {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	workers := pool.New(cfg.Scheduler.Workers)
	eventBus := bus.New(ctx, workers)

	dog := watchdog.New(store, eventBus, watchdog.Config{
		ZScoreThreshold:  cfg.Watchdog.ZScoreThreshold,
		PercentThreshold: cfg.Watchdog.PercentThreshold,
		Alpha:            cfg.Watchdog.Alpha,
		ScanEveryN:       cfg.Watchdog.ScanEveryN,
		MinObservations:  cfg.Watchdog.MinObservations,
	})

	cleanup := func() {
		eventBus.Close()
		workers.Wait()
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Failed to close database", "error", closeErr)
		}
	}
	return dog, cleanup, nil
}

func runAlertsList(cmd *cobra.Command, _ []string) error {
	userID, _ := cmd.Flags().GetString("user")
	status, _ := cmd.Flags().GetString("status")
	severity, _ := cmd.Flags().GetString("severity")
	limit, _ := cmd.Flags().GetInt("limit")

	dog, cleanup, err := initWatchdog(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	alerts, err := dog.ListAlerts(cmd.Context(), service.AlertFilter{
		UserID:   userID,
		Status:   model.AlertStatus(status),
		Severity: model.AlertSeverity(severity),
		Limit:    limit,
	})
	if err != nil {
		return err
	}

	if len(alerts) == 0 {
		slog.Info("No alerts match the filter")
		return nil
	}
	for _, alert := range alerts {
		slog.Info("Alert",
			"id", alert.ID,
			"user", alert.UserID,
			"type", alert.Type,
			"severity", alert.Severity,
			"status", alert.Status,
			"window", alert.Window,
			"current", alert.Evidence.Current,
			"average", alert.Evidence.Average)
	}
	return nil
}

func runAlertsAck(cmd *cobra.Command, args []string) error {
	notes, _ := cmd.Flags().GetString("notes")

	dog, cleanup, err := initWatchdog(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := dog.Acknowledge(cmd.Context(), args[0], notes); err != nil {
		return err
	}
	slog.Info("Alert acknowledged", "id", args[0])
	return nil
}

func runAlertsResolve(cmd *cobra.Command, args []string) error {
	dog, cleanup, err := initWatchdog(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := dog.Resolve(cmd.Context(), args[0]); err != nil {
		return err
	}
	slog.Info("Alert resolved", "id", args[0])
	return nil
}
