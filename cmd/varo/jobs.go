package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage background jobs",
		Long: `List the persisted job registry, or control jobs in a running daemon
through its admin API. Trigger, enable and disable require 'varo watch' to
be running.`,
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered jobs",
		RunE:  runJobsList,
	}

	cmd.AddCommand(list)
	cmd.AddCommand(jobActionCmd("trigger", "Run a job immediately"))
	cmd.AddCommand(jobActionCmd("enable", "Re-enable a disabled job"))
	cmd.AddCommand(jobActionCmd("disable", "Disable a job"))
	return cmd
}

func runJobsList(cmd *cobra.Command, _ []string) error {
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

	jobs, err := store.ListJobs(ctx)
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		slog.Info("No jobs registered")
		return nil
	}
	for _, job := range jobs {
		schedule := job.Cron
		if schedule == "" && job.Interval > 0 {
			schedule = "every " + job.Interval.String()
		}
		slog.Info("Job",
			"id", job.ID,
			"state", job.State,
			"schedule", schedule,
			"last_run", job.LastRun.Format(time.RFC3339),
			"last_success", job.LastResult.Success,
			"consecutive_failures", job.ConsecutiveFailures)
	}
	return nil
}

// jobActionCmd builds a command that posts to the daemon's admin API.
func jobActionCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   fmt.Sprintf("%s <job-id>", action),
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			url := fmt.Sprintf("http://%s/jobs/%s/%s", cfg.Server.Addr, args[0], action)
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, nil)
			if err != nil {
				return err
			}

			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("is 'varo watch' running? %w", err)
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode >= 400 {
				var body struct {
					Error string `json:"error"`
				}
				raw, _ := io.ReadAll(resp.Body)
				if unmarshalErr := json.Unmarshal(raw, &body); unmarshalErr == nil && body.Error != "" {
					return fmt.Errorf("%s failed: %s", action, body.Error)
				}
				return fmt.Errorf("%s failed with status %d", action, resp.StatusCode)
			}

			slog.Info("Job "+action+"d", "id", args[0])
			return nil
		},
	}
}
