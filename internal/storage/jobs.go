package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/varo-app/varo/internal/common"
	"github.com/varo-app/varo/internal/model"
)

// SaveJob inserts or updates a job's persisted state.
func (s *SQLiteStorage) SaveJob(ctx context.Context, job *model.Job) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateJob(job); err != nil {
		return err
	}

	success := 0
	if job.LastResult.Success {
		success = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, interval_ns, cron, state, last_run, last_success, last_err, last_finished_at, consecutive_failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			interval_ns = excluded.interval_ns,
			cron = excluded.cron,
			state = excluded.state,
			last_run = excluded.last_run,
			last_success = excluded.last_success,
			last_err = excluded.last_err,
			last_finished_at = excluded.last_finished_at,
			consecutive_failures = excluded.consecutive_failures
	`, job.ID, int64(job.Interval), job.Cron, string(job.State),
		nullableIfZero(job.LastRun), success, job.LastResult.Err,
		nullableIfZero(job.LastResult.FinishedAt), job.ConsecutiveFailures)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob retrieves a job by id.
func (s *SQLiteStorage) GetJob(ctx context.Context, id string) (*model.Job, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, jobSelect+` WHERE id = ?`, id)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns all persisted jobs.
func (s *SQLiteStorage) ListJobs(ctx context.Context) ([]model.Job, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, jobSelect+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []model.Job
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan job: %w", scanErr)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

const jobSelect = `
	SELECT id, interval_ns, cron, state, last_run, last_success, last_err, last_finished_at, consecutive_failures
	FROM jobs`

func scanJob(row scanner) (*model.Job, error) {
	var job model.Job
	var intervalNS, success int64
	var state string
	var lastRun, finishedAt sql.NullTime

	if err := row.Scan(&job.ID, &intervalNS, &job.Cron, &state, &lastRun,
		&success, &job.LastResult.Err, &finishedAt,
		&job.ConsecutiveFailures); err != nil {
		return nil, err
	}

	job.Interval = time.Duration(intervalNS)
	job.State = model.JobState(state)
	job.LastResult.Success = success == 1
	if lastRun.Valid {
		job.LastRun = lastRun.Time
	}
	if finishedAt.Valid {
		job.LastResult.FinishedAt = finishedAt.Time
	}
	return &job, nil
}

func nullableIfZero(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
