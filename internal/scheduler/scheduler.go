// Package scheduler drives all periodic and background analysis: a job
// registry plus an explicit tick loop with bounded timeouts, retries, and
// failure isolation. Jobs publish their results onto the event bus.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"

	"github.com/varo-app/varo/internal/common"
	"github.com/varo-app/varo/internal/model"
	"github.com/varo-app/varo/internal/service"
)

var (
	jobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "varo_scheduler_job_runs_total",
		Help: "Job runs by job id and outcome.",
	}, []string{"job", "outcome"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "varo_scheduler_job_duration_seconds",
		Help:    "Job handler durations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
)

// HandlerFunc is the unit of work a job executes. Handlers must honor ctx
// cancellation at safe points and leave shared state consistent when
// canceled.
type HandlerFunc func(ctx context.Context) error

// JobSpec describes a job at registration time.
type JobSpec struct {
	Handler    HandlerFunc
	ID         string
	Schedule   model.Schedule
	Timeout    time.Duration
	MaxRetries int
}

// Config holds configuration options for the scheduler.
type Config struct {
	TickInterval           time.Duration
	DefaultTimeout         time.Duration
	MaxRetries             int
	MaxConsecutiveFailures int
	InitialBackoff         time.Duration
	MaxBackoff             time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		TickInterval:           time.Second,
		DefaultTimeout:         2 * time.Minute,
		MaxRetries:             3,
		MaxConsecutiveFailures: 3,
		InitialBackoff:         500 * time.Millisecond,
		MaxBackoff:             30 * time.Second,
	}
}

// cronParser accepts standard five-field cron expressions.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// jobEntry pairs a registered spec with its persisted state.
type jobEntry struct {
	registered time.Time
	spec       JobSpec
	job        *model.Job
	cronSched  cron.Schedule
	running    bool
}

// Scheduler owns the job registry and the execution loop. A single
// misbehaving job never crashes the loop or blocks other jobs: each run goes
// through the shared worker pool with its own timeout.
type Scheduler struct {
	storage   service.Storage
	publisher service.Publisher
	pool      service.Pool
	jobs      map[string]*jobEntry
	config    Config
	mu        sync.Mutex
}

// New creates a scheduler.
func New(storage service.Storage, publisher service.Publisher, p service.Pool, config Config) *Scheduler {
	if config.TickInterval <= 0 {
		config.TickInterval = time.Second
	}
	return &Scheduler{
		storage:   storage,
		publisher: publisher,
		pool:      p,
		jobs:      make(map[string]*jobEntry),
		config:    config,
	}
}

// Register adds a job to the registry, reconciling with state persisted from
// earlier runs so failure counters and the enabled flag survive restarts.
func (s *Scheduler) Register(ctx context.Context, spec JobSpec) error {
	if spec.ID == "" {
		return fmt.Errorf("%w: job id required", common.ErrInvalidConfig)
	}
	if spec.Handler == nil {
		return fmt.Errorf("%w: job %s has no handler", common.ErrInvalidConfig, spec.ID)
	}
	if spec.Timeout <= 0 {
		spec.Timeout = s.config.DefaultTimeout
	}
	if spec.MaxRetries <= 0 {
		spec.MaxRetries = s.config.MaxRetries
	}

	entry := &jobEntry{
		spec:       spec,
		registered: time.Now(),
	}

	if spec.Schedule.Cron != "" {
		sched, err := cronParser.Parse(spec.Schedule.Cron)
		if err != nil {
			return fmt.Errorf("invalid cron expression for job %s: %w", spec.ID, err)
		}
		entry.cronSched = sched
	}

	persisted, err := s.storage.GetJob(ctx, spec.ID)
	switch {
	case err == nil:
		// Carry over history; a job mid-"running" at crash time resumes
		// as enabled.
		if persisted.State == model.JobRunning {
			persisted.State = model.JobEnabled
		}
		persisted.Interval = spec.Schedule.Interval
		persisted.Cron = spec.Schedule.Cron
		entry.job = persisted
	case errors.Is(err, common.ErrNotFound):
		entry.job = &model.Job{
			ID:       spec.ID,
			State:    model.JobEnabled,
			Interval: spec.Schedule.Interval,
			Cron:     spec.Schedule.Cron,
		}
	default:
		return fmt.Errorf("failed to load job %s: %w", spec.ID, err)
	}

	if err := s.storage.SaveJob(ctx, entry.job); err != nil {
		return fmt.Errorf("failed to persist job %s: %w", spec.ID, err)
	}

	s.mu.Lock()
	s.jobs[spec.ID] = entry
	s.mu.Unlock()

	slog.Info("Job registered",
		"job", spec.ID,
		"interval", spec.Schedule.Interval,
		"cron", spec.Schedule.Cron,
		"state", entry.job.State)

	return nil
}

// Start runs the tick loop until the context is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.config.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.tick(ctx, now)
			}
		}
	}()
}

// tick evaluates due-ness for every registered job and launches the due ones.
// A long-running job does not delay evaluation of others: runs go to the
// worker pool and the running flag keeps a job from overlapping itself.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*jobEntry
	for _, entry := range s.jobs {
		if entry.job.State != model.JobEnabled || entry.running {
			continue
		}
		if s.isDue(entry, now) {
			entry.running = true
			entry.job.State = model.JobRunning
			due = append(due, entry)
		}
	}
	s.mu.Unlock()

	for _, entry := range due {
		entry := entry
		s.pool.Submit(ctx, func() {
			s.runJob(ctx, entry)
		})
	}
}

// isDue computes whether a job's schedule has elapsed. Jobs with no schedule
// run only via manual trigger. Caller holds s.mu.
func (s *Scheduler) isDue(entry *jobEntry, now time.Time) bool {
	last := entry.job.LastRun
	if last.IsZero() {
		last = entry.registered
	}

	if entry.cronSched != nil {
		return !entry.cronSched.Next(last).After(now)
	}
	if entry.spec.Schedule.Interval > 0 {
		return now.Sub(last) >= entry.spec.Schedule.Interval
	}
	return false
}

// runJob executes one job run with timeout, retries, and failure accounting.
func (s *Scheduler) runJob(ctx context.Context, entry *jobEntry) {
	jobID := entry.spec.ID
	started := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, entry.spec.Timeout)
	defer cancel()

	err := common.WithRetry(runCtx, func() error {
		if handlerErr := entry.spec.Handler(runCtx); handlerErr != nil {
			return &common.RetryableError{Err: handlerErr, Retryable: true}
		}
		return nil
	}, common.RetryOptions{
		MaxAttempts:  entry.spec.MaxRetries,
		InitialDelay: s.config.InitialBackoff,
		MaxDelay:     s.config.MaxBackoff,
		Multiplier:   2.0,
	})

	jobDuration.WithLabelValues(jobID).Observe(time.Since(started).Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()

	entry.running = false
	entry.job.LastRun = started
	entry.job.LastResult = model.JobResult{
		FinishedAt: time.Now(),
		Success:    err == nil,
	}

	if err == nil {
		jobRuns.WithLabelValues(jobID, "success").Inc()
		entry.job.ConsecutiveFailures = 0
		entry.job.State = model.JobEnabled
	} else {
		jobRuns.WithLabelValues(jobID, "failure").Inc()
		entry.job.LastResult.Err = err.Error()
		entry.job.ConsecutiveFailures++
		entry.job.State = model.JobEnabled

		slog.Error("Job run failed",
			"job", jobID,
			"consecutive_failures", entry.job.ConsecutiveFailures,
			"error", err)

		if entry.job.ConsecutiveFailures >= s.config.MaxConsecutiveFailures {
			entry.job.State = model.JobDisabled
			slog.Error("Job disabled after repeated failures",
				"job", jobID,
				"failures", entry.job.ConsecutiveFailures)

			// Operational signal so a human can intervene.
			s.publisher.Publish(model.Event{
				Type: model.EventJobDisabled,
				Payload: model.JobDisabledPayload{
					JobID:    jobID,
					LastErr:  err.Error(),
					Failures: entry.job.ConsecutiveFailures,
				},
			})
		}
	}

	if saveErr := s.storage.SaveJob(ctx, entry.job); saveErr != nil {
		slog.Warn("Failed to persist job state", "job", jobID, "error", saveErr)
	}
}

// Trigger runs a job immediately, bypassing its schedule but keeping the
// same timeout and retry machinery. Disabled jobs are rejected.
func (s *Scheduler) Trigger(ctx context.Context, jobID string) error {
	s.mu.Lock()
	entry, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %s: %w", jobID, common.ErrNotFound)
	}
	if entry.job.State == model.JobDisabled {
		s.mu.Unlock()
		return fmt.Errorf("job %s: %w", jobID, model.ErrJobDisabled)
	}
	if entry.running {
		s.mu.Unlock()
		return fmt.Errorf("job %s: %w", jobID, model.ErrJobRunning)
	}
	entry.running = true
	entry.job.State = model.JobRunning
	s.mu.Unlock()

	s.pool.Submit(ctx, func() {
		s.runJob(ctx, entry)
	})

	return nil
}

// Enable re-enables a disabled job and resets its failure counter.
func (s *Scheduler) Enable(ctx context.Context, jobID string) error {
	return s.setState(ctx, jobID, model.JobEnabled, true)
}

// Disable takes a job off the schedule without deleting it.
func (s *Scheduler) Disable(ctx context.Context, jobID string) error {
	return s.setState(ctx, jobID, model.JobDisabled, false)
}

func (s *Scheduler) setState(ctx context.Context, jobID string, state model.JobState, resetFailures bool) error {
	s.mu.Lock()
	entry, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("job %s: %w", jobID, common.ErrNotFound)
	}
	entry.job.State = state
	if resetFailures {
		entry.job.ConsecutiveFailures = 0
	}
	job := *entry.job
	s.mu.Unlock()

	if err := s.storage.SaveJob(ctx, &job); err != nil {
		return fmt.Errorf("failed to persist job %s: %w", jobID, err)
	}

	slog.Info("Job state changed", "job", jobID, "state", state)
	return nil
}

// List returns a snapshot of every registered job and its last-run status.
func (s *Scheduler) List() []model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]model.Job, 0, len(s.jobs))
	for _, entry := range s.jobs {
		jobs = append(jobs, *entry.job)
	}
	return jobs
}
