package model

import "time"

// JobState is the scheduler-visible state of a job.
type JobState string

// Job state constants. enabled -> running -> enabled on completion;
// enabled -> disabled after the consecutive-failure threshold. Disabled jobs
// require an explicit re-enable.
const (
	JobEnabled  JobState = "enabled"
	JobRunning  JobState = "running"
	JobDisabled JobState = "disabled"
)

// Schedule describes when a job runs: either a fixed interval or a cron
// expression. Exactly one of the two should be set.
type Schedule struct {
	Interval time.Duration
	Cron     string
}

// IsZero reports whether no schedule is set. Such jobs run only via manual
// trigger.
func (s Schedule) IsZero() bool {
	return s.Interval == 0 && s.Cron == ""
}

// JobResult records the outcome of the most recent run.
type JobResult struct {
	FinishedAt time.Time
	Err        string
	Success    bool
}

// Job is a unit of scheduled, retried, independently executed background
// work. Created at registration, mutated by the scheduler after each run,
// disabled (never deleted) past the failure threshold.
type Job struct {
	LastRun             time.Time
	ID                  string
	Cron                string
	LastResult          JobResult
	State               JobState
	Interval            time.Duration
	ConsecutiveFailures int
}

// Schedule returns the job's schedule description.
func (j *Job) Schedule() Schedule {
	return Schedule{Interval: j.Interval, Cron: j.Cron}
}
