package model

import "errors"

// Domain state-machine errors.
var (
	// ErrAlertResolved indicates an operation on an alert already in its
	// terminal state.
	ErrAlertResolved = errors.New("alert already resolved")
	// ErrInvalidTransition indicates an alert state transition outside the
	// lifecycle machine.
	ErrInvalidTransition = errors.New("invalid alert state transition")
	// ErrJobDisabled indicates a trigger or run attempt on a disabled job.
	ErrJobDisabled = errors.New("job is disabled")
	// ErrJobRunning indicates a trigger attempt while the job is mid-run.
	ErrJobRunning = errors.New("job is already running")
)
