// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound = errors.New("not found")

	// Classification errors.
	ErrNoPriorPrediction = errors.New("no prior prediction for transaction")
	ErrAccuracyFloor     = errors.New("retrained model below accuracy floor")
	ErrNoTrainingData    = errors.New("no training data available")

	// Bus errors.
	ErrBusClosed = errors.New("event bus closed")

	// Configuration errors.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
