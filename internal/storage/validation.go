// Package storage provides the data persistence layer for the varo core.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/varo-app/varo/internal/model"
)

// Validation errors.
var (
	ErrNilContext       = errors.New("context cannot be nil")
	ErrEmptyString      = errors.New("string parameter cannot be empty")
	ErrNilParameter     = errors.New("parameter cannot be nil")
	ErrEmptySlice       = errors.New("slice cannot be empty")
	ErrInvalidDateRange = errors.New("start date must be before end date")
	ErrInvalidModel     = errors.New("invalid model value")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateTransactions validates a slice of transactions.
func validateTransactions(transactions []model.Transaction) error {
	if transactions == nil {
		return fmt.Errorf("%w: transactions", ErrNilParameter)
	}
	if len(transactions) == 0 {
		return fmt.Errorf("%w: transactions", ErrEmptySlice)
	}

	for i, txn := range transactions {
		if err := validateTransaction(&txn); err != nil {
			return fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}
	return nil
}

// validateTransaction validates a single transaction.
func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.ID == "" {
		return fmt.Errorf("%w: transaction missing ID", ErrInvalidModel)
	}
	if txn.UserID == "" {
		return fmt.Errorf("%w: transaction missing user ID", ErrInvalidModel)
	}
	if txn.Date.IsZero() {
		return fmt.Errorf("%w: transaction missing date", ErrInvalidModel)
	}
	if txn.Description == "" {
		return fmt.Errorf("%w: transaction missing description", ErrInvalidModel)
	}
	return nil
}

// validatePrediction validates a category prediction.
func validatePrediction(prediction *model.CategoryPrediction) error {
	if prediction == nil {
		return fmt.Errorf("%w: prediction", ErrNilParameter)
	}
	if prediction.TransactionID == "" {
		return fmt.Errorf("%w: prediction missing transaction ID", ErrInvalidModel)
	}
	if !prediction.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidModel, prediction.Category)
	}
	if prediction.Confidence < 0 || prediction.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidModel)
	}
	return nil
}

// validateCorrection validates a correction record.
func validateCorrection(correction *model.CorrectionRecord) error {
	if correction == nil {
		return fmt.Errorf("%w: correction", ErrNilParameter)
	}
	if correction.TransactionID == "" {
		return fmt.Errorf("%w: correction missing transaction ID", ErrInvalidModel)
	}
	if !correction.CorrectedCategory.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidModel, correction.CorrectedCategory)
	}
	return nil
}

// validateAlert validates an alert.
func validateAlert(alert *model.Alert) error {
	if alert == nil {
		return fmt.Errorf("%w: alert", ErrNilParameter)
	}
	if alert.ID == "" {
		return fmt.Errorf("%w: alert missing ID", ErrInvalidModel)
	}
	if alert.UserID == "" {
		return fmt.Errorf("%w: alert missing user ID", ErrInvalidModel)
	}
	if alert.Window == "" {
		return fmt.Errorf("%w: alert missing window", ErrInvalidModel)
	}
	return nil
}

// validateJob validates a job.
func validateJob(job *model.Job) error {
	if job == nil {
		return fmt.Errorf("%w: job", ErrNilParameter)
	}
	if job.ID == "" {
		return fmt.Errorf("%w: job missing ID", ErrInvalidModel)
	}
	return nil
}
