package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/varo-app/varo/internal/common"
	"github.com/varo-app/varo/internal/model"
)

// SavePrediction appends a classification result. Predictions are immutable;
// later corrections supersede rather than mutate them.
func (s *SQLiteStorage) SavePrediction(ctx context.Context, prediction *model.CategoryPrediction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePrediction(prediction); err != nil {
		return err
	}

	alternatives, err := json.Marshal(prediction.Alternatives)
	if err != nil {
		return fmt.Errorf("failed to encode alternatives: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO predictions (transaction_id, category, confidence, source, model_version, alternatives, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, prediction.TransactionID, string(prediction.Category), prediction.Confidence,
		string(prediction.Source), prediction.ModelVersion, string(alternatives),
		prediction.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save prediction: %w", err)
	}
	return nil
}

// GetLatestPrediction returns the most recent prediction for a transaction.
func (s *SQLiteStorage) GetLatestPrediction(ctx context.Context, transactionID string) (*model.CategoryPrediction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(transactionID, "transactionID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT transaction_id, category, confidence, source, model_version, alternatives, created_at
		FROM predictions
		WHERE transaction_id = ?
		ORDER BY id DESC
		LIMIT 1
	`, transactionID)

	var prediction model.CategoryPrediction
	var category, source, alternatives string

	err := row.Scan(&prediction.TransactionID, &category, &prediction.Confidence,
		&source, &prediction.ModelVersion, &alternatives, &prediction.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("prediction for %s: %w", transactionID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction: %w", err)
	}

	prediction.Category = model.Category(category)
	prediction.Source = model.PredictionSource(source)
	if alternatives != "" && alternatives != "null" {
		if err := json.Unmarshal([]byte(alternatives), &prediction.Alternatives); err != nil {
			return nil, fmt.Errorf("failed to decode alternatives: %w", err)
		}
	}
	return &prediction, nil
}

// SaveCorrection appends a correction record. The corrections table is
// append-only; it is the retraining ground truth.
func (s *SQLiteStorage) SaveCorrection(ctx context.Context, correction *model.CorrectionRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateCorrection(correction); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO corrections (transaction_id, previous_category, corrected_category, confidence, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, correction.TransactionID, string(correction.PreviousCategory),
		string(correction.CorrectedCategory), correction.Confidence,
		correction.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save correction: %w", err)
	}

	if id, idErr := result.LastInsertId(); idErr == nil {
		correction.ID = id
	}
	return nil
}

// GetCorrections returns the full correction history, oldest first.
func (s *SQLiteStorage) GetCorrections(ctx context.Context) ([]model.CorrectionRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, previous_category, corrected_category, confidence, created_at
		FROM corrections
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query corrections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var corrections []model.CorrectionRecord
	for rows.Next() {
		var c model.CorrectionRecord
		var previous, corrected string
		if err := rows.Scan(&c.ID, &c.TransactionID, &previous, &corrected,
			&c.Confidence, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan correction: %w", err)
		}
		c.PreviousCategory = model.Category(previous)
		c.CorrectedCategory = model.Category(corrected)
		corrections = append(corrections, c)
	}
	return corrections, rows.Err()
}
