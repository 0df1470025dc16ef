package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/varo-app/varo/internal/common"
	"github.com/varo-app/varo/internal/model"
)

// GetMonitoringState loads a user's rolling spending baselines.
func (s *SQLiteStorage) GetMonitoringState(ctx context.Context, userID string) (*model.MonitoringState, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM monitoring_state WHERE user_id = ?`, userID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("monitoring state for %s: %w", userID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get monitoring state: %w", err)
	}

	var state model.MonitoringState
	if err := json.Unmarshal([]byte(blob), &state); err != nil {
		return nil, fmt.Errorf("failed to decode monitoring state: %w", err)
	}

	// Maps may be absent in older blobs; the watchdog assumes they exist.
	if state.Stats == nil {
		state.Stats = make(map[model.Category]*model.CategoryStats)
	}
	if state.WindowTotals == nil {
		state.WindowTotals = make(map[model.Category]float64)
	}
	if state.ActiveAnomalies == nil {
		state.ActiveAnomalies = make(map[string]bool)
	}
	state.UserID = userID
	return &state, nil
}

// SaveMonitoringState persists a user's rolling spending baselines.
func (s *SQLiteStorage) SaveMonitoringState(ctx context.Context, state *model.MonitoringState) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("%w: state", ErrNilParameter)
	}
	if err := validateString(state.UserID, "state.UserID"); err != nil {
		return err
	}

	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode monitoring state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO monitoring_state (user_id, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at
	`, state.UserID, string(blob), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save monitoring state: %w", err)
	}
	return nil
}
