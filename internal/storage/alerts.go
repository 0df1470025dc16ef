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
	"github.com/varo-app/varo/internal/service"
)

// SaveAlert inserts an alert or updates it in place by id.
func (s *SQLiteStorage) SaveAlert(ctx context.Context, alert *model.Alert) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAlert(alert); err != nil {
		return err
	}

	evidence, err := json.Marshal(alert.Evidence)
	if err != nil {
		return fmt.Errorf("failed to encode alert evidence: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, user_id, window, type, severity, status, notes, evidence, created_at, acknowledged_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			severity = excluded.severity,
			status = excluded.status,
			notes = excluded.notes,
			evidence = excluded.evidence,
			acknowledged_at = excluded.acknowledged_at,
			resolved_at = excluded.resolved_at
	`, alert.ID, alert.UserID, alert.Window, string(alert.Type),
		string(alert.Severity), string(alert.Status), alert.Notes,
		string(evidence), alert.CreatedAt.UTC(),
		nullableTime(alert.AcknowledgedAt), nullableTime(alert.ResolvedAt))
	if err != nil {
		return fmt.Errorf("failed to save alert %s: %w", alert.ID, err)
	}
	return nil
}

// GetAlert retrieves a single alert by id.
func (s *SQLiteStorage) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, alertSelect+` WHERE id = ?`, id)

	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert %s: %w", id, err)
	}
	return alert, nil
}

// GetLiveAlert returns the active or acknowledged alert occupying the
// (user, type, window) slot, if any.
func (s *SQLiteStorage) GetLiveAlert(ctx context.Context, userID string, alertType model.AlertType, window string) (*model.Alert, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, alertSelect+`
		WHERE user_id = ? AND type = ? AND window = ?
		  AND status IN ('active', 'acknowledged')
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, string(alertType), window)

	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("live %s alert for %s in %s: %w", alertType, userID, window, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get live alert: %w", err)
	}
	return alert, nil
}

// ListAlerts returns alerts matching the filter, newest first.
func (s *SQLiteStorage) ListAlerts(ctx context.Context, filter service.AlertFilter) ([]model.Alert, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := alertSelect + ` WHERE 1=1`
	args := []any{}

	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []model.Alert
	for rows.Next() {
		alert, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", scanErr)
		}
		// Severity filtering happens here rather than in SQL so that the
		// ordering logic lives in one place, on the model type.
		if filter.Severity != "" && !alert.Severity.AtLeast(filter.Severity) {
			continue
		}
		alerts = append(alerts, *alert)
	}
	return alerts, rows.Err()
}

const alertSelect = `
	SELECT id, user_id, window, type, severity, status, notes, evidence, created_at, acknowledged_at, resolved_at
	FROM alerts`

func scanAlert(row scanner) (*model.Alert, error) {
	var alert model.Alert
	var alertType, severity, status string
	var notes, evidence sql.NullString
	var acknowledgedAt, resolvedAt sql.NullTime

	if err := row.Scan(&alert.ID, &alert.UserID, &alert.Window, &alertType,
		&severity, &status, &notes, &evidence, &alert.CreatedAt,
		&acknowledgedAt, &resolvedAt); err != nil {
		return nil, err
	}

	alert.Type = model.AlertType(alertType)
	alert.Severity = model.AlertSeverity(severity)
	alert.Status = model.AlertStatus(status)
	alert.Notes = notes.String
	if acknowledgedAt.Valid {
		t := acknowledgedAt.Time
		alert.AcknowledgedAt = &t
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		alert.ResolvedAt = &t
	}
	if evidence.Valid && evidence.String != "" {
		if err := json.Unmarshal([]byte(evidence.String), &alert.Evidence); err != nil {
			return nil, fmt.Errorf("failed to decode alert evidence: %w", err)
		}
	}
	return &alert, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
