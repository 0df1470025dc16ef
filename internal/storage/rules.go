package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/varo-app/varo/internal/model"
)

// GetActiveRules returns the active rule table, highest priority first.
func (s *SQLiteStorage) GetActiveRules(ctx context.Context) ([]model.Rule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, merchant_pattern, is_regex, amount_condition,
		       amount_value, amount_min, amount_max, category, priority,
		       confidence, use_count, is_active, created_at, updated_at
		FROM rules
		WHERE is_active = 1
		ORDER BY priority DESC, length(merchant_pattern) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.Rule
	for rows.Next() {
		var rule model.Rule
		var category string
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.MerchantPattern,
			&rule.IsRegex, &rule.AmountCondition, &rule.AmountValue,
			&rule.AmountMin, &rule.AmountMax, &category, &rule.Priority,
			&rule.Confidence, &rule.UseCount, &rule.IsActive,
			&rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rule.Category = model.Category(category)
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// SaveRule inserts a new rule or updates an existing one by id.
func (s *SQLiteStorage) SaveRule(ctx context.Context, rule *model.Rule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if rule == nil {
		return fmt.Errorf("%w: rule", ErrNilParameter)
	}
	if err := validateString(rule.MerchantPattern, "merchantPattern"); err != nil {
		return err
	}
	if !rule.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidModel, rule.Category)
	}

	now := time.Now().UTC()

	if rule.ID == 0 {
		result, err := s.db.ExecContext(ctx, `
			INSERT INTO rules (name, merchant_pattern, is_regex, amount_condition,
				amount_value, amount_min, amount_max, category, priority,
				confidence, use_count, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rule.Name, rule.MerchantPattern, rule.IsRegex, rule.AmountCondition,
			rule.AmountValue, rule.AmountMin, rule.AmountMax,
			string(rule.Category), rule.Priority, rule.Confidence,
			rule.UseCount, rule.IsActive, now, now)
		if err != nil {
			return fmt.Errorf("failed to insert rule: %w", err)
		}
		if id, idErr := result.LastInsertId(); idErr == nil {
			rule.ID = int(id)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE rules SET name = ?, merchant_pattern = ?, is_regex = ?,
			amount_condition = ?, amount_value = ?, amount_min = ?,
			amount_max = ?, category = ?, priority = ?, confidence = ?,
			is_active = ?, updated_at = ?
		WHERE id = ?
	`, rule.Name, rule.MerchantPattern, rule.IsRegex, rule.AmountCondition,
		rule.AmountValue, rule.AmountMin, rule.AmountMax,
		string(rule.Category), rule.Priority, rule.Confidence,
		rule.IsActive, now, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule %d: %w", rule.ID, err)
	}
	return nil
}

// IncrementRuleUseCount bumps a rule's use counter.
func (s *SQLiteStorage) IncrementRuleUseCount(ctx context.Context, id int) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE rules SET use_count = use_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to increment rule use count: %w", err)
	}
	return nil
}
